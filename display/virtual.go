// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package display

import (
	"slices"
	"sync"
	"time"

	"github.com/gviegas/present/bufq"
	"github.com/gviegas/present/internal/logging"
)

// OutputConfig describes an output of a Virtual display.
type OutputConfig struct {
	Name         string
	PhysWidth    int // mm
	PhysHeight   int // mm
	Modes        []Mode
	Layers       int
	Disconnected bool
	DPMS         DPMS
}

// VirtualConfig configures a Virtual display.
type VirtualConfig struct {
	Outputs []OutputConfig

	// Queue bounds the number of commits pending
	// completion. Zero means 16.
	Queue int

	// Refresh, if not zero, starts an event goroutine
	// that delivers one completion per Refresh period.
	Refresh time.Duration

	// Deferred holds completions until Deliver is called.
	// HandleEvents then delivers nothing.
	Deferred bool

	// OnScanout, if not nil, is called with the buffers
	// latched by each commit, in z-order.
	OnScanout func(out Output, bufs []*bufq.Buffer)
}

// DefaultVirtual returns a configuration with a single
// 1920x1080 output with two layers.
func DefaultVirtual() VirtualConfig {
	return VirtualConfig{
		Outputs: []OutputConfig{{
			Name:       "VIRTUAL-1",
			PhysWidth:  527,
			PhysHeight: 296,
			Modes: []Mode{
				{Name: "1920x1080", Width: 1920, Height: 1080, Refresh: 60, Preferred: true},
				{Name: "1280x720", Width: 1280, Height: 720, Refresh: 60},
			},
			Layers: 2,
			DPMS:   DPMSOff,
		}},
	}
}

type event struct {
	h    CommitHandler
	seq  uint64
	when time.Time
}

// Virtual is an in-process Display.
// Commits complete when their event is delivered, either
// by HandleEvents, by the event goroutine or by Deliver.
type Virtual struct {
	cfg     VirtualConfig
	outputs []Output
	events  chan event
	done    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	delivered int
}

// NewVirtual creates a Virtual display.
func NewVirtual(cfg VirtualConfig) *Virtual {
	n := cfg.Queue
	if n <= 0 {
		n = 16
	}
	v := &Virtual{
		cfg:    cfg,
		events: make(chan event, n),
		done:   make(chan struct{}),
	}
	for _, oc := range cfg.Outputs {
		o := &vOutput{v: v, cfg: oc, dpms: oc.DPMS}
		if m, ok := PreferredMode(o); ok {
			o.mode, o.hasMode = m, true
		}
		for i := range oc.Layers {
			caps := CapGraphic | CapScale
			if i == 0 {
				caps |= CapPrimary
			} else {
				caps |= CapOverlay
			}
			o.layers = append(o.layers, &vLayer{o: o, caps: caps, zpos: i})
		}
		v.outputs = append(v.outputs, o)
	}
	if cfg.Refresh > 0 && !cfg.Deferred {
		v.wg.Add(1)
		go v.run()
	}
	return v
}

// run is the event goroutine.
func (v *Virtual) run() {
	defer v.wg.Done()
	tick := time.NewTicker(v.cfg.Refresh)
	defer tick.Stop()
	for {
		select {
		case <-v.done:
			return
		case <-tick.C:
		}
		select {
		case <-v.done:
			return
		case ev := <-v.events:
			v.deliver(ev)
		}
	}
}

func (v *Virtual) deliver(ev event) {
	ev.h(ev.seq, ev.when)
	v.mu.Lock()
	v.delivered++
	v.mu.Unlock()
}

// Outputs implements Display.
func (v *Virtual) Outputs() []Output { return slices.Clone(v.outputs) }

// HandleEvents implements Display.
func (v *Virtual) HandleEvents() error {
	if v.isClosed() {
		return ErrClosed
	}
	if v.cfg.Deferred || v.cfg.Refresh > 0 {
		return nil
	}
	for {
		select {
		case ev := <-v.events:
			v.deliver(ev)
		default:
			return nil
		}
	}
}

// Deliver delivers up to n pending completions from the
// calling goroutine and returns how many were delivered.
func (v *Virtual) Deliver(n int) int {
	i := 0
	for ; i < n; i++ {
		select {
		case ev := <-v.events:
			v.deliver(ev)
		default:
			return i
		}
	}
	return i
}

// Inject queues a synthetic completion for h.
func (v *Virtual) Inject(h CommitHandler, seq uint64) error {
	select {
	case v.events <- event{h, seq, time.Now()}:
		return nil
	default:
		return ErrBusy
	}
}

// Pending returns the number of completions not yet
// delivered.
func (v *Virtual) Pending() int { return len(v.events) }

// Delivered returns the number of completions delivered.
func (v *Virtual) Delivered() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.delivered
}

func (v *Virtual) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Close implements Display.
func (v *Virtual) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	v.closed = true
	v.mu.Unlock()
	close(v.done)
	v.wg.Wait()
	for {
		select {
		case <-v.events:
		default:
			return nil
		}
	}
}

type vOutput struct {
	v   *Virtual
	cfg OutputConfig

	mu      sync.Mutex
	mode    Mode
	hasMode bool
	dpms    DPMS
	layers  []*vLayer
	seq     uint64
	commits int
}

func (o *vOutput) Name() string { return o.cfg.Name }

func (o *vOutput) PhysicalSize() (int, int) { return o.cfg.PhysWidth, o.cfg.PhysHeight }

func (o *vOutput) Connected() bool { return !o.cfg.Disconnected }

func (o *vOutput) Modes() []Mode { return slices.Clone(o.cfg.Modes) }

func (o *vOutput) Mode() (Mode, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode, o.hasMode
}

func (o *vOutput) SetMode(m Mode) error {
	if !slices.Contains(o.cfg.Modes, m) {
		return ErrMode
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mode, o.hasMode = m, true
	return nil
}

func (o *vOutput) DPMS() (DPMS, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dpms, nil
}

func (o *vOutput) SetDPMS(d DPMS) error {
	if d < DPMSOn || d > DPMSOff {
		return ErrMode
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dpms = d
	return nil
}

func (o *vOutput) Layers() []Layer {
	ls := make([]Layer, len(o.layers))
	for i, l := range o.layers {
		ls[i] = l
	}
	return ls
}

func (o *vOutput) Commit(h CommitHandler) error {
	if o.v.isClosed() {
		return ErrClosed
	}
	if o.cfg.Disconnected {
		return ErrDisconnected
	}
	o.mu.Lock()
	var bufs []*bufq.Buffer
	for _, l := range o.layers {
		l.mu.Lock()
		l.scanout = l.pending
		if l.scanout != nil {
			bufs = append(bufs, l.scanout)
		}
		l.mu.Unlock()
	}
	o.seq++
	ev := event{h, o.seq, time.Now()}
	select {
	case o.v.events <- ev:
	default:
		o.seq--
		o.mu.Unlock()
		return ErrBusy
	}
	o.commits++
	o.mu.Unlock()

	logging.L().Debug("display commit", "output", o.cfg.Name, "seq", ev.seq)
	if o.v.cfg.OnScanout != nil {
		o.v.cfg.OnScanout(o, bufs)
	}
	return nil
}

// Commits returns the number of commits issued on out,
// which must be an output of a Virtual display.
func Commits(out Output) int {
	o := out.(*vOutput)
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.commits
}

// Scanout returns the buffer latched by the last commit
// of layer, which must be a layer of a Virtual display.
func Scanout(layer Layer) *bufq.Buffer {
	l := layer.(*vLayer)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scanout
}

type vLayer struct {
	o    *vOutput
	caps LayerCaps
	zpos int

	mu      sync.Mutex
	info    LayerInfo
	pending *bufq.Buffer
	scanout *bufq.Buffer
}

func (l *vLayer) Caps() LayerCaps { return l.caps }

func (l *vLayer) Zpos() int { return l.zpos }

func (l *vLayer) SetInfo(info LayerInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.info = info
	return nil
}

func (l *vLayer) Info() LayerInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info
}

func (l *vLayer) SetBuffer(buf *bufq.Buffer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = buf
	return nil
}
