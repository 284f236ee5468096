// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package x11

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/BurntSushi/xgb/dpms"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/gviegas/present/bufq"
	"github.com/gviegas/present/display"
)

type completion struct {
	h    display.CommitHandler
	seq  uint64
	when time.Time
}

// Display is a display.Display backed by the RandR outputs
// of an X server.
// Each layer is an override-redirect window placed over
// its output. A commit completes once the server has
// processed the uploads, and its handler runs in the next
// call to HandleEvents.
type Display struct {
	c       *Conn
	outputs []display.Output
	dpms    bool
	events  chan completion

	mu     sync.Mutex
	closed bool
}

// Display enumerates the outputs of the server. Every
// connected output that drives a CRTC gets nlayers layers.
func (c *Conn) Display(nlayers int) (*Display, error) {
	conn := c.xu.Conn()
	if err := randr.Init(conn); err != nil {
		return nil, fmt.Errorf("randr init failed: %w", err)
	}
	d := &Display{c: c, events: make(chan completion, 16)}
	if err := dpms.Init(conn); err != nil {
		c.log.Warn("DPMS not available", "call", "dpms.Init", "error", err)
	} else {
		d.dpms = true
	}

	res, err := randr.GetScreenResources(conn, c.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}
	infos := modeInfos(res)
	for _, id := range res.Outputs {
		oi, err := randr.GetOutputInfo(conn, id, res.ConfigTimestamp).Reply()
		if err != nil {
			c.log.Warn("output skipped", "call", "randr.GetOutputInfo", "error", err)
			continue
		}
		o := &output{
			d:         d,
			id:        id,
			name:      string(oi.Name),
			mmW:       int(oi.MmWidth),
			mmH:       int(oi.MmHeight),
			connected: oi.Connection == randr.ConnectionConnected,
			crtc:      oi.Crtc,
			cfgTime:   res.ConfigTimestamp,
			ids:       make(map[display.Mode]randr.Mode),
		}
		for i, m := range oi.Modes {
			dm, ok := infos[m]
			if !ok {
				continue
			}
			dm.Preferred = i < int(oi.NumPreferred)
			o.modes = append(o.modes, dm)
			o.ids[dm] = m
		}
		if o.connected && o.crtc != 0 {
			ci, err := randr.GetCrtcInfo(conn, o.crtc, res.ConfigTimestamp).Reply()
			if err != nil {
				c.log.Warn("output has no usable CRTC", "output", o.name, "call", "randr.GetCrtcInfo", "error", err)
			} else {
				o.x, o.y = int(ci.X), int(ci.Y)
				for dm, id := range o.ids {
					if id == ci.Mode {
						o.mode, o.hasMode = dm, true
					}
				}
				if err := o.createLayers(nlayers, int(ci.Width), int(ci.Height)); err != nil {
					d.Close()
					return nil, err
				}
			}
		}
		d.outputs = append(d.outputs, o)
	}
	c.log.Info("x11 display enumerated", "outputs", len(d.outputs))
	return d, nil
}

// modeInfos maps the modes of res to display modes.
func modeInfos(res *randr.GetScreenResourcesReply) map[randr.Mode]display.Mode {
	m := make(map[randr.Mode]display.Mode, len(res.Modes))
	names := res.Names
	for _, mi := range res.Modes {
		n := min(int(mi.NameLen), len(names))
		m[randr.Mode(mi.Id)] = display.Mode{
			Name:    string(names[:n]),
			Width:   int(mi.Width),
			Height:  int(mi.Height),
			Refresh: refreshRate(mi),
		}
		names = names[n:]
	}
	return m
}

// refreshRate returns the vertical refresh rate of mi in
// hertz, rounded to the nearest integer.
func refreshRate(mi randr.ModeInfo) int {
	if mi.Htotal == 0 || mi.Vtotal == 0 {
		return 0
	}
	return int(math.Round(float64(mi.DotClock) / (float64(mi.Htotal) * float64(mi.Vtotal))))
}

// Outputs implements display.Display.
func (d *Display) Outputs() []display.Output { return slices.Clone(d.outputs) }

// HandleEvents implements display.Display.
func (d *Display) HandleEvents() error {
	if d.isClosed() {
		return display.ErrClosed
	}
	for {
		select {
		case ev := <-d.events:
			ev.h(ev.seq, ev.when)
		default:
			return nil
		}
	}
}

func (d *Display) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close implements display.Display.
// It does not close the connection.
func (d *Display) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return display.ErrClosed
	}
	d.closed = true
	d.mu.Unlock()
	for _, o := range d.outputs {
		for _, l := range o.(*output).layers {
			l.win.Destroy()
		}
	}
	for {
		select {
		case <-d.events:
		default:
			return nil
		}
	}
}

type output struct {
	d         *Display
	id        randr.Output
	name      string
	mmW, mmH  int
	connected bool
	crtc      randr.Crtc
	cfgTime   xproto.Timestamp
	modes     []display.Mode
	ids       map[display.Mode]randr.Mode
	layers    []*layer

	mu      sync.Mutex
	x, y    int
	mode    display.Mode
	hasMode bool
	seq     uint64
}

func (o *output) createLayers(n, width, height int) error {
	for i := range n {
		win, err := o.d.c.newWindow(o.x, o.y, width, height, true)
		if err != nil {
			return fmt.Errorf("x11: layer window: %w", err)
		}
		caps := display.CapGraphic
		if i == 0 {
			caps |= display.CapPrimary
		} else {
			caps |= display.CapOverlay
		}
		o.layers = append(o.layers, &layer{o: o, win: win, caps: caps, zpos: i})
	}
	return nil
}

func (o *output) Name() string { return o.name }

func (o *output) PhysicalSize() (int, int) { return o.mmW, o.mmH }

func (o *output) Connected() bool { return o.connected }

func (o *output) Modes() []display.Mode { return slices.Clone(o.modes) }

func (o *output) Mode() (display.Mode, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode, o.hasMode
}

func (o *output) SetMode(m display.Mode) error {
	id, ok := o.ids[m]
	if !ok || o.crtc == 0 {
		return display.ErrMode
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.hasMode && o.mode == m {
		return nil
	}
	conn := o.d.c.xu.Conn()
	r, err := randr.SetCrtcConfig(conn, o.crtc, xproto.TimeCurrentTime, o.cfgTime,
		int16(o.x), int16(o.y), id, randr.RotationRotate0, []randr.Output{o.id}).Reply()
	if err != nil {
		return fmt.Errorf("x11: set mode: %w", err)
	}
	if r.Status != randr.SetConfigSuccess {
		return fmt.Errorf("%w: RandR status %d", display.ErrMode, r.Status)
	}
	o.mode, o.hasMode = m, true
	for _, l := range o.layers {
		l.win.MoveResize(o.x, o.y, m.Width, m.Height)
	}
	return nil
}

func (o *output) DPMS() (display.DPMS, error) {
	if !o.d.dpms {
		return display.DPMSOn, nil
	}
	r, err := dpms.Info(o.d.c.xu.Conn()).Reply()
	if err != nil {
		return 0, err
	}
	if !r.State {
		return display.DPMSOn, nil
	}
	switch r.PowerLevel {
	case dpms.DPMSModeStandby:
		return display.DPMSStandby, nil
	case dpms.DPMSModeSuspend:
		return display.DPMSSuspend, nil
	case dpms.DPMSModeOff:
		return display.DPMSOff, nil
	}
	return display.DPMSOn, nil
}

func (o *output) SetDPMS(s display.DPMS) error {
	var lvl uint16
	switch s {
	case display.DPMSOn:
		lvl = dpms.DPMSModeOn
	case display.DPMSStandby:
		lvl = dpms.DPMSModeStandby
	case display.DPMSSuspend:
		lvl = dpms.DPMSModeSuspend
	case display.DPMSOff:
		lvl = dpms.DPMSModeOff
	default:
		return display.ErrMode
	}
	if !o.d.dpms {
		return nil
	}
	conn := o.d.c.xu.Conn()
	if s != display.DPMSOn {
		if err := dpms.EnableChecked(conn).Check(); err != nil {
			return err
		}
	}
	return dpms.ForceLevelChecked(conn, lvl).Check()
}

func (o *output) Layers() []display.Layer {
	ls := make([]display.Layer, len(o.layers))
	for i, l := range o.layers {
		ls[i] = l
	}
	return ls
}

func (o *output) Commit(h display.CommitHandler) error {
	if o.d.isClosed() {
		return display.ErrClosed
	}
	if !o.connected {
		return display.ErrDisconnected
	}
	for _, l := range o.layers {
		if err := l.latch(); err != nil {
			return err
		}
	}
	if err := o.d.c.sync(); err != nil {
		return fmt.Errorf("x11: commit: %w", err)
	}
	o.mu.Lock()
	o.seq++
	ev := completion{h, o.seq, time.Now()}
	o.mu.Unlock()
	select {
	case o.d.events <- ev:
		return nil
	default:
		return display.ErrBusy
	}
}

type layer struct {
	o    *output
	win  *Window
	caps display.LayerCaps
	zpos int

	mu      sync.Mutex
	info    display.LayerInfo
	pending *bufq.Buffer
	mapped  bool
}

func (l *layer) Caps() display.LayerCaps { return l.caps }

func (l *layer) Zpos() int { return l.zpos }

func (l *layer) SetInfo(info display.LayerInfo) error {
	if info.Transform != display.TransformNormal {
		return display.ErrMode
	}
	if info.DstPos.Width != info.SrcPos.Width || info.DstPos.Height != info.SrcPos.Height {
		// No scaling.
		return display.ErrMode
	}
	l.mu.Lock()
	l.info = info
	l.mu.Unlock()
	l.o.mu.Lock()
	x, y := l.o.x, l.o.y
	l.o.mu.Unlock()
	l.win.MoveResize(x+info.DstPos.X, y+info.DstPos.Y, info.DstPos.Width, info.DstPos.Height)
	return nil
}

func (l *layer) Info() display.LayerInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info
}

func (l *layer) SetBuffer(buf *bufq.Buffer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = buf
	return nil
}

// latch shows the pending buffer. A layer without a
// buffer is hidden.
func (l *layer) latch() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		if l.mapped {
			l.win.Unmap()
			l.mapped = false
		}
		return nil
	}
	if err := l.win.Put(l.pending); err != nil {
		return err
	}
	if !l.mapped {
		l.win.Map()
		l.win.Raise()
		l.mapped = true
	}
	return nil
}
