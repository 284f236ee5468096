// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package display defines the interface to display
// hardware: outputs, their modes and the overlay layers
// that scan out pixel buffers.
//
// Layer state is latched by Output.Commit. Completion of a
// commit is reported asynchronously to a CommitHandler,
// from whatever goroutine delivers display events.
package display

import (
	"errors"
	"fmt"
	"time"

	"github.com/gviegas/present/bufq"
)

var (
	// ErrBusy means that too many commits are pending
	// completion.
	ErrBusy = errors.New("display: too many pending commits")

	// ErrDisconnected means that an output has no
	// display attached.
	ErrDisconnected = errors.New("display: output disconnected")

	// ErrMode means that a mode is not supported by an
	// output.
	ErrMode = errors.New("display: unsupported mode")

	// ErrClosed means that the display was closed.
	ErrClosed = errors.New("display: closed")
)

// DPMS is a display power state.
type DPMS int

// Power states.
const (
	DPMSOn DPMS = iota
	DPMSStandby
	DPMSSuspend
	DPMSOff
)

func (d DPMS) String() string {
	switch d {
	case DPMSOn:
		return "on"
	case DPMSStandby:
		return "standby"
	case DPMSSuspend:
		return "suspend"
	case DPMSOff:
		return "off"
	}
	return fmt.Sprintf("DPMS(%d)", int(d))
}

// Transform is a layer transform.
type Transform int

// Transforms.
const (
	TransformNormal Transform = iota
	Transform90
	Transform180
	Transform270
	TransformFlipped
)

// Mode is a display mode.
type Mode struct {
	Name      string
	Width     int
	Height    int
	Refresh   int // Hz
	Preferred bool
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%d", m.Width, m.Height, m.Refresh)
}

// Rect is a rectangle in pixels.
type Rect struct {
	X, Y          int
	Width, Height int
}

// LayerInfo is the geometry and format of a layer.
type LayerInfo struct {
	// SrcWidth is the length of a source row in pixels,
	// padding included, and SrcHeight its row count.
	SrcWidth  int
	SrcHeight int
	// SrcPos is the region of the source that is shown.
	SrcPos Rect
	Format bufq.Format
	// DstPos is where SrcPos is placed on the output.
	DstPos    Rect
	Transform Transform
}

// LayerCaps is a mask of layer capabilities.
type LayerCaps uint

// Layer capabilities.
const (
	CapPrimary LayerCaps = 1 << iota
	CapOverlay
	CapCursor
	CapGraphic
	CapScale
	CapTransform
)

// CommitHandler is called once a commit completes.
// seq is the output's commit sequence number.
type CommitHandler func(seq uint64, when time.Time)

// Display is the interface to a display device.
type Display interface {
	// Outputs returns the outputs of the display.
	// The list does not change for the lifetime of
	// the Display.
	Outputs() []Output

	// HandleEvents delivers pending commit completions
	// from the calling goroutine.
	// It does not block.
	HandleEvents() error

	// Close closes the display.
	// Pending completions are dropped.
	Close() error
}

// Output is the interface to a display output.
type Output interface {
	// Name returns the name of the output.
	Name() string

	// PhysicalSize returns the physical dimensions of
	// the output in millimeters.
	PhysicalSize() (width, height int)

	// Connected reports whether a display is attached.
	Connected() bool

	// Modes returns the modes the output supports.
	Modes() []Mode

	// Mode returns the current mode.
	Mode() (Mode, bool)

	// SetMode sets the current mode.
	SetMode(Mode) error

	// DPMS returns the current power state.
	DPMS() (DPMS, error)

	// SetDPMS sets the power state.
	SetDPMS(DPMS) error

	// Layers returns the layers of the output, sorted
	// by z-order.
	Layers() []Layer

	// Commit latches the pending state of every layer.
	// h is called when the hardware starts scanning out
	// the new state.
	Commit(h CommitHandler) error
}

// Layer is the interface to an output layer.
type Layer interface {
	// Caps returns the capabilities of the layer.
	Caps() LayerCaps

	// Zpos returns the z-order of the layer.
	Zpos() int

	// SetInfo sets the geometry and format.
	SetInfo(LayerInfo) error

	// Info returns the geometry and format.
	Info() LayerInfo

	// SetBuffer sets the buffer shown on the next commit.
	// A nil buf disables the layer.
	SetBuffer(buf *bufq.Buffer) error
}

// FindMode returns the mode of out matching m's width,
// height and refresh rate. A zero refresh rate matches any.
func FindMode(out Output, m Mode) (Mode, bool) {
	for _, x := range out.Modes() {
		if x.Width == m.Width && x.Height == m.Height && (m.Refresh == 0 || x.Refresh == m.Refresh) {
			return x, true
		}
	}
	return Mode{}, false
}

// PreferredMode returns the preferred mode of out, or its
// first mode if none is preferred.
func PreferredMode(out Output) (Mode, bool) {
	modes := out.Modes()
	for _, m := range modes {
		if m.Preferred {
			return m, true
		}
	}
	if len(modes) > 0 {
		return modes[0], true
	}
	return Mode{}, false
}
