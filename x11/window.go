// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package x11

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/xwindow"

	"github.com/gviegas/present/bufq"
	"github.com/gviegas/present/compositor"
)

// ErrDepth means that the screen depth cannot show 32-bit
// pixels.
var ErrDepth = errors.New("x11: unsupported screen depth")

// Window is an X window that implements compositor.Window.
type Window struct {
	c     *Conn
	win   *xwindow.Window
	gc    xproto.Gcontext
	depth byte

	mu            sync.Mutex
	width, height int
	scratch       []byte
}

// NewWindow creates a top-level window.
func (c *Conn) NewWindow(width, height int, title string) (*Window, error) {
	w, err := c.newWindow(0, 0, width, height, false)
	if err != nil {
		return nil, err
	}
	if title != "" {
		if err := ewmh.WmNameSet(c.xu, w.win.Id, title); err != nil {
			c.log.Warn("window title not set", "call", "ewmh.WmNameSet", "error", err)
		}
	}
	return w, nil
}

func (c *Conn) newWindow(x, y, width, height int, override bool) (*Window, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("x11: invalid window size %dx%d", width, height)
	}
	scr := c.xu.Screen()
	if scr.RootDepth != 24 && scr.RootDepth != 32 {
		return nil, ErrDepth
	}
	win, err := xwindow.Generate(c.xu)
	if err != nil {
		return nil, err
	}
	// Values follow mask bit order.
	mask, vals := xproto.CwBackPixel, []uint32{0}
	if override {
		mask |= xproto.CwOverrideRedirect
		vals = append(vals, 1)
	}
	if err := win.CreateChecked(c.root, x, y, width, height, mask, vals...); err != nil {
		return nil, fmt.Errorf("x11: create window: %w", err)
	}
	gc, err := xproto.NewGcontextId(c.xu.Conn())
	if err != nil {
		win.Destroy()
		return nil, err
	}
	err = xproto.CreateGCChecked(c.xu.Conn(), gc, xproto.Drawable(win.Id),
		xproto.GcGraphicsExposures, []uint32{0}).Check()
	if err != nil {
		win.Destroy()
		return nil, fmt.Errorf("x11: create gc: %w", err)
	}
	return &Window{
		c:      c,
		win:    win,
		gc:     gc,
		depth:  scr.RootDepth,
		width:  width,
		height: height,
	}, nil
}

// ID returns the X window ID.
func (w *Window) ID() xproto.Window { return w.win.Id }

// Size implements compositor.Window.
func (w *Window) Size() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

// Map makes the window visible.
func (w *Window) Map() { w.win.Map() }

// Unmap hides the window.
func (w *Window) Unmap() { w.win.Unmap() }

// MoveResize changes the window geometry.
func (w *Window) MoveResize(x, y, width, height int) {
	w.mu.Lock()
	w.width, w.height = width, height
	w.mu.Unlock()
	w.win.MoveResize(x, y, width, height)
}

// Raise stacks the window above its siblings.
func (w *Window) Raise() { w.win.Stack(xproto.StackModeAbove) }

// Destroy destroys the window.
func (w *Window) Destroy() {
	xproto.FreeGC(w.c.xu.Conn(), w.gc)
	w.win.Destroy()
}

// Put uploads the contents of buf to the window.
func (w *Window) Put(buf *bufq.Buffer) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	rowBytes := buf.Width() * 4
	if n := rowBytes * buf.Height(); cap(w.scratch) < n {
		w.scratch = make([]byte, n)
	}
	data := w.scratch[:rowBytes*buf.Height()]
	if err := toBGRX(data, buf); err != nil {
		return err
	}
	bs, err := bands(buf.Height(), rowBytes, w.c.maxRequest())
	if err != nil {
		return err
	}
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	for _, b := range bs {
		xproto.PutImage(w.c.xu.Conn(), xproto.ImageFormatZPixmap, xproto.Drawable(w.win.Id), w.gc,
			uint16(buf.Width()), uint16(b.rows), 0, int16(b.y), 0, w.depth,
			data[b.y*rowBytes:(b.y+b.rows)*rowBytes])
	}
	return nil
}

// Sink implements compositor.Sink for windows created by
// Conn.NewWindow.
type Sink struct{}

// Show implements compositor.Sink.
func (Sink) Show(win compositor.Window, buf *bufq.Buffer) error {
	w, ok := win.(*Window)
	if !ok {
		return fmt.Errorf("x11: %T is not an X window", win)
	}
	return w.Put(buf)
}

// NewSession creates a compositor session that shows its
// buffers on X windows.
func NewSession(cfg compositor.HeadlessConfig) *compositor.Headless {
	cfg.Sink = Sink{}
	return compositor.NewHeadless(cfg)
}
