// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package x11 presents buffers on an X server.
//
// Window turns an X window into a compositor.Window whose
// contents are uploaded with PutImage, and Sink feeds the
// buffers a compositor session shows into such windows.
// Display exposes the RandR outputs of the server as a
// display.Display whose layers are override-redirect
// windows stacked over each output.
package x11

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"

	"github.com/gviegas/present/internal/logging"
)

// Conn is a connection to an X server.
type Conn struct {
	xu   *xgbutil.XUtil
	root xproto.Window
	log  *slog.Logger

	// Serializes multi-request sequences.
	mu sync.Mutex
}

// Dial connects to the X server named by display.
// An empty display uses $DISPLAY.
func Dial(display string) (*Conn, error) {
	var (
		xu  *xgbutil.XUtil
		err error
	)
	if display == "" {
		xu, err = xgbutil.NewConn()
	} else {
		xu, err = xgbutil.NewConnDisplay(display)
	}
	if err != nil {
		return nil, fmt.Errorf("x11: connect: %w", err)
	}
	c := &Conn{
		xu:   xu,
		root: xu.RootWin(),
		log:  logging.L().With("x11", display),
	}
	scr := xu.Screen()
	c.log.Debug("x11 connected", "screen", fmt.Sprintf("%dx%d", scr.WidthInPixels, scr.HeightInPixels), "depth", scr.RootDepth)
	return c, nil
}

// Close closes the connection.
func (c *Conn) Close() { c.xu.Conn().Close() }

// sync waits until the server has processed every request
// sent so far.
func (c *Conn) sync() error {
	_, err := xproto.GetInputFocus(c.xu.Conn()).Reply()
	return err
}

// maxRequest returns the largest request size, in bytes.
func (c *Conn) maxRequest() int {
	return int(c.xu.Setup().MaximumRequestLength) * 4
}
