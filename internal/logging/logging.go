// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package logging holds the logger shared by every package
// of the module.
// By default nothing is logged.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler discards all records.
// Enabled reports false so callers skip formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNop() *slog.Logger { return slog.New(nopHandler{}) }

var ptr atomic.Pointer[slog.Logger]

func init() { ptr.Store(newNop()) }

// Set replaces the shared logger.
// A nil l restores the silent default.
// It is safe for concurrent use.
func Set(l *slog.Logger) {
	if l == nil {
		l = newNop()
	}
	ptr.Store(l)
}

// L returns the shared logger.
func L() *slog.Logger { return ptr.Load() }

// Nop returns a logger that discards everything.
func Nop() *slog.Logger { return newNop() }

// CallFailed logs the failure of a native call and returns err
// unchanged, so call sites can write
//
//	return logging.CallFailed(l, "bufq.Dequeue", err)
func CallFailed(l *slog.Logger, call string, err error) error {
	if l == nil {
		l = L()
	}
	l.Error("native call failed", "call", call, "error", err)
	return err
}

// ParseLevel converts a level name (debug, info, warn, error)
// into a slog.Level.
// Unknown names yield slog.LevelInfo and ok == false.
func ParseLevel(name string) (lvl slog.Level, ok bool) {
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, false
	}
	return lvl, true
}
