// Copyright 2022 Gustavo C. Viegas. All rights reserved.

//go:build unix && !linux

package syncfd

import "golang.org/x/sys/unix"

// newEvent creates a pipe. wait is the read end and sig
// the write end.
func newEvent() (wait, sig int, err error) {
	var p [2]int
	if err = unix.Pipe(p[:]); err != nil {
		return NoFence, NoFence, err
	}
	for _, fd := range p {
		unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
	}
	unix.SetNonblock(p[1], true)
	return p[0], p[1], nil
}
