// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package syncfd

import "golang.org/x/sys/unix"

// newEvent creates an eventfd. wait is handed out to
// fence holders and sig is kept for signaling.
func newEvent() (wait, sig int, err error) {
	wait, err = unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return NoFence, NoFence, err
	}
	sig, err = unix.FcntlInt(uintptr(wait), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		unix.Close(wait)
		return NoFence, NoFence, err
	}
	return wait, sig, nil
}
