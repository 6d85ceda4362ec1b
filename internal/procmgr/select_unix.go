//go:build linux

package procmgr

import (
	"time"

	"golang.org/x/sys/unix"
)

// selectFDs runs one §4.G step-3/4 iteration: poll every dispatcher's
// readable()/writable(), build read/write fd sets, block in select(2) for
// up to timeout, and return the fds that became ready. Exactly one select
// call blocks per Supervisor Loop tick; everything else in the loop is
// non-blocking bookkeeping.
func selectFDs(dispatchers []Dispatcher, timeout time.Duration) (readyRead, readyWrite []Dispatcher, err error) {
	var rfds, wfds unix.FdSet
	maxFD := -1

	for _, d := range dispatchers {
		fd, ok := d.FD()
		if !ok {
			continue
		}
		if d.WantRead() {
			fdSet(&rfds, fd)
			if fd > maxFD {
				maxFD = fd
			}
		}
		if d.WantWrite() {
			fdSet(&wfds, fd)
			if fd > maxFD {
				maxFD = fd
			}
		}
	}

	if maxFD < 0 {
		// Nothing to wait on; still honor the timeout so the loop keeps
		// ticking (timer-driven transitions, e.g. backoff expiry).
		time.Sleep(timeout)
		return nil, nil, nil
	}

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	n, err := unix.Select(maxFD+1, &rfds, &wfds, nil, &tv)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	if n == 0 {
		return nil, nil, nil
	}

	for _, d := range dispatchers {
		fd, ok := d.FD()
		if !ok {
			continue
		}
		if d.WantRead() && fdIsSet(&rfds, fd) {
			readyRead = append(readyRead, d)
		}
		if d.WantWrite() && fdIsSet(&wfds, fd) {
			readyWrite = append(readyWrite, d)
		}
	}
	return readyRead, readyWrite, nil
}

// fdSet/fdIsSet/fdZero manipulate a unix.FdSet's Bits array directly since
// Go's x/sys/unix package ships FdSet as a plain struct, not the C macros.
func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}

func fdZero(set *unix.FdSet) {
	for i := range set.Bits {
		set.Bits[i] = 0
	}
}
