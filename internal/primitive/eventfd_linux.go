//go:build linux

package primitive

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// eventFD is backed by a kernel eventfd and uses no mapping bytes. Only the
// creating process owns a descriptor at first. Other processes receive a
// duplicate over a unix socket and Attach it.
type eventFD struct {
	auto bool
	fd   int
}

func newEventFD(auto bool) (Event, error) {
	return &eventFD{auto: auto, fd: -1}, nil
}

func (e *eventFD) Size() int { return 0 }

func (e *eventFD) Init(_ unsafe.Pointer, creator bool) error {
	if !creator {
		return nil
	}
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return err
	}
	e.fd = fd
	return nil
}

func (e *eventFD) Destroy() {
	if e.fd >= 0 {
		_ = unix.Close(e.fd)
		e.fd = -1
	}
}

func (e *eventFD) FD() int { return e.fd }

func (e *eventFD) Attach(fd int) error {
	if fd < 0 {
		return unix.EBADF
	}
	e.Destroy()
	e.fd = fd
	return nil
}

func (e *eventFD) Wait(timeout time.Duration) error {
	if e.fd < 0 {
		return ErrNotAttached
	}
	d := deadline(timeout)
	for {
		fds := []unix.PollFd{{Fd: int32(e.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollTimeout(d))
		if err != nil && !errors.Is(err, unix.EINTR) {
			return err
		}
		if n <= 0 {
			if _, err := remaining(d); err != nil {
				return err
			}
			continue
		}
		if !e.auto {
			return nil
		}
		// Consume the signal. Another waiter may have been faster.
		var buf [8]byte
		if _, err := unix.Read(e.fd, buf[:]); err != nil {
			if !errors.Is(err, unix.EAGAIN) {
				return err
			}
			if _, err := remaining(d); err != nil {
				return err
			}
			continue
		}
		return nil
	}
}

// pollTimeout converts d into a poll timeout in milliseconds, rounded up.
// Long timeouts are capped at the largest value poll accepts; the wait loop
// polls again until d has passed.
func pollTimeout(d time.Time) int {
	if d.IsZero() {
		return -1
	}
	left := max(time.Until(d), 0)
	ms := (left + time.Millisecond - 1) / time.Millisecond
	return int(min(ms, math.MaxInt32))
}

func (e *eventFD) Set(state State) error {
	if e.fd < 0 {
		return ErrNotAttached
	}
	var buf [8]byte
	if state != Signaled {
		if _, err := unix.Read(e.fd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
			return err
		}
		return nil
	}
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(e.fd, buf[:])
	return err
}
