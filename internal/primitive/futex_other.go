//go:build !linux

package primitive

import (
	"runtime"
	"sync/atomic"
	"time"
)

const pollInterval = 50 * time.Microsecond

// futexWait polls *addr since there is no portable cross-process futex.
func futexWait(addr *uint32, val uint32, timeout time.Duration) error {
	runtime.Gosched()
	if atomic.LoadUint32(addr) != val {
		return nil
	}
	d := pollInterval
	if timeout >= 0 && timeout < d {
		d = timeout
	}
	time.Sleep(d)
	return nil
}

func futexWake(*uint32, int) error { return nil }
