package primitive

import (
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

// busyEvent spins on a shared word. It trades CPU for wake-up latency.
type busyEvent struct {
	auto  bool
	state *uint32
}

func (e *busyEvent) Size() int { return 4 }

func (e *busyEvent) Init(storage unsafe.Pointer, creator bool) error {
	if storage == nil {
		return ErrNilStorage
	}
	e.state = (*uint32)(storage)
	if creator {
		atomic.StoreUint32(e.state, 0)
	}
	return nil
}

func (e *busyEvent) Destroy() { e.state = nil }

func (e *busyEvent) Wait(timeout time.Duration) error {
	if e.state == nil {
		return ErrNilStorage
	}
	d := deadline(timeout)
	for {
		if e.auto {
			if atomic.CompareAndSwapUint32(e.state, 1, 0) {
				return nil
			}
		} else if atomic.LoadUint32(e.state) == 1 {
			return nil
		}
		if _, err := remaining(d); err != nil {
			return err
		}
		runtime.Gosched()
	}
}

func (e *busyEvent) Set(state State) error {
	if e.state == nil {
		return ErrNilStorage
	}
	if state == Signaled {
		atomic.StoreUint32(e.state, 1)
	} else {
		atomic.StoreUint32(e.state, 0)
	}
	return nil
}
