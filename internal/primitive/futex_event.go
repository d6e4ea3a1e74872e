package primitive

import (
	"math"
	"sync/atomic"
	"time"
	"unsafe"
)

// futexEvent sleeps in the kernel on a shared word. Auto events release a
// single waiter per signal, manual events release all of them.
type futexEvent struct {
	auto  bool
	state *uint32
}

func (e *futexEvent) Size() int { return 4 }

func (e *futexEvent) Init(storage unsafe.Pointer, creator bool) error {
	if storage == nil {
		return ErrNilStorage
	}
	e.state = (*uint32)(storage)
	if creator {
		atomic.StoreUint32(e.state, 0)
	}
	return nil
}

func (e *futexEvent) Destroy() { e.state = nil }

func (e *futexEvent) Wait(timeout time.Duration) error {
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
		left, err := remaining(d)
		if err != nil {
			return err
		}
		if err := futexWait(e.state, 0, left); err != nil && err != ErrTimeout {
			return err
		}
	}
}

func (e *futexEvent) Set(state State) error {
	if e.state == nil {
		return ErrNilStorage
	}
	if state != Signaled {
		atomic.StoreUint32(e.state, 0)
		return nil
	}
	atomic.StoreUint32(e.state, 1)
	n := math.MaxInt32
	if e.auto {
		n = 1
	}
	return futexWake(e.state, n)
}
