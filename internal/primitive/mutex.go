package primitive

import (
	"sync/atomic"
	"time"
	"unsafe"
)

// Mutex states.
const (
	unlocked  uint32 = 0
	locked    uint32 = 1
	contended uint32 = 2
)

// mutex is a futex-based exclusive lock. Readers and writers both take it
// exclusively.
type mutex struct {
	state *uint32
}

func (m *mutex) Size() int { return 4 }

func (m *mutex) Init(storage unsafe.Pointer, creator bool) error {
	if storage == nil {
		return ErrNilStorage
	}
	m.state = (*uint32)(storage)
	if creator {
		atomic.StoreUint32(m.state, unlocked)
	}
	return nil
}

func (m *mutex) Destroy() { m.state = nil }

// lock gives up with ErrTimeout once timeout elapses. A waiter that gives up
// leaves the word contended, which only costs the holder one extra wake.
func (m *mutex) lock(timeout time.Duration) error {
	if m.state == nil {
		return ErrNilStorage
	}
	if atomic.CompareAndSwapUint32(m.state, unlocked, locked) {
		return nil
	}
	d := deadline(timeout)
	c := atomic.LoadUint32(m.state)
	if c != contended {
		c = atomic.SwapUint32(m.state, contended)
	}
	for c != unlocked {
		left, err := remaining(d)
		if err != nil {
			return err
		}
		if err := futexWait(m.state, contended, left); err != nil && err != ErrTimeout {
			return err
		}
		c = atomic.SwapUint32(m.state, contended)
	}
	return nil
}

func (m *mutex) unlock() error {
	if m.state == nil {
		return ErrNilStorage
	}
	if atomic.AddUint32(m.state, ^uint32(0)) != unlocked {
		atomic.StoreUint32(m.state, unlocked)
		return futexWake(m.state, 1)
	}
	return nil
}

func (m *mutex) RLock() error { return m.lock(Infinite) }

func (m *mutex) WLock() error { return m.lock(Infinite) }

func (m *mutex) RLockTimeout(timeout time.Duration) error { return m.lock(timeout) }

func (m *mutex) WLockTimeout(timeout time.Duration) error { return m.lock(timeout) }

func (m *mutex) RUnlock() error { return m.unlock() }

func (m *mutex) WUnlock() error { return m.unlock() }
