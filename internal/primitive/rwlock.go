package primitive

import (
	"math"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	writerBit  uint32 = 1 << 31
	readerMask        = writerBit - 1
)

// rwLock is a reader/writer lock over two shared words: a state word holding
// the writer bit and reader count, and a sequence word every waiter sleeps on.
// Each unlock bumps the sequence and wakes all waiters, which then retry.
type rwLock struct {
	state *uint32
	seq   *uint32
}

func (l *rwLock) Size() int { return 8 }

func (l *rwLock) Init(storage unsafe.Pointer, creator bool) error {
	if storage == nil {
		return ErrNilStorage
	}
	l.state = (*uint32)(storage)
	l.seq = (*uint32)(unsafe.Add(storage, 4))
	if creator {
		atomic.StoreUint32(l.state, 0)
		atomic.StoreUint32(l.seq, 0)
	}
	return nil
}

func (l *rwLock) Destroy() { l.state, l.seq = nil, nil }

func (l *rwLock) RLock() error { return l.RLockTimeout(Infinite) }

func (l *rwLock) WLock() error { return l.WLockTimeout(Infinite) }

func (l *rwLock) RLockTimeout(timeout time.Duration) error {
	if l.state == nil {
		return ErrNilStorage
	}
	d := deadline(timeout)
	for {
		seq := atomic.LoadUint32(l.seq)
		s := atomic.LoadUint32(l.state)
		if s&writerBit == 0 && s&readerMask != readerMask {
			if atomic.CompareAndSwapUint32(l.state, s, s+1) {
				return nil
			}
			continue
		}
		if err := l.sleep(seq, d); err != nil {
			return err
		}
	}
}

func (l *rwLock) WLockTimeout(timeout time.Duration) error {
	if l.state == nil {
		return ErrNilStorage
	}
	d := deadline(timeout)
	for {
		seq := atomic.LoadUint32(l.seq)
		if atomic.CompareAndSwapUint32(l.state, 0, writerBit) {
			return nil
		}
		if err := l.sleep(seq, d); err != nil {
			return err
		}
	}
}

// sleep waits for the sequence word to move past seq or for d to pass.
func (l *rwLock) sleep(seq uint32, d time.Time) error {
	left, err := remaining(d)
	if err != nil {
		return err
	}
	if err := futexWait(l.seq, seq, left); err != nil && err != ErrTimeout {
		return err
	}
	return nil
}

func (l *rwLock) RUnlock() error {
	if l.state == nil {
		return ErrNilStorage
	}
	if atomic.AddUint32(l.state, ^uint32(0))&readerMask == 0 {
		return l.release()
	}
	return nil
}

func (l *rwLock) WUnlock() error {
	if l.state == nil {
		return ErrNilStorage
	}
	atomic.StoreUint32(l.state, 0)
	return l.release()
}

func (l *rwLock) release() error {
	atomic.AddUint32(l.seq, 1)
	return futexWake(l.seq, math.MaxInt32)
}
