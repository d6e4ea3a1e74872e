package primitive

import (
	"time"
	"unsafe"
)

// noneLock provides no exclusion at all. It only marks a data range.
type noneLock struct{}

func (noneLock) Size() int { return 0 }

func (noneLock) Init(unsafe.Pointer, bool) error { return nil }

func (noneLock) Destroy() {}

func (noneLock) RLock() error { return nil }

func (noneLock) WLock() error { return nil }

func (noneLock) RLockTimeout(time.Duration) error { return nil }

func (noneLock) WLockTimeout(time.Duration) error { return nil }

func (noneLock) RUnlock() error { return nil }

func (noneLock) WUnlock() error { return nil }
