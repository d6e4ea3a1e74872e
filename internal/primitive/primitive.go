// Package primitive implements the synchronization kinds that can be placed
// inside a shared mapping.
//
// Every kind is identified by a small numeric uid that is written into the
// mapping metadata. A process opening the mapping reconstructs the kind from
// that uid and from then on only talks to it through the Lock or Event
// interface. Storage sizes never depend on the platform so the metadata layout
// stays identical across backends.
package primitive

import (
	"errors"
	"fmt"
	"time"
	"unsafe"
)

var (
	// ErrTimeout is returned when a wait did not complete before its timeout.
	ErrTimeout = errors.New("timed out")
	// ErrUnknownKind is returned for a lock or event uid that has no implementation.
	ErrUnknownKind = errors.New("unknown primitive uid")
	// ErrUnsupportedKind is returned when a kind exists but not on this platform.
	ErrUnsupportedKind = errors.New("primitive kind is not supported on this platform")
	// ErrNilStorage is returned when a kind that needs mapping bytes was given none.
	ErrNilStorage = errors.New("primitive storage is nil")
	// ErrNotAttached is returned by descriptor-backed events that have no descriptor yet.
	ErrNotAttached = errors.New("event has no attached file descriptor")
)

// Infinite disables the timeout of a wait.
const Infinite time.Duration = -1

// LockID is the uid of a lock kind.
type LockID uint8

// Lock kinds. The values are part of the mapping format.
const (
	MutexID LockID = iota
	RwLockID
	NoneID
)

// EventID is the uid of an event kind.
type EventID uint8

// Event kinds. The values are part of the mapping format.
const (
	AutoBusyID EventID = iota
	ManualBusyID
	AutoID
	ManualID
	AutoEventFdID
	ManualEventFdID
)

// State is the state an event can be set to.
type State int

const (
	// Wait makes subsequent waits block.
	Wait State = iota
	// Signaled releases waiters. Auto events fall back to Wait once one waiter
	// has been released.
	Signaled
)

func (s State) String() string {
	switch s {
	case Wait:
		return "wait"
	case Signaled:
		return "signaled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Lock is the capability set of a lock kind.
type Lock interface {
	// Size returns the number of mapping bytes the lock occupies.
	Size() int
	// Init binds the lock to its storage. The creator initializes the
	// storage, openers only attach to it.
	Init(storage unsafe.Pointer, creator bool) error
	// Destroy releases process-local resources. The shared state is untouched.
	Destroy()
	RLock() error
	WLock() error
	// RLockTimeout and WLockTimeout give up with ErrTimeout once timeout
	// elapses. Infinite waits like RLock and WLock.
	RLockTimeout(timeout time.Duration) error
	WLockTimeout(timeout time.Duration) error
	RUnlock() error
	WUnlock() error
}

// Event is the capability set of an event kind.
type Event interface {
	// Size returns the number of mapping bytes the event occupies. Kinds
	// backed entirely by kernel objects return 0.
	Size() int
	Init(storage unsafe.Pointer, creator bool) error
	Destroy()
	// Wait blocks until the event is signaled or timeout elapses.
	Wait(timeout time.Duration) error
	// Set changes the event state. It never blocks.
	Set(state State) error
}

// FDEvent is implemented by events backed by a file descriptor that has to be
// handed to other processes out of band.
type FDEvent interface {
	Event
	// FD returns the descriptor or -1 when none is attached.
	FD() int
	// Attach takes ownership of fd.
	Attach(fd int) error
}

// NewLock returns a fresh, unbound lock of the given kind.
func NewLock(id LockID) (Lock, error) {
	switch id {
	case MutexID:
		return &mutex{}, nil
	case RwLockID:
		return &rwLock{}, nil
	case NoneID:
		return noneLock{}, nil
	}
	return nil, fmt.Errorf("%w: lock %d", ErrUnknownKind, id)
}

// NewEvent returns a fresh, unbound event of the given kind.
func NewEvent(id EventID) (Event, error) {
	switch id {
	case AutoBusyID:
		return &busyEvent{auto: true}, nil
	case ManualBusyID:
		return &busyEvent{}, nil
	case AutoID:
		return &futexEvent{auto: true}, nil
	case ManualID:
		return &futexEvent{}, nil
	case AutoEventFdID:
		return newEventFD(true)
	case ManualEventFdID:
		return newEventFD(false)
	}
	return nil, fmt.Errorf("%w: event %d", ErrUnknownKind, id)
}

// LockSize returns the storage size of a lock kind.
func LockSize(id LockID) (int, error) {
	l, err := NewLock(id)
	if err != nil {
		return 0, err
	}
	return l.Size(), nil
}

// EventSize returns the storage size of an event kind.
func EventSize(id EventID) (int, error) {
	switch id {
	case AutoEventFdID, ManualEventFdID:
		// Sized without creating the kernel object.
		return 0, nil
	}
	e, err := NewEvent(id)
	if err != nil {
		return 0, err
	}
	return e.Size(), nil
}

// deadline converts a timeout into an absolute deadline. The zero time means
// no deadline.
func deadline(timeout time.Duration) time.Time {
	if timeout < 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// remaining returns the time left before d, Infinite for no deadline, or
// ErrTimeout once d has passed.
func remaining(d time.Time) (time.Duration, error) {
	if d.IsZero() {
		return Infinite, nil
	}
	left := time.Until(d)
	if left <= 0 {
		return 0, ErrTimeout
	}
	return left, nil
}
