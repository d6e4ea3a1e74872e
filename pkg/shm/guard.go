package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	internalshm "github.com/srediag/shmem/internal/shm"
)

// guard holds a lock until released. Release runs at most once.
type guard struct {
	l     *lock
	write bool
	done  atomic.Bool
}

// Release unlocks the guarded lock. The data view must not be used
// afterwards. Releasing twice returns ErrGuardReleased.
func (g *guard) Release() error {
	if !g.done.CompareAndSwap(false, true) {
		return ErrGuardReleased
	}
	return release(g.l, g.write)
}

// Released reports whether Release has been called.
func (g *guard) Released() bool { return g.done.Load() }

// ReadGuard is shared access to a T in user data.
type ReadGuard[T any] struct {
	guard
	ptr *T
}

// Load returns a copy of the guarded value.
func (g *ReadGuard[T]) Load() T { return *g.ptr }

// Get returns the guarded value in place. It must only be read, and only
// until Release.
func (g *ReadGuard[T]) Get() *T { return g.ptr }

// WriteGuard is exclusive access to a T in user data.
type WriteGuard[T any] struct {
	guard
	ptr *T
}

func (g *WriteGuard[T]) Load() T { return *g.ptr }

func (g *WriteGuard[T]) Store(v T) { *g.ptr = v }

// Get returns the guarded value in place, valid until Release.
func (g *WriteGuard[T]) Get() *T { return g.ptr }

// ReadSliceGuard is shared access to consecutive Ts in user data.
type ReadSliceGuard[T any] struct {
	guard
	data []T
}

// Data returns the guarded elements, valid for reading until Release.
func (g *ReadSliceGuard[T]) Data() []T { return g.data }

// WriteSliceGuard is exclusive access to consecutive Ts in user data.
type WriteSliceGuard[T any] struct {
	guard
	data []T
}

func (g *WriteSliceGuard[T]) Data() []T { return g.data }

// view checks that count Ts fit the range protected by lock i and returns a
// pointer to the first one. The lock is not taken.
func view[T any](m *Mapping, i, count int) (*lock, unsafe.Pointer, error) {
	if err := Castable[T](); err != nil {
		return nil, nil, err
	}
	l, err := m.lock(i)
	if err != nil {
		return nil, nil, err
	}
	if count <= 0 {
		return nil, nil, fmt.Errorf("%w: %d elements", ErrInvalidView, count)
	}
	var zero T
	elem := uint64(unsafe.Sizeof(zero))
	off, length := l.span(m.m.userSize)
	if uint64(count) > length/elem {
		return nil, nil, fmt.Errorf("%w: %d x %d bytes over lock #%d of %d bytes", ErrInvalidView, count, elem, i, length)
	}
	p, err := internalshm.PointerAt(m.userData(), int(off), count*int(elem), int(unsafe.Alignof(zero)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidView, err)
	}
	return l, p, nil
}

// ReadLock takes lock i for reading and returns a guard over the T at the
// start of its range. Manual locks expose the start of user data.
func ReadLock[T any](m *Mapping, i int) (*ReadGuard[T], error) {
	l, p, err := view[T](m, i, 1)
	if err != nil {
		return nil, err
	}
	if err := acquire(l, false, Infinite); err != nil {
		return nil, err
	}
	return &ReadGuard[T]{guard: guard{l: l}, ptr: (*T)(p)}, nil
}

// WriteLock takes lock i for writing and returns a guard over the T at the
// start of its range.
func WriteLock[T any](m *Mapping, i int) (*WriteGuard[T], error) {
	l, p, err := view[T](m, i, 1)
	if err != nil {
		return nil, err
	}
	if err := acquire(l, true, Infinite); err != nil {
		return nil, err
	}
	return &WriteGuard[T]{guard: guard{l: l, write: true}, ptr: (*T)(p)}, nil
}

// ReadLockSlice takes lock i for reading and returns a guard over count Ts.
func ReadLockSlice[T any](m *Mapping, i, count int) (*ReadSliceGuard[T], error) {
	l, p, err := view[T](m, i, count)
	if err != nil {
		return nil, err
	}
	if err := acquire(l, false, Infinite); err != nil {
		return nil, err
	}
	return &ReadSliceGuard[T]{guard: guard{l: l}, data: unsafe.Slice((*T)(p), count)}, nil
}

// WriteLockSlice takes lock i for writing and returns a guard over count Ts.
func WriteLockSlice[T any](m *Mapping, i, count int) (*WriteSliceGuard[T], error) {
	l, p, err := view[T](m, i, count)
	if err != nil {
		return nil, err
	}
	if err := acquire(l, true, Infinite); err != nil {
		return nil, err
	}
	return &WriteSliceGuard[T]{guard: guard{l: l, write: true}, data: unsafe.Slice((*T)(p), count)}, nil
}

// WithRead runs fn with the T guarded by lock i held for reading. The lock is
// released when fn returns or panics.
func WithRead[T any](m *Mapping, i int, fn func(*T) error) (err error) {
	g, err := ReadLock[T](m, i)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := g.Release(); err == nil {
			err = rerr
		}
	}()
	return fn(g.ptr)
}

// WithWrite runs fn with the T guarded by lock i held for writing. The lock
// is released when fn returns or panics.
func WithWrite[T any](m *Mapping, i int, fn func(*T) error) (err error) {
	g, err := WriteLock[T](m, i)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := g.Release(); err == nil {
			err = rerr
		}
	}()
	return fn(g.ptr)
}
