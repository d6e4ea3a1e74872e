package shm

import (
	"context"
	"encoding/json"
	"fmt"
	"unsafe"
)

// Handle is a single shared T protected by its own lock. It marshals to JSON
// as its OS id so the receiving process can open the same value.
type Handle[T any] struct {
	m *Mapping
}

// NewHandle creates a mapping holding one zeroed T guarded by a lock of the
// given kind.
func NewHandle[T any](ctx context.Context, kind LockType) (*Handle[T], error) {
	if err := Castable[T](); err != nil {
		return nil, err
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	c := NewConfig().SetSize(size)
	if err := c.AddLock(kind, 0, size); err != nil {
		return nil, err
	}
	m, err := c.Create(ctx)
	if err != nil {
		return nil, err
	}
	return &Handle[T]{m: m}, nil
}

// OpenHandle opens a handle created by NewHandle in any process.
func OpenHandle[T any](ctx context.Context, id string) (*Handle[T], error) {
	if err := Castable[T](); err != nil {
		return nil, err
	}
	m, err := NewConfig().SetOSID(id).Open(ctx)
	if err != nil {
		return nil, err
	}
	var zero T
	if m.LockCount() != 1 || m.Size() < int(unsafe.Sizeof(zero)) {
		_ = m.Close()
		return nil, fmt.Errorf("%w: %s holds %d locks over %d bytes", ErrInvalidView, id, m.LockCount(), m.Size())
	}
	return &Handle[T]{m: m}, nil
}

func (h *Handle[T]) OSID() string { return h.m.OSID() }

// Mapping returns the underlying mapping.
func (h *Handle[T]) Mapping() *Mapping { return h.m }

func (h *Handle[T]) RLock() (*ReadGuard[T], error) { return ReadLock[T](h.m, 0) }

func (h *Handle[T]) WLock() (*WriteGuard[T], error) { return WriteLock[T](h.m, 0) }

// Load returns a copy of the value read under the lock.
func (h *Handle[T]) Load() (T, error) {
	var v T
	err := WithRead(h.m, 0, func(p *T) error {
		v = *p
		return nil
	})
	return v, err
}

// Store replaces the value under the lock.
func (h *Handle[T]) Store(v T) error {
	return WithWrite(h.m, 0, func(p *T) error {
		*p = v
		return nil
	})
}

func (h *Handle[T]) Close() error { return h.m.Close() }

func (h *Handle[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.m.OSID())
}

// UnmarshalJSON opens the handle named by the encoded OS id.
func (h *Handle[T]) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err != nil {
		return err
	}
	opened, err := OpenHandle[T](context.Background(), id)
	if err != nil {
		return err
	}
	*h = *opened
	return nil
}
