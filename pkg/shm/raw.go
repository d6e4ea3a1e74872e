package shm

import (
	"context"
	"fmt"
	"sync/atomic"
	"unsafe"

	internalshm "github.com/srediag/shmem/internal/shm"
)

// RawMapping is a shared region without metadata, locks or events. Its
// layout is entirely up to the caller and nothing synchronizes access to it.
type RawMapping struct {
	region *internalshm.MappedRegion
	osID   string
	owner  atomic.Bool
	closed atomic.Bool
}

// CreateRaw creates a raw region of size bytes. An empty id generates one.
func CreateRaw(ctx context.Context, id string, size int) (*RawMapping, error) {
	if size <= 0 {
		return nil, ErrMappingSizeZero
	}
	c := NewConfig().SetOSID(id)
	region, id, err := c.mapRegion(ctx, size)
	if err != nil {
		return nil, err
	}
	r := &RawMapping{region: region, osID: id}
	r.owner.Store(true)
	activeMappings.Inc()
	internalLogger.infof("created raw mapping %s: %d bytes", id, size)
	return r, nil
}

// OpenRaw opens an existing region by OS id. Its size is taken from the
// region itself.
func OpenRaw(ctx context.Context, id string) (*RawMapping, error) {
	if id == "" {
		return nil, ErrMissingIdentifier
	}
	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{Name: id})
	if err != nil {
		return nil, osError("open", id, false, err)
	}
	activeMappings.Inc()
	return &RawMapping{region: region, osID: id}, nil
}

// Bytes returns the whole region. Access is unsynchronized.
func (r *RawMapping) Bytes() []byte { return r.region.Addr }

func (r *RawMapping) Size() int { return len(r.region.Addr) }

func (r *RawMapping) OSID() string { return r.osID }

func (r *RawMapping) IsOwner() bool { return r.owner.Load() }

// SetOwner changes whether Close deletes the region and returns the previous
// value.
func (r *RawMapping) SetOwner(owner bool) bool { return r.owner.Swap(owner) }

// Close unmaps the region and deletes it when owned. Failures are logged.
func (r *RawMapping) Close() error {
	if r.closed.Swap(true) {
		return ErrClosed
	}
	r.region.Owner = r.owner.Load()
	if err := internalshm.UnmapRegion(context.Background(), r.region); err != nil {
		internalLogger.warnf("releasing raw mapping %s: %v", r.osID, err)
	}
	activeMappings.Dec()
	return nil
}

// RawAs returns the T at offset in r. The result is only checked for bounds,
// alignment and castability; concurrent use is racy by nature.
func RawAs[T any](r *RawMapping, offset int) (*T, error) {
	p, err := rawView[T](r, offset, 1)
	if err != nil {
		return nil, err
	}
	return (*T)(p), nil
}

// RawSlice returns count consecutive Ts starting at offset in r.
func RawSlice[T any](r *RawMapping, offset, count int) ([]T, error) {
	p, err := rawView[T](r, offset, count)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*T)(p), count), nil
}

func rawView[T any](r *RawMapping, offset, count int) (unsafe.Pointer, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if err := Castable[T](); err != nil {
		return nil, err
	}
	var zero T
	elem := int(unsafe.Sizeof(zero))
	if count <= 0 || count > r.Size()/elem {
		return nil, fmt.Errorf("%w: %d x %d bytes in %d", ErrInvalidView, count, elem, r.Size())
	}
	p, err := internalshm.PointerAt(r.region.Addr, offset, count*elem, int(unsafe.Alignof(zero)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidView, err)
	}
	return p, nil
}
