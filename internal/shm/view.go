package shm

import (
	"errors"
	"fmt"
	"unsafe"
)

var (
	// ErrOutOfBounds is returned when a view does not fit in its region.
	ErrOutOfBounds = errors.New("view out of bounds")
	// ErrMisaligned is returned when a view start is not aligned for its type.
	ErrMisaligned = errors.New("view misaligned")
)

// PointerAt returns a pointer to size bytes of mem starting at off after
// checking bounds and alignment. Overflow in off+size is rejected.
func PointerAt(mem []byte, off, size, align int) (unsafe.Pointer, error) {
	if off < 0 || size < 0 || off > len(mem) || size > len(mem)-off {
		return nil, fmt.Errorf("%w: [%d, +%d) in %d bytes", ErrOutOfBounds, off, size, len(mem))
	}
	if size == 0 {
		return nil, nil
	}
	p := unsafe.Pointer(unsafe.SliceData(mem[off:]))
	if align > 1 && uintptr(p)%uintptr(align) != 0 {
		return nil, fmt.Errorf("%w: offset %d for alignment %d", ErrMisaligned, off, align)
	}
	return p, nil
}
