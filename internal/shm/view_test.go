package shm

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestPointerAt(t *testing.T) {
	backing := make([]uint64, 4)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&backing[0])), 32)

	p, err := PointerAt(mem, 8, 8, 8)
	require.NoError(t, err)
	require.Equal(t, unsafe.Pointer(&backing[1]), p)

	p, err = PointerAt(mem, 32, 0, 8)
	require.NoError(t, err)
	require.Nil(t, p)

	_, err = PointerAt(mem, 28, 8, 4)
	require.ErrorIs(t, err, ErrOutOfBounds)

	_, err = PointerAt(mem, -1, 1, 1)
	require.ErrorIs(t, err, ErrOutOfBounds)

	_, err = PointerAt(mem, 1, int(^uint(0)>>1), 1)
	require.ErrorIs(t, err, ErrOutOfBounds)

	_, err = PointerAt(mem, 4, 8, 8)
	require.ErrorIs(t, err, ErrMisaligned)
}
