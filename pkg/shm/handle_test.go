package shm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	internalshm "github.com/srediag/shmem/internal/shm"
)

type point struct {
	X, Y int32
}

func TestHandle(t *testing.T) {
	t.Setenv(internalshm.DirEnv, t.TempDir())
	ctx := context.Background()

	h, err := NewHandle[point](ctx, RwLock)
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.Store(point{X: 3, Y: 4}))

	encoded, err := json.Marshal(h)
	require.NoError(t, err)
	require.JSONEq(t, `"`+h.OSID()+`"`, string(encoded))

	var other Handle[point]
	require.NoError(t, json.Unmarshal(encoded, &other))
	defer other.Close()
	require.False(t, other.Mapping().IsOwner())

	got, err := other.Load()
	require.NoError(t, err)
	require.Equal(t, point{X: 3, Y: 4}, got)

	w, err := other.WLock()
	require.NoError(t, err)
	w.Get().X = 10
	require.NoError(t, w.Release())

	r, err := h.RLock()
	require.NoError(t, err)
	require.Equal(t, int32(10), r.Load().X)
	require.NoError(t, r.Release())
}

func TestHandleRejects(t *testing.T) {
	t.Setenv(internalshm.DirEnv, t.TempDir())
	ctx := context.Background()

	_, err := NewHandle[[]int32](ctx, Mutex)
	require.ErrorIs(t, err, ErrNotCastable)

	small, err := NewHandle[uint8](ctx, Mutex)
	require.NoError(t, err)
	defer small.Close()
	_, err = OpenHandle[uint64](ctx, small.OSID())
	require.ErrorIs(t, err, ErrInvalidView)
}
