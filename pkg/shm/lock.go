package shm

import (
	"fmt"
	"strings"

	"github.com/Workiva/go-datastructures/augmentedtree"

	"github.com/srediag/shmem/internal/primitive"
)

// LockType selects the synchronization kind of a lock. The numeric value is
// stored in the mapping.
type LockType uint8

const (
	// Mutex serializes readers and writers alike.
	Mutex = LockType(primitive.MutexID)
	// RwLock admits concurrent readers and one exclusive writer.
	RwLock = LockType(primitive.RwLockID)
	// None provides no exclusion. Callers synchronize on their own.
	None = LockType(primitive.NoneID)
)

func (t LockType) String() string {
	switch t {
	case Mutex:
		return "Mutex"
	case RwLock:
		return "RwLock"
	case None:
		return "None"
	default:
		return fmt.Sprintf("LockType(%d)", uint8(t))
	}
}

func (t LockType) MarshalText() ([]byte, error) {
	if t > None {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLockType, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText parses a lock type name, ignoring case.
func (t *LockType) UnmarshalText(b []byte) error {
	for _, k := range []LockType{Mutex, RwLock, None} {
		if strings.EqualFold(string(b), k.String()) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownLockType, b)
}

// LockInfo describes one lock of a mapping.
type LockInfo struct {
	Type LockType
	// Offset and Length delimit the protected bytes in user data. A zero
	// Length marks a manual lock that protects nothing in particular.
	Offset int
	Length int
}

type lock struct {
	kind   LockType
	offset uint64
	length uint64
	impl   primitive.Lock
}

func (l *lock) info() LockInfo {
	return LockInfo{Type: l.kind, Offset: int(l.offset), Length: int(l.length)}
}

// span returns the protected user data range. Manual locks cover all of it.
func (l *lock) span(userSize uint64) (uint64, uint64) {
	if l.length == 0 {
		return 0, userSize
	}
	return l.offset, l.length
}

// lockRange is a closed byte interval [low, high] protected by lock id.
type lockRange struct {
	low, high int64
	id        uint64
}

func (r lockRange) LowAtDimension(uint64) int64  { return r.low }
func (r lockRange) HighAtDimension(uint64) int64 { return r.high }
func (r lockRange) ID() uint64                   { return r.id }

func (r lockRange) OverlapsAtDimension(iv augmentedtree.Interval, dim uint64) bool {
	return r.high >= iv.LowAtDimension(dim) && r.low <= iv.HighAtDimension(dim)
}

// rangeIndex rejects lock ranges that share a byte with a registered one.
type rangeIndex struct {
	tree augmentedtree.Tree
}

func newRangeIndex() *rangeIndex {
	return &rangeIndex{tree: augmentedtree.New(1)}
}

// conflict returns the id of a registered range overlapping r.
func (x *rangeIndex) conflict(r lockRange) (uint64, bool) {
	// Widen the probe so the result does not depend on whether the tree
	// treats bounds as inclusive, then filter exactly.
	probe := lockRange{low: r.low - 1, high: r.high + 1}
	found := x.tree.Query(probe)
	defer found.Dispose()
	for _, iv := range found {
		if r.OverlapsAtDimension(iv, 1) {
			return iv.ID(), true
		}
	}
	return 0, false
}

func (x *rangeIndex) add(r lockRange) {
	x.tree.Add(r)
}
