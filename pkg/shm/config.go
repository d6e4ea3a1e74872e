package shm

import (
	"fmt"
	"math"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/shmem/internal/primitive"
)

// DefaultIDRetries is the number of extra attempts Create makes with a fresh
// generated OS id when the previous one already exists.
const DefaultIDRetries = 3

// Config accumulates the description of a mapping. The same declarations in
// the same order produce the same layout in every process.
type Config struct {
	linkPath string
	osID     string
	size     uint64

	locks      []*lock
	events     []*event
	lockSizes  []uint64
	eventSizes []uint64
	ranges     *rangeIndex

	tracer     trace.Tracer
	meter      metric.Meter
	idRetries  uint64
	checkSpace bool
}

// NewConfig returns an empty configuration.
func NewConfig() *Config {
	return &Config{
		ranges:     newRangeIndex(),
		idRetries:  DefaultIDRetries,
		checkSpace: true,
	}
}

// SetSize sets the number of user data bytes. It must be called before locks
// are added since lock ranges are checked against it.
func (c *Config) SetSize(size int) *Config {
	if size < 0 {
		size = 0
	}
	c.size = uint64(size)
	return c
}

// SetLinkPath sets the file used to publish the OS id of the mapping.
func (c *Config) SetLinkPath(path string) *Config {
	c.linkPath = path
	return c
}

// SetOSID sets the OS level id of the mapping. Create generates one when
// none is set.
func (c *Config) SetOSID(id string) *Config {
	c.osID = id
	return c
}

// WithTracer records spans around create, open and close.
func (c *Config) WithTracer(t trace.Tracer) *Config {
	c.tracer = t
	return c
}

// WithMeter records mapping operation counts.
func (c *Config) WithMeter(m metric.Meter) *Config {
	c.meter = m
	return c
}

// WithIDRetries bounds the attempts made with a new generated id after a
// collision. Explicit ids are never retried.
func (c *Config) WithIDRetries(n int) *Config {
	c.idRetries = uint64(max(n, 0))
	return c
}

// WithSpaceCheck toggles the free space check Create runs before mapping.
func (c *Config) WithSpaceCheck(enabled bool) *Config {
	c.checkSpace = enabled
	return c
}

func (c *Config) LinkPath() string { return c.linkPath }

func (c *Config) OSID() string { return c.osID }

func (c *Config) Size() int { return int(c.size) }

func (c *Config) LockCount() int { return len(c.locks) }

func (c *Config) EventCount() int { return len(c.events) }

// AddLock declares a lock over user data bytes [offset, offset+length).
// A zero length declares a manual lock, which requires a zero offset and
// never conflicts with other locks. Ranges of distinct locks must not
// overlap.
func (c *Config) AddLock(kind LockType, offset, length int) error {
	if offset < 0 || length < 0 {
		return fmt.Errorf("%w: offset %d length %d", ErrInvalidLockRange, offset, length)
	}
	return c.addLock(kind, uint64(offset), uint64(length))
}

func (c *Config) addLock(kind LockType, offset, length uint64) error {
	size, err := primitive.LockSize(primitive.LockID(kind))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownLockType, kind)
	}
	if !validLockRange(c.size, offset, length) {
		return fmt.Errorf("%w: %v at %d length %d for size %d", ErrInvalidLockRange, kind, offset, length, c.size)
	}
	if length != 0 {
		r := lockRange{low: int64(offset), high: int64(offset + length - 1), id: uint64(len(c.locks))}
		if id, ok := c.ranges.conflict(r); ok {
			return fmt.Errorf("%w: %v at %d length %d, lock #%d already covers it", ErrOverlappingLocks, kind, offset, length, id)
		}
		c.ranges.add(r)
	}
	c.locks = append(c.locks, &lock{kind: kind, offset: offset, length: length})
	c.lockSizes = append(c.lockSizes, uint64(size))
	return nil
}

// validLockRange reports whether a lock fits a user region of size bytes.
func validLockRange(size, offset, length uint64) bool {
	if length == 0 {
		return offset == 0
	}
	// Keeps every bound representable as an int64 interval.
	if size > math.MaxInt64 {
		return false
	}
	return offset < size && length <= size-offset
}

// AddEvent declares an event. Events are laid out after all locks in
// declaration order.
func (c *Config) AddEvent(kind EventType) error {
	size, err := primitive.EventSize(primitive.EventID(kind))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownEventType, kind)
	}
	c.events = append(c.events, &event{kind: kind})
	c.eventSizes = append(c.eventSizes, uint64(size))
	return nil
}

// MetadataSize returns the aligned size of the metadata region, which is
// also the offset of user data in the mapping.
func (c *Config) MetadataSize() (int, error) {
	size, err := c.metadataSize()
	if err != nil {
		return 0, err
	}
	return int(size), nil
}

func (c *Config) metadataSize() (uint64, error) {
	return calculateMetadataSize(c.lockSizes, c.eventSizes)
}

// Verify checks that the configuration can be created.
func (c *Config) Verify() error {
	if c.size == 0 {
		return ErrMappingSizeZero
	}
	meta, err := c.metadataSize()
	if err != nil {
		return err
	}
	if c.size > math.MaxInt || meta > math.MaxInt-c.size {
		return fmt.Errorf("%w: metadata %d + user %d", ErrSizeMismatch, meta, c.size)
	}
	return nil
}
