package shm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff/v4"

	"github.com/srediag/shmem/internal/primitive"
	internalshm "github.com/srediag/shmem/internal/shm"
)

// mapping is the state shared by every clone of a Mapping.
type mapping struct {
	region   *internalshm.MappedRegion
	osID     string
	linkPath string
	owner    atomic.Bool
	// ownsLink is set when this process created the link file.
	ownsLink bool

	metaSize uint64
	userSize uint64
	locks    []*lock
	events   []*event

	refs     atomic.Int64
	teardown sync.Once
	tel      telemetry
}

// Mapping is a shared memory region with its metadata, locks and events.
// A Mapping must be closed. Clones share the region, which is torn down when
// the last of them is closed.
type Mapping struct {
	m      *mapping
	closed atomic.Bool
}

// Create allocates a new mapping as described by c and initializes its locks
// and events. The calling process becomes the owner.
func (c *Config) Create(ctx context.Context) (*Mapping, error) {
	tel := newTelemetry(c.tracer, c.meter)
	ctx, span := tel.start(ctx, "create", c.osID)
	m, err := c.create(ctx, tel)
	tel.finish(ctx, span, "create", err)
	if err != nil {
		return nil, err
	}
	activeMappings.Inc()
	return m, nil
}

func (c *Config) create(ctx context.Context, tel telemetry) (_ *Mapping, err error) {
	if err := c.Verify(); err != nil {
		return nil, err
	}
	meta, _ := c.metadataSize()
	total := meta + c.size
	if c.checkSpace {
		if err := checkSpace(ctx, total); err != nil {
			return nil, err
		}
	}

	var link *os.File
	if c.linkPath != "" {
		if link, err = createLink(c.linkPath); err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				_ = link.Close()
				if rerr := removeLink(c.linkPath); rerr != nil {
					internalLogger.warnf("removing link %s: %v", c.linkPath, rerr)
				}
			}
		}()
	}

	region, id, err := c.mapRegion(ctx, int(total))
	if err != nil {
		return nil, err
	}
	m := &mapping{
		region:   region,
		osID:     id,
		linkPath: c.linkPath,
		ownsLink: link != nil,
		metaSize: meta,
		userSize: c.size,
		tel:      tel,
	}
	m.owner.Store(true)
	m.refs.Store(1)
	defer func() {
		if err != nil {
			// The link is removed by the deferred cleanup above.
			m.ownsLink = false
			m.close()
		}
	}()

	if link != nil {
		if err := writeLink(link, id); err != nil {
			return nil, err
		}
	}
	if err := m.build(c); err != nil {
		return nil, err
	}
	internalLogger.infof("created mapping %s: meta %d user %d locks %d events %d",
		id, meta, c.size, len(m.locks), len(m.events))
	return &Mapping{m: m}, nil
}

// checkSpace fails when the shared memory filesystem cannot hold size bytes.
func checkSpace(ctx context.Context, size uint64) error {
	free, err := internalshm.Available(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCannotReadDevShm, err)
	}
	if free < size {
		return fmt.Errorf("%w: need %d bytes, %d free", ErrDevShmOutOfMemory, size, free)
	}
	return nil
}

// mapRegion creates the OS region. Generated ids are replaced and retried
// when they collide with an existing region.
func (c *Config) mapRegion(ctx context.Context, size int) (*internalshm.MappedRegion, string, error) {
	if c.osID != "" {
		region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{Name: c.osID, Size: size, Create: true})
		if err != nil {
			return nil, "", osError("create", c.osID, true, err)
		}
		return region, c.osID, nil
	}

	var region *internalshm.MappedRegion
	var id string
	op := func() error {
		id = generateOSID()
		r, err := internalshm.MapRegion(ctx, internalshm.MapOptions{Name: id, Size: size, Create: true})
		if err != nil {
			err = osError("create", id, true, err)
			if errors.Is(err, ErrMappingIDExists) {
				internalLogger.debugf("generated id %s already exists", id)
				return err
			}
			return backoff.Permanent(err)
		}
		region = r
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), c.idRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, "", err
	}
	return region, id, nil
}

// build writes the metadata of a new mapping and initializes its primitives
// as their creator.
func (m *mapping) build(c *Config) error {
	mem := m.region.Addr
	metadataHeader{
		metaSize:  m.metaSize,
		userSize:  m.userSize,
		numLocks:  uint64(len(c.locks)),
		numEvents: uint64(len(c.events)),
	}.put(mem)

	cur := cursor{off: metadataHeaderSize}
	for i, decl := range c.locks {
		impl, err := primitive.NewLock(primitive.LockID(decl.kind))
		if err != nil {
			return fmt.Errorf("%w: lock #%d: %w", ErrFailedToCreateLock, i, err)
		}
		lockHeader{uid: uint8(decl.kind), offset: decl.offset, length: decl.length}.put(mem[cur.off:])
		at, err := cur.record(lockHeaderSize, uint64(impl.Size()))
		if err != nil {
			return err
		}
		l := &lock{kind: decl.kind, offset: decl.offset, length: decl.length, impl: impl}
		m.locks = append(m.locks, l)
		if err := impl.Init(storageAt(mem, at, impl.Size()), true); err != nil {
			return fmt.Errorf("%w: lock #%d: %w", ErrFailedToCreateLock, i, err)
		}
	}
	for i, decl := range c.events {
		impl, err := primitive.NewEvent(primitive.EventID(decl.kind))
		if err != nil {
			return fmt.Errorf("%w: event #%d: %w", ErrFailedToCreateEvent, i, err)
		}
		mem[cur.off] = uint8(decl.kind)
		at, err := cur.record(eventHeaderSize, uint64(impl.Size()))
		if err != nil {
			return err
		}
		m.events = append(m.events, &event{kind: decl.kind, impl: impl})
		if err := impl.Init(storageAt(mem, at, impl.Size()), true); err != nil {
			return fmt.Errorf("%w: event #%d: %w", ErrFailedToCreateEvent, i, err)
		}
	}
	if err := cur.align(); err != nil {
		return err
	}
	if cur.off != m.metaSize {
		return fmt.Errorf("%w: wrote %d bytes, expected %d", ErrUnexpectedMetadataEnd, cur.off, m.metaSize)
	}
	return nil
}

// storageAt returns the primitive storage at off, or nil for kinds that use
// no mapping bytes.
func storageAt(mem []byte, off uint64, size int) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	return unsafe.Pointer(&mem[off])
}

// Open maps an existing mapping named by the link path or OS id of c. The
// configured size, locks and events are ignored; they are read back from
// the mapping. The returned mapping is not the owner.
func (c *Config) Open(ctx context.Context) (*Mapping, error) {
	tel := newTelemetry(c.tracer, c.meter)
	ctx, span := tel.start(ctx, "open", c.osID)
	m, err := c.open(ctx, tel)
	tel.finish(ctx, span, "open", err)
	if err != nil {
		return nil, err
	}
	activeMappings.Inc()
	return m, nil
}

// resolveOSID returns the id named by the link, the explicit id, or both
// when they agree.
func (c *Config) resolveOSID() (string, error) {
	if c.linkPath == "" {
		if c.osID == "" {
			return "", ErrMissingIdentifier
		}
		return c.osID, nil
	}
	id, err := readLink(c.linkPath)
	if err != nil {
		return "", err
	}
	if c.osID != "" && c.osID != id {
		return "", fmt.Errorf("%w: link %s names %q, expected %q", ErrLinkInvalidOSID, c.linkPath, id, c.osID)
	}
	return id, nil
}

func (c *Config) open(ctx context.Context, tel telemetry) (_ *Mapping, err error) {
	id, err := c.resolveOSID()
	if err != nil {
		return nil, err
	}
	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{Name: id})
	if err != nil {
		return nil, osError("open", id, false, err)
	}
	m := &mapping{region: region, osID: id, linkPath: c.linkPath, tel: tel}
	m.refs.Store(1)
	defer func() {
		if err != nil {
			m.close()
		}
	}()
	if err := m.replay(tel); err != nil {
		return nil, err
	}
	internalLogger.infof("opened mapping %s: meta %d user %d locks %d events %d",
		id, m.metaSize, m.userSize, len(m.locks), len(m.events))
	return &Mapping{m: m}, nil
}

// replay parses and validates the metadata of an existing mapping and
// attaches to its primitives. Lock ranges go through the same checks as
// AddLock, and the layout is recomputed rather than trusted.
func (m *mapping) replay(tel telemetry) error {
	mem := m.region.Addr
	if len(mem) < metadataHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(mem))
	}
	h := readMetadataHeader(mem)
	total := uint64(len(mem))
	if h.metaSize > total || h.userSize > total-h.metaSize || h.userSize > math.MaxInt64 {
		return fmt.Errorf("%w: metadata %d + user %d > mapping %d", ErrSizeMismatch, h.metaSize, h.userSize, total)
	}
	m.metaSize = h.metaSize
	m.userSize = h.userSize

	// Records must lie within the declared metadata.
	fits := func(cur cursor, n uint64) error {
		if cur.off > h.metaSize || n > h.metaSize-cur.off {
			return fmt.Errorf("%w: record at %d overruns metadata of %d bytes", ErrUnexpectedMetadataEnd, cur.off, h.metaSize)
		}
		return nil
	}

	layout := NewConfig()
	layout.size = h.userSize
	cur := cursor{off: metadataHeaderSize}
	for i := uint64(0); i < h.numLocks; i++ {
		if err := fits(cur, lockHeaderSize); err != nil {
			return err
		}
		lh := readLockHeader(mem[cur.off:])
		kind := LockType(lh.uid)
		if err := layout.addLock(kind, lh.offset, lh.length); err != nil {
			return fmt.Errorf("lock #%d: %w", i, err)
		}
		impl, err := primitive.NewLock(primitive.LockID(kind))
		if err != nil {
			return fmt.Errorf("%w: lock #%d: %w", ErrUnknownLockType, i, err)
		}
		at, err := cur.record(lockHeaderSize, uint64(impl.Size()))
		if err != nil {
			return err
		}
		if err := fits(cursor{off: at}, uint64(impl.Size())); err != nil {
			return err
		}
		l := &lock{kind: kind, offset: lh.offset, length: lh.length, impl: impl}
		m.locks = append(m.locks, l)
		if err := impl.Init(storageAt(mem, at, impl.Size()), false); err != nil {
			return fmt.Errorf("%w: lock #%d: %w", ErrFailedToCreateLock, i, err)
		}
		internalLogger.debugf("%s: lock #%d %v offset %d length %d", m.osID, i, kind, lh.offset, lh.length)
	}
	for i := uint64(0); i < h.numEvents; i++ {
		if err := fits(cur, eventHeaderSize); err != nil {
			return err
		}
		kind := EventType(mem[cur.off])
		if err := layout.AddEvent(kind); err != nil {
			return fmt.Errorf("event #%d: %w", i, err)
		}
		impl, err := primitive.NewEvent(primitive.EventID(kind))
		if err != nil {
			return fmt.Errorf("%w: event #%d: %w", ErrFailedToCreateEvent, i, err)
		}
		at, err := cur.record(eventHeaderSize, uint64(impl.Size()))
		if err != nil {
			return err
		}
		if err := fits(cursor{off: at}, uint64(impl.Size())); err != nil {
			return err
		}
		m.events = append(m.events, &event{kind: kind, impl: impl})
		if err := impl.Init(storageAt(mem, at, impl.Size()), false); err != nil {
			return fmt.Errorf("%w: event #%d: %w", ErrFailedToCreateEvent, i, err)
		}
		internalLogger.debugf("%s: event #%d %v", m.osID, i, kind)
	}
	if err := cur.align(); err != nil {
		return err
	}
	expected, err := layout.metadataSize()
	if err != nil {
		return err
	}
	if cur.off != h.metaSize || cur.off != expected {
		return fmt.Errorf("%w: metadata ends at %d, header says %d, layout says %d",
			ErrUnexpectedMetadataEnd, cur.off, h.metaSize, expected)
	}
	return nil
}

// close tears the mapping down. Failures are logged and never returned.
func (m *mapping) close() {
	m.teardown.Do(func() {
		for _, l := range m.locks {
			l.impl.Destroy()
		}
		for _, e := range m.events {
			e.impl.Destroy()
		}
		owner := m.owner.Load()
		m.region.Owner = owner
		if err := internalshm.UnmapRegion(context.Background(), m.region); err != nil {
			internalLogger.warnf("releasing mapping %s: %v", m.osID, err)
		}
		if owner && m.linkPath != "" {
			// An owner that opened the mapping took it over with SetOwner
			// and only removes the link if nobody has reused the path.
			rm := removeLink
			if !m.ownsLink {
				rm = func(path string) error { return removeLinkTo(path, m.osID) }
			}
			if err := rm(m.linkPath); err != nil {
				internalLogger.warnf("removing link %s: %v", m.linkPath, err)
			}
		}
		internalLogger.debugf("closed mapping %s owner=%t", m.osID, owner)
	})
}

// Clone returns another handle on the same mapping. Each handle must be
// closed; the region is released with the last one.
func (h *Mapping) Clone() (*Mapping, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	h.m.refs.Add(1)
	return &Mapping{m: h.m}, nil
}

// Close releases this handle. The last handle unmaps the region and, when it
// is the owner, deletes the OS object and the link file.
func (h *Mapping) Close() error {
	if h.closed.Swap(true) {
		return ErrClosed
	}
	if h.m.refs.Add(-1) > 0 {
		return nil
	}
	ctx, span := h.m.tel.start(context.Background(), "close", h.m.osID)
	h.m.close()
	h.m.tel.finish(ctx, span, "close", nil)
	activeMappings.Dec()
	return nil
}

// SetOwner changes whether closing the mapping deletes it and returns the
// previous value. The owner also removes the link file the mapping was
// created or opened with, as long as it still names this mapping.
func (h *Mapping) SetOwner(owner bool) bool { return h.m.owner.Swap(owner) }

func (h *Mapping) IsOwner() bool { return h.m.owner.Load() }

// Closed reports whether Close has been called on this handle.
func (h *Mapping) Closed() bool { return h.closed.Load() }

// OSID returns the OS level id other processes can open the mapping with.
func (h *Mapping) OSID() string { return h.m.osID }

func (h *Mapping) LinkPath() string { return h.m.linkPath }

// Size returns the number of user data bytes.
func (h *Mapping) Size() int { return int(h.m.userSize) }

// Len returns the size of the whole region including metadata.
func (h *Mapping) Len() int { return len(h.m.region.Addr) }

func (h *Mapping) MetadataSize() int { return int(h.m.metaSize) }

func (h *Mapping) LockCount() int { return len(h.m.locks) }

func (h *Mapping) EventCount() int { return len(h.m.events) }

// Locks describes the locks in declaration order.
func (h *Mapping) Locks() []LockInfo {
	out := make([]LockInfo, len(h.m.locks))
	for i, l := range h.m.locks {
		out[i] = l.info()
	}
	return out
}

// Events describes the events in declaration order.
func (h *Mapping) Events() []EventInfo {
	out := make([]EventInfo, len(h.m.events))
	for i, e := range h.m.events {
		out[i] = e.info()
	}
	return out
}

func (h *Mapping) userData() []byte {
	return h.m.region.Addr[h.m.metaSize : h.m.metaSize+h.m.userSize]
}

func (h *Mapping) lock(i int) (*lock, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	if i < 0 || i >= len(h.m.locks) {
		return nil, fmt.Errorf("%w: lock %d of %d", ErrIndexOutOfRange, i, len(h.m.locks))
	}
	return h.m.locks[i], nil
}

func (h *Mapping) event(i int) (*event, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	if i < 0 || i >= len(h.m.events) {
		return nil, fmt.Errorf("%w: event %d of %d", ErrIndexOutOfRange, i, len(h.m.events))
	}
	return h.m.events[i], nil
}

func acquire(l *lock, write bool, timeout time.Duration) error {
	mode, fn := "read", l.impl.RLockTimeout
	if write {
		mode, fn = "write", l.impl.WLockTimeout
	}
	err := fn(timeout)
	lockAcquisitions.WithLabelValues(mode, result(err)).Inc()
	if err != nil {
		return fmt.Errorf("%w: %v %s: %w", ErrFailedToAcquireLock, l.kind, mode, err)
	}
	return nil
}

func release(l *lock, write bool) error {
	fn := l.impl.RUnlock
	if write {
		fn = l.impl.WUnlock
	}
	if err := fn(); err != nil {
		return fmt.Errorf("%w: %v: %w", ErrFailedToReleaseLock, l.kind, err)
	}
	return nil
}

// RLock takes lock i for reading. It is meant for manual locks; guards are
// the usual way to access data.
func (h *Mapping) RLock(i int) error {
	l, err := h.lock(i)
	if err != nil {
		return err
	}
	return acquire(l, false, Infinite)
}

// WLock takes lock i for writing.
func (h *Mapping) WLock(i int) error {
	l, err := h.lock(i)
	if err != nil {
		return err
	}
	return acquire(l, true, Infinite)
}

// RLockTimeout is RLock giving up after timeout with an error matching
// ErrTimeout.
func (h *Mapping) RLockTimeout(i int, timeout time.Duration) error {
	l, err := h.lock(i)
	if err != nil {
		return err
	}
	return acquire(l, false, timeout)
}

// WLockTimeout is WLock giving up after timeout.
func (h *Mapping) WLockTimeout(i int, timeout time.Duration) error {
	l, err := h.lock(i)
	if err != nil {
		return err
	}
	return acquire(l, true, timeout)
}

func (h *Mapping) RUnlock(i int) error {
	l, err := h.lock(i)
	if err != nil {
		return err
	}
	return release(l, false)
}

func (h *Mapping) WUnlock(i int) error {
	l, err := h.lock(i)
	if err != nil {
		return err
	}
	return release(l, true)
}

// Wait blocks until event i is signaled or timeout elapses, in which case
// the error matches ErrTimeout. Use Infinite to wait without a timeout.
func (h *Mapping) Wait(i int, timeout time.Duration) error {
	e, err := h.event(i)
	if err != nil {
		return err
	}
	err = e.impl.Wait(timeout)
	eventWaits.WithLabelValues(result(err)).Inc()
	if err != nil && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("event #%d: %w", i, err)
	}
	return err
}

// Set changes the state of event i.
func (h *Mapping) Set(i int, state EventState) error {
	e, err := h.event(i)
	if err != nil {
		return err
	}
	if err := e.impl.Set(state); err != nil {
		return fmt.Errorf("%w: event #%d: %w", ErrFailedToSignalEvent, i, err)
	}
	eventSignals.WithLabelValues(state.String()).Inc()
	return nil
}

func (h *Mapping) fdEvent(i int) (primitive.FDEvent, error) {
	e, err := h.event(i)
	if err != nil {
		return nil, err
	}
	fe, ok := e.impl.(primitive.FDEvent)
	if !ok {
		return nil, fmt.Errorf("%w: event #%d is %v", ErrNotEventFD, i, e.kind)
	}
	return fe, nil
}

// EventFD returns the descriptor of a descriptor backed event, or -1 when
// none is attached yet.
func (h *Mapping) EventFD(i int) (int, error) {
	fe, err := h.fdEvent(i)
	if err != nil {
		return -1, err
	}
	return fe.FD(), nil
}

// AttachEventFD hands fd, received from the creator, to event i. The event
// takes ownership of fd.
func (h *Mapping) AttachEventFD(i int, fd int) error {
	fe, err := h.fdEvent(i)
	if err != nil {
		return err
	}
	return fe.Attach(fd)
}
