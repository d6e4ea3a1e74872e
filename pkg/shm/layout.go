package shm

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// addrAlign is the alignment of every primitive storage block and of the
// user data region.
const addrAlign = 8

// Sizes of the records written at the start of a mapping. Lock headers use C
// layout: uid at 0, offset at 8, length at 16.
const (
	metadataHeaderSize = 32
	lockHeaderSize     = 24
	eventHeaderSize    = 1
)

// metadataHeader is the first record of every mapping.
type metadataHeader struct {
	metaSize  uint64
	userSize  uint64
	numLocks  uint64
	numEvents uint64
}

func (h metadataHeader) put(b []byte) {
	binary.NativeEndian.PutUint64(b[0:], h.metaSize)
	binary.NativeEndian.PutUint64(b[8:], h.userSize)
	binary.NativeEndian.PutUint64(b[16:], h.numLocks)
	binary.NativeEndian.PutUint64(b[24:], h.numEvents)
}

func readMetadataHeader(b []byte) metadataHeader {
	return metadataHeader{
		metaSize:  binary.NativeEndian.Uint64(b[0:]),
		userSize:  binary.NativeEndian.Uint64(b[8:]),
		numLocks:  binary.NativeEndian.Uint64(b[16:]),
		numEvents: binary.NativeEndian.Uint64(b[24:]),
	}
}

type lockHeader struct {
	uid    uint8
	offset uint64
	length uint64
}

func (h lockHeader) put(b []byte) {
	clear(b[:lockHeaderSize])
	b[0] = h.uid
	binary.NativeEndian.PutUint64(b[8:], h.offset)
	binary.NativeEndian.PutUint64(b[16:], h.length)
}

func readLockHeader(b []byte) lockHeader {
	return lockHeader{
		uid:    b[0],
		offset: binary.NativeEndian.Uint64(b[8:]),
		length: binary.NativeEndian.Uint64(b[16:]),
	}
}

// alignValue advances *val to the next multiple of align, a power of two,
// and returns the padding inserted.
func alignValue(val *uint64, align uint64) uint64 {
	tmp := align - 1
	if *val&tmp == 0 {
		return 0
	}
	next := (*val + tmp) &^ tmp
	pad := next - *val
	*val = next
	return pad
}

// cursor walks the metadata region. All arithmetic is overflow checked.
type cursor struct {
	off uint64
}

func (c *cursor) advance(n uint64) error {
	sum, carry := bits.Add64(c.off, n, 0)
	if carry != 0 {
		return fmt.Errorf("%w: offset %d + %d overflows", ErrSizeMismatch, c.off, n)
	}
	c.off = sum
	return nil
}

func (c *cursor) align() error {
	if c.off > ^uint64(0)-(addrAlign-1) {
		return fmt.Errorf("%w: offset %d cannot be aligned", ErrSizeMismatch, c.off)
	}
	alignValue(&c.off, addrAlign)
	return nil
}

// record advances over a header record and its primitive storage, and
// returns the aligned storage offset.
func (c *cursor) record(header, storage uint64) (uint64, error) {
	if err := c.advance(header); err != nil {
		return 0, err
	}
	if err := c.align(); err != nil {
		return 0, err
	}
	at := c.off
	return at, c.advance(storage)
}

// calculateMetadataSize returns the aligned size of the metadata region for
// the given primitive storage sizes, in declaration order.
func calculateMetadataSize(lockSizes, eventSizes []uint64) (uint64, error) {
	c := cursor{off: metadataHeaderSize}
	for _, s := range lockSizes {
		if _, err := c.record(lockHeaderSize, s); err != nil {
			return 0, err
		}
	}
	for _, s := range eventSizes {
		if _, err := c.record(eventHeaderSize, s); err != nil {
			return 0, err
		}
	}
	if err := c.align(); err != nil {
		return 0, err
	}
	return c.off, nil
}
