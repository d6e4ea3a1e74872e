//go:build linux

package shm

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// fdEventIndexes returns the indexes of descriptor backed events.
func (h *Mapping) fdEventIndexes() []int {
	var idx []int
	for i, e := range h.m.events {
		if e.kind.fdBacked() {
			idx = append(idx, i)
		}
	}
	return idx
}

// SendEventFDs passes the descriptors of every descriptor backed event of m
// over conn so that ReceiveEventFDs in another process can attach them.
func SendEventFDs(conn *net.UnixConn, m *Mapping) error {
	if m.closed.Load() {
		return ErrClosed
	}
	idx := m.fdEventIndexes()
	if len(idx) == 0 {
		return nil
	}
	payload := make([]byte, 4*len(idx))
	fds := make([]int, len(idx))
	for n, i := range idx {
		fd, err := m.EventFD(i)
		if err != nil {
			return err
		}
		if fd < 0 {
			return fmt.Errorf("event #%d: %w", i, ErrEventNotAttached)
		}
		binary.NativeEndian.PutUint32(payload[4*n:], uint32(i))
		fds[n] = fd
	}
	_, _, err := conn.WriteMsgUnix(payload, unix.UnixRights(fds...), nil)
	return err
}

// ReceiveEventFDs reads descriptors sent by SendEventFDs and attaches them to
// the matching events of m.
func ReceiveEventFDs(conn *net.UnixConn, m *Mapping) error {
	if m.closed.Load() {
		return ErrClosed
	}
	want := len(m.fdEventIndexes())
	if want == 0 {
		return nil
	}
	payload := make([]byte, 4*want)
	oob := make([]byte, unix.CmsgSpace(4*want))
	n, oobn, _, _, err := conn.ReadMsgUnix(payload, oob)
	if err != nil {
		return err
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return err
	}
	var fds []int
	for _, msg := range msgs {
		rights, err := unix.ParseUnixRights(&msg)
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	closeFrom := func(k int) {
		for _, fd := range fds[k:] {
			_ = unix.Close(fd)
		}
	}
	if n != 4*len(fds) {
		closeFrom(0)
		return fmt.Errorf("%w: %d descriptors for %d payload bytes", ErrNotEventFD, len(fds), n)
	}
	for k, fd := range fds {
		i := int(binary.NativeEndian.Uint32(payload[4*k:]))
		if err := m.AttachEventFD(i, fd); err != nil {
			closeFrom(k)
			return err
		}
	}
	return nil
}
