//go:build !linux

package shm

import "net"

// SendEventFDs is not supported on this platform.
func SendEventFDs(*net.UnixConn, *Mapping) error { return ErrUnsupportedPlatform }

// ReceiveEventFDs is not supported on this platform.
func ReceiveEventFDs(*net.UnixConn, *Mapping) error { return ErrUnsupportedPlatform }
