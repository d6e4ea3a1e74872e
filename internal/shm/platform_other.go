//go:build !linux

package shm

import "context"

// MapRegion is not implemented on this platform.
func MapRegion(context.Context, MapOptions) (*MappedRegion, error) {
	return nil, ErrUnsupportedPlatform
}

// UnmapRegion is not implemented on this platform.
func UnmapRegion(context.Context, *MappedRegion) error {
	return ErrUnsupportedPlatform
}
