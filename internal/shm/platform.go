// Package shm contains the platform-specific helpers that create, open and
// map named shared memory regions.
package shm

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrInvalidName is returned for region names that are not a single
	// path element.
	ErrInvalidName = errors.New("invalid shared memory name")
	// ErrUnsupportedPlatform is returned by backends that cannot map
	// named regions.
	ErrUnsupportedPlatform = errors.New("shared memory is not supported on this platform")
)

// DirEnv overrides the directory that backs named regions.
const DirEnv = "SHMEM_DEV_SHM"

const defaultDir = "/dev/shm"

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr []byte
	Name string
	Path string
	// Owner regions unlink their backing object when unmapped.
	Owner bool

	fd int
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Name string
	// Size is required when creating. When opening it is taken from the
	// existing object.
	Size   int
	Create bool
}

// OpError records a failed region operation and the OS error behind it.
type OpError struct {
	Op   string
	Name string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Dir returns the directory holding named regions.
func Dir() string {
	if d := os.Getenv(DirEnv); d != "" {
		return d
	}
	return defaultDir
}

// ValidName reports whether name can be used as a region name.
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
