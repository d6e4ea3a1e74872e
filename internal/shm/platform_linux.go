//go:build linux

package shm

import (
	"context"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// MapRegion creates or opens the named region and maps it shared and
// read-write. Creation is exclusive: an existing object fails with an error
// matching fs.ErrExist.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if err := ValidName(opts.Name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(Dir(), opts.Name)
	flags := unix.O_RDWR | unix.O_CLOEXEC | unix.O_NOFOLLOW
	if opts.Create {
		flags |= unix.O_CREAT | unix.O_EXCL
	}
	fd, err := unix.Open(path, flags, 0o600)
	if err != nil {
		return nil, &OpError{Op: "open", Name: opts.Name, Err: err}
	}
	region := &MappedRegion{Name: opts.Name, Path: path, Owner: opts.Create, fd: fd}
	fail := func(op string, err error) (*MappedRegion, error) {
		_ = unix.Close(fd)
		if opts.Create {
			_ = unix.Unlink(path)
		}
		return nil, &OpError{Op: op, Name: opts.Name, Err: err}
	}

	size := opts.Size
	if opts.Create {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			return fail("ftruncate", err)
		}
	} else {
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			return fail("fstat", err)
		}
		size = int(st.Size)
	}
	if size == 0 {
		// Nothing to map. Callers validate the size themselves.
		return region, nil
	}
	addr, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fail("mmap", err)
	}
	region.Addr = addr
	return region, nil
}

// UnmapRegion unmaps and closes the region and unlinks it when it is owned.
// All steps run even if one of them fails; the first error is returned.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil {
		return nil
	}
	var first error
	keep := func(op string, err error) {
		if err != nil && first == nil {
			first = &OpError{Op: op, Name: region.Name, Err: err}
		}
	}
	if region.Addr != nil {
		keep("munmap", unix.Munmap(region.Addr))
		region.Addr = nil
	}
	if region.fd >= 0 {
		keep("close", unix.Close(region.fd))
		region.fd = -1
	}
	if region.Owner {
		keep("unlink", unix.Unlink(region.Path))
		region.Owner = false
	}
	return first
}
