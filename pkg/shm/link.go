package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"
)

// generateOSID returns a random OS id.
func generateOSID() string {
	u := uuid.New()
	return fmt.Sprintf("shmem_go_%016X", binary.BigEndian.Uint64(u[:8]))
}

// createLink creates the link file exclusively. An existing file fails with
// ErrLinkExists.
func createLink(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLinkExists, path)
		}
		return nil, fmt.Errorf("%w: %w", ErrLinkCreateFailed, err)
	}
	return f, nil
}

// writeLink stores id as the whole content of the link and closes it.
func writeLink(f *os.File, id string) error {
	_, err := f.WriteString(id)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLinkWriteFailed, err)
	}
	return nil
}

// readLink returns the OS id stored in the link at path.
func readLink(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrLinkDoesNotExist, path)
		}
		return "", fmt.Errorf("%w: %w", ErrLinkOpenFailed, err)
	}
	defer f.Close()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if _, err := buf.ReadFrom(f); err != nil {
		return "", fmt.Errorf("%w: %w", ErrLinkReadFailed, err)
	}
	return buf.String(), nil
}

// removeLink deletes the link. A link that is already gone is not an error.
func removeLink(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// removeLinkTo deletes the link at path only while it still names id.
func removeLinkTo(path, id string) error {
	got, err := readLink(path)
	if errors.Is(err, ErrLinkDoesNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if got != id {
		return nil
	}
	return removeLink(path)
}
