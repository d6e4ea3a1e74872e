package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/srediag/shmem/internal/primitive"
	internalshm "github.com/srediag/shmem/internal/shm"
)

// Configuration errors.
var (
	ErrMappingSizeZero   = errors.New("shm: mapping size is zero")
	ErrOverlappingLocks  = errors.New("shm: lock range overlaps an existing lock")
	ErrInvalidLockRange  = errors.New("shm: lock range does not fit the mapping")
	ErrMissingIdentifier = errors.New("shm: neither link path nor os id is set")
	ErrUnknownLockType   = errors.New("shm: unknown lock type")
	ErrUnknownEventType  = errors.New("shm: unknown event type")
)

// Link file errors.
var (
	ErrLinkCreateFailed = errors.New("shm: failed to create link")
	ErrLinkWriteFailed  = errors.New("shm: failed to write link")
	ErrLinkOpenFailed   = errors.New("shm: failed to open link")
	ErrLinkReadFailed   = errors.New("shm: failed to read link")
	ErrLinkExists       = errors.New("shm: link already exists")
	ErrLinkDoesNotExist = errors.New("shm: link does not exist")
	ErrLinkInvalidOSID  = errors.New("shm: link names a different os id")
)

// Shared memory filesystem errors.
var (
	ErrDevShmOutOfMemory   = errors.New("shm: not enough free space for mapping")
	ErrCannotReadDevShm    = errors.New("shm: cannot query shared memory filesystem")
	ErrUnsupportedPlatform = internalshm.ErrUnsupportedPlatform
)

// OS mapping errors. They are returned wrapped in an *OSError.
var (
	ErrMappingIDExists       = errors.New("shm: mapping id already exists")
	ErrMappingIDDoesNotExist = errors.New("shm: mapping id does not exist")
	ErrMapCreateFailed       = errors.New("shm: failed to create mapping")
	ErrMapOpenFailed         = errors.New("shm: failed to open mapping")
	ErrUnknownOSError        = errors.New("shm: unknown os error")
)

// Header and metadata corruption errors.
var (
	ErrInvalidHeader         = errors.New("shm: mapping is smaller than the metadata header")
	ErrSizeMismatch          = errors.New("shm: declared sizes exceed the mapping")
	ErrUnexpectedMetadataEnd = errors.New("shm: metadata does not end where user data begins")
)

// Synchronization errors.
var (
	ErrFailedToAcquireLock = errors.New("shm: failed to acquire lock")
	ErrFailedToReleaseLock = errors.New("shm: failed to release lock")
	ErrFailedToCreateLock  = errors.New("shm: failed to create lock")
	ErrFailedToSignalEvent = errors.New("shm: failed to signal event")
	ErrFailedToCreateEvent = errors.New("shm: failed to create event")
	ErrEventNotAttached    = primitive.ErrNotAttached
	ErrTimeout             = primitive.ErrTimeout
)

// Access errors.
var (
	ErrClosed          = errors.New("shm: mapping is closed")
	ErrIndexOutOfRange = errors.New("shm: lock or event index out of range")
	ErrInvalidView     = errors.New("shm: view does not fit the protected range")
	ErrNotCastable     = errors.New("shm: type cannot be placed in shared memory")
	ErrNotEventFD      = errors.New("shm: event is not descriptor backed")
	ErrGuardReleased   = errors.New("shm: guard already released")
)

// OSError carries the operating system error behind a mapping failure. It
// matches both its Kind and the underlying error with errors.Is.
type OSError struct {
	Op   string
	ID   string
	Kind error
	Err  error
}

func (e *OSError) Error() string {
	return fmt.Sprintf("%v: %s %s: %v", e.Kind, e.Op, e.ID, e.Err)
}

func (e *OSError) Unwrap() []error { return []error{e.Kind, e.Err} }

// osError classifies err from the region layer.
func osError(op, id string, create bool, err error) error {
	var errno syscall.Errno
	kind := ErrUnknownOSError
	switch {
	case errors.Is(err, fs.ErrExist):
		kind = ErrMappingIDExists
	case errors.Is(err, fs.ErrNotExist):
		kind = ErrMappingIDDoesNotExist
	case !errors.As(err, &errno):
	case create:
		kind = ErrMapCreateFailed
	default:
		kind = ErrMapOpenFailed
	}
	return &OSError{Op: op, ID: id, Kind: kind, Err: err}
}
