package shm

import (
	"fmt"
	"strings"
	"time"

	"github.com/srediag/shmem/internal/primitive"
)

// EventType selects the kind of an event. The numeric value is stored in the
// mapping.
type EventType uint8

const (
	// AutoBusy spins and resets after releasing one waiter.
	AutoBusy = EventType(primitive.AutoBusyID)
	// ManualBusy spins and stays signaled until reset.
	ManualBusy = EventType(primitive.ManualBusyID)
	// Auto sleeps in the kernel and resets after releasing one waiter.
	Auto = EventType(primitive.AutoID)
	// Manual sleeps in the kernel and stays signaled until reset.
	Manual = EventType(primitive.ManualID)
	// AutoEventFd is backed by an eventfd owned by the creator. Other
	// processes need the descriptor passed to them, see AttachEventFD.
	AutoEventFd = EventType(primitive.AutoEventFdID)
	// ManualEventFd is the manual reset variant of AutoEventFd.
	ManualEventFd = EventType(primitive.ManualEventFdID)
)

func (t EventType) String() string {
	switch t {
	case AutoBusy:
		return "AutoBusy"
	case ManualBusy:
		return "ManualBusy"
	case Auto:
		return "Auto"
	case Manual:
		return "Manual"
	case AutoEventFd:
		return "AutoEventFd"
	case ManualEventFd:
		return "ManualEventFd"
	default:
		return fmt.Sprintf("EventType(%d)", uint8(t))
	}
}

func (t EventType) MarshalText() ([]byte, error) {
	if t > ManualEventFd {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEventType, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText parses an event type name, ignoring case.
func (t *EventType) UnmarshalText(b []byte) error {
	for k := AutoBusy; k <= ManualEventFd; k++ {
		if strings.EqualFold(string(b), k.String()) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownEventType, b)
}

func (t EventType) fdBacked() bool {
	return t == AutoEventFd || t == ManualEventFd
}

// EventState is the state an event is set to.
type EventState = primitive.State

const (
	// EventWait makes waiters block.
	EventWait = primitive.Wait
	// EventSignaled releases waiters.
	EventSignaled = primitive.Signaled
)

// Infinite makes Wait block until the event is signaled.
const Infinite time.Duration = primitive.Infinite

// EventInfo describes one event of a mapping.
type EventInfo struct {
	Type EventType
	// Size is the number of mapping bytes the event occupies.
	Size int
}

type event struct {
	kind EventType
	impl primitive.Event
}

func (e *event) info() EventInfo {
	return EventInfo{Type: e.kind, Size: e.impl.Size()}
}
