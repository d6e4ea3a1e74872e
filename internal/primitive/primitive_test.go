package primitive

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"
)

type PrimitiveTestSuite struct {
	suite.Suite
}

func TestPrimitiveTestSuite(t *testing.T) {
	suite.Run(t, new(PrimitiveTestSuite))
}

// storage returns 8-byte aligned scratch memory standing in for a mapping.
func storage(n int) unsafe.Pointer {
	buf := make([]uint64, (n+7)/8+1)
	return unsafe.Pointer(&buf[0])
}

func (s *PrimitiveTestSuite) TestSizes() {
	cases := map[LockID]int{MutexID: 4, RwLockID: 8, NoneID: 0}
	for id, want := range cases {
		got, err := LockSize(id)
		s.Require().NoError(err)
		s.Equal(want, got, "lock %d", id)
	}
	events := map[EventID]int{AutoBusyID: 4, ManualBusyID: 4, AutoID: 4, ManualID: 4, AutoEventFdID: 0, ManualEventFdID: 0}
	for id, want := range events {
		got, err := EventSize(id)
		s.Require().NoError(err)
		s.Equal(want, got, "event %d", id)
	}
}

func (s *PrimitiveTestSuite) TestUnknownKinds() {
	_, err := NewLock(NoneID + 1)
	s.ErrorIs(err, ErrUnknownKind)
	_, err = NewEvent(ManualEventFdID + 1)
	s.ErrorIs(err, ErrUnknownKind)
}

func (s *PrimitiveTestSuite) TestNilStorage() {
	l, err := NewLock(MutexID)
	s.Require().NoError(err)
	s.ErrorIs(l.Init(nil, true), ErrNilStorage)
	s.ErrorIs(l.WLock(), ErrNilStorage)

	e, err := NewEvent(AutoID)
	s.Require().NoError(err)
	s.ErrorIs(e.Init(nil, true), ErrNilStorage)
}

func (s *PrimitiveTestSuite) TestMutexExclusion() {
	s.exclusion(MutexID)
}

func (s *PrimitiveTestSuite) TestRwLockExclusion() {
	s.exclusion(RwLockID)
}

// exclusion hammers a counter from several goroutines through separately
// bound lock handles, the way different processes would.
func (s *PrimitiveTestSuite) exclusion(id LockID) {
	const workers, rounds = 8, 2000
	mem := storage(8)
	first, err := NewLock(id)
	s.Require().NoError(err)
	s.Require().NoError(first.Init(mem, true))

	counter := 0
	var g errgroup.Group
	for n := 0; n < workers; n++ {
		l, err := NewLock(id)
		s.Require().NoError(err)
		s.Require().NoError(l.Init(mem, false))
		g.Go(func() error {
			for n := 0; n < rounds; n++ {
				if err := l.WLock(); err != nil {
					return err
				}
				counter++
				if err := l.WUnlock(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())
	s.Equal(workers*rounds, counter)
}

func (s *PrimitiveTestSuite) TestRwLockSharedReaders() {
	mem := storage(8)
	l, err := NewLock(RwLockID)
	s.Require().NoError(err)
	s.Require().NoError(l.Init(mem, true))

	s.Require().NoError(l.RLock())
	s.Require().NoError(l.RLock())

	acquired := make(chan struct{})
	go func() {
		_ = l.WLock()
		close(acquired)
	}()
	select {
	case <-acquired:
		s.FailNow("writer entered while readers were held")
	case <-time.After(50 * time.Millisecond):
	}
	s.Require().NoError(l.RUnlock())
	s.Require().NoError(l.RUnlock())
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		s.FailNow("writer never acquired the lock")
	}
	s.Require().NoError(l.WUnlock())
}

func (s *PrimitiveTestSuite) TestEventTimeouts() {
	for _, id := range []EventID{AutoBusyID, ManualBusyID, AutoID, ManualID} {
		e, err := NewEvent(id)
		s.Require().NoError(err)
		s.Require().NoError(e.Init(storage(4), true))
		s.ErrorIs(e.Wait(0), ErrTimeout, "event %d", id)
		s.ErrorIs(e.Wait(10*time.Millisecond), ErrTimeout, "event %d", id)
	}
}

func (s *PrimitiveTestSuite) TestAutoEventReleasesOnce() {
	for _, id := range []EventID{AutoBusyID, AutoID} {
		e, err := NewEvent(id)
		s.Require().NoError(err)
		s.Require().NoError(e.Init(storage(4), true))

		s.Require().NoError(e.Set(Signaled))
		s.Require().NoError(e.Wait(time.Second))
		s.ErrorIs(e.Wait(0), ErrTimeout, "event %d", id)
	}
}

func (s *PrimitiveTestSuite) TestAutoEventReleasesOnePendingWaiter() {
	for _, id := range []EventID{AutoBusyID, AutoID} {
		mem := storage(4)
		setter, err := NewEvent(id)
		s.Require().NoError(err)
		s.Require().NoError(setter.Init(mem, true))
		waiters := make([]Event, 3)
		for i := range waiters {
			waiters[i], err = NewEvent(id)
			s.Require().NoError(err)
			s.Require().NoError(waiters[i].Init(mem, false))
		}
		s.Equal(1, releasedWaiters(s.T(), setter, waiters), "event %d", id)
	}
}

// releasedWaiters parks every waiter, signals setter once and returns how
// many waiters were released before the rest timed out.
func releasedWaiters(t *testing.T, setter Event, waiters []Event) int {
	var ready sync.WaitGroup
	var released atomic.Int32
	var g errgroup.Group
	for _, e := range waiters {
		e := e
		ready.Add(1)
		g.Go(func() error {
			ready.Done()
			err := e.Wait(300 * time.Millisecond)
			switch {
			case err == nil:
				released.Add(1)
			case errors.Is(err, ErrTimeout):
			default:
				return err
			}
			return nil
		})
	}
	ready.Wait()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, setter.Set(Signaled))
	require.NoError(t, g.Wait())
	return int(released.Load())
}

func (s *PrimitiveTestSuite) TestLockTimeout() {
	for _, id := range []LockID{MutexID, RwLockID} {
		mem := storage(8)
		holder, err := NewLock(id)
		s.Require().NoError(err)
		s.Require().NoError(holder.Init(mem, true))
		other, err := NewLock(id)
		s.Require().NoError(err)
		s.Require().NoError(other.Init(mem, false))

		s.Require().NoError(holder.WLock())
		s.ErrorIs(other.WLockTimeout(0), ErrTimeout, "lock %d", id)
		s.ErrorIs(other.RLockTimeout(10*time.Millisecond), ErrTimeout, "lock %d", id)
		s.ErrorIs(other.WLockTimeout(10*time.Millisecond), ErrTimeout, "lock %d", id)

		// A waiter that gave up must not keep the lock from being taken.
		s.Require().NoError(holder.WUnlock())
		s.Require().NoError(other.RLockTimeout(time.Second))
		s.Require().NoError(other.RUnlock())
		s.Require().NoError(holder.WLockTimeout(0))
		s.Require().NoError(holder.WUnlock())
	}
}

func (s *PrimitiveTestSuite) TestLockTimeoutWaitsForRelease() {
	for _, id := range []LockID{MutexID, RwLockID} {
		mem := storage(8)
		holder, err := NewLock(id)
		s.Require().NoError(err)
		s.Require().NoError(holder.Init(mem, true))
		other, err := NewLock(id)
		s.Require().NoError(err)
		s.Require().NoError(other.Init(mem, false))

		s.Require().NoError(holder.WLock())
		time.AfterFunc(20*time.Millisecond, func() { _ = holder.WUnlock() })
		s.Require().NoError(other.WLockTimeout(5*time.Second), "lock %d", id)
		s.Require().NoError(other.WUnlock())
	}
}

func (s *PrimitiveTestSuite) TestManualEventStaysSignaled() {
	for _, id := range []EventID{ManualBusyID, ManualID} {
		e, err := NewEvent(id)
		s.Require().NoError(err)
		s.Require().NoError(e.Init(storage(4), true))

		s.Require().NoError(e.Set(Signaled))
		s.Require().NoError(e.Wait(0))
		s.Require().NoError(e.Wait(0))
		s.Require().NoError(e.Set(Wait))
		s.ErrorIs(e.Wait(0), ErrTimeout, "event %d", id)
	}
}

func (s *PrimitiveTestSuite) TestManualEventWakesAll() {
	mem := storage(4)
	setter, err := NewEvent(ManualID)
	s.Require().NoError(err)
	s.Require().NoError(setter.Init(mem, true))

	const waiters = 4
	var ready sync.WaitGroup
	var g errgroup.Group
	for n := 0; n < waiters; n++ {
		e, err := NewEvent(ManualID)
		s.Require().NoError(err)
		s.Require().NoError(e.Init(mem, false))
		ready.Add(1)
		g.Go(func() error {
			ready.Done()
			return e.Wait(5 * time.Second)
		})
	}
	ready.Wait()
	time.Sleep(10 * time.Millisecond)
	s.Require().NoError(setter.Set(Signaled))
	s.Require().NoError(g.Wait())
}

func TestDeadline(t *testing.T) {
	require.True(t, deadline(Infinite).IsZero())
	left, err := remaining(deadline(Infinite))
	require.NoError(t, err)
	require.Equal(t, Infinite, left)

	_, err = remaining(time.Now().Add(-time.Second))
	require.ErrorIs(t, err, ErrTimeout)
}
