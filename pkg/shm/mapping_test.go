package shm

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	internalshm "github.com/srediag/shmem/internal/shm"
)

const (
	childIDEnv  = "SHMEM_TEST_CHILD_OS_ID"
	childDirEnv = "SHMEM_TEST_CHILD_DIR"
)

type MappingTestSuite struct {
	suite.Suite
	ctx context.Context
	dir string
}

func TestMappingTestSuite(t *testing.T) {
	suite.Run(t, new(MappingTestSuite))
}

func (s *MappingTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.dir = s.T().TempDir()
	s.T().Setenv(internalshm.DirEnv, s.dir)
}

func (s *MappingTestSuite) exists(name string) bool {
	_, err := os.Stat(filepath.Join(s.dir, name))
	return err == nil
}

func (s *MappingTestSuite) TestCreateRejectsZeroSize() {
	_, err := NewConfig().Create(s.ctx)
	s.ErrorIs(err, ErrMappingSizeZero)
}

func (s *MappingTestSuite) TestRoundTrip() {
	c := NewConfig().SetSize(256)
	s.Require().NoError(c.AddLock(Mutex, 0, 8))
	s.Require().NoError(c.AddLock(RwLock, 8, 64))
	s.Require().NoError(c.AddLock(None, 72, 8))
	s.Require().NoError(c.AddLock(Mutex, 0, 0))
	s.Require().NoError(c.AddEvent(AutoBusy))
	s.Require().NoError(c.AddEvent(Manual))
	meta, err := c.MetadataSize()
	s.Require().NoError(err)

	created, err := c.Create(s.ctx)
	s.Require().NoError(err)
	defer created.Close()
	s.True(created.IsOwner())
	s.Equal(meta, created.MetadataSize())
	s.Equal(256, created.Size())
	s.Equal(meta+256, created.Len())
	s.True(s.exists(created.OSID()))

	opened, err := NewConfig().SetOSID(created.OSID()).Open(s.ctx)
	s.Require().NoError(err)
	defer opened.Close()
	s.False(opened.IsOwner())
	s.Equal(meta, opened.MetadataSize())
	s.Equal(256, opened.Size())

	wantLocks := []LockInfo{
		{Type: Mutex, Offset: 0, Length: 8},
		{Type: RwLock, Offset: 8, Length: 64},
		{Type: None, Offset: 72, Length: 8},
		{Type: Mutex, Offset: 0, Length: 0},
	}
	s.Empty(cmp.Diff(wantLocks, opened.Locks()))
	s.Empty(cmp.Diff(created.Locks(), opened.Locks()))
	wantEvents := []EventInfo{{Type: AutoBusy, Size: 4}, {Type: Manual, Size: 4}}
	s.Empty(cmp.Diff(wantEvents, opened.Events()))
}

func (s *MappingTestSuite) TestSharedData() {
	c := NewConfig().SetSize(4)
	s.Require().NoError(c.AddLock(Mutex, 0, 4))
	a, err := c.Create(s.ctx)
	s.Require().NoError(err)
	defer a.Close()

	b, err := NewConfig().SetOSID(a.OSID()).Open(s.ctx)
	s.Require().NoError(err)
	defer b.Close()

	w, err := WriteLock[uint32](a, 0)
	s.Require().NoError(err)
	w.Store(0xBADC0FEE)
	s.Require().NoError(w.Release())

	r, err := ReadLock[uint32](b, 0)
	s.Require().NoError(err)
	s.Equal(uint32(0xBADC0FEE), r.Load())
	s.Require().NoError(r.Release())
}

func (s *MappingTestSuite) TestLinkLifecycle() {
	link := filepath.Join(s.T().TempDir(), "mapping.link")
	c := NewConfig().SetSize(16).SetLinkPath(link)
	s.Require().NoError(c.AddLock(RwLock, 0, 16))
	created, err := c.Create(s.ctx)
	s.Require().NoError(err)

	content, err := os.ReadFile(link)
	s.Require().NoError(err)
	s.Equal(created.OSID(), string(content))
	s.Equal(link, created.LinkPath())

	_, err = NewConfig().SetSize(16).SetLinkPath(link).Create(s.ctx)
	s.ErrorIs(err, ErrLinkExists)

	opened, err := NewConfig().SetLinkPath(link).Open(s.ctx)
	s.Require().NoError(err)
	s.Equal(created.OSID(), opened.OSID())
	s.Require().NoError(opened.Close())
	s.FileExists(link, "closing a non-owner keeps the link")

	_, err = NewConfig().SetLinkPath(link).SetOSID("other").Open(s.ctx)
	s.ErrorIs(err, ErrLinkInvalidOSID)

	id := created.OSID()
	s.Require().NoError(created.Close())
	s.NoFileExists(link)
	s.False(s.exists(id))

	_, err = NewConfig().SetLinkPath(link).Open(s.ctx)
	s.ErrorIs(err, ErrLinkDoesNotExist)
	_, err = NewConfig().SetOSID(id).Open(s.ctx)
	s.ErrorIs(err, ErrMappingIDDoesNotExist)
}

func (s *MappingTestSuite) TestFailedCreateRemovesLink() {
	link := filepath.Join(s.T().TempDir(), "mapping.link")
	first, err := NewConfig().SetSize(8).SetOSID("taken").Create(s.ctx)
	s.Require().NoError(err)
	defer first.Close()

	_, err = NewConfig().SetSize(8).SetOSID("taken").SetLinkPath(link).Create(s.ctx)
	s.Require().ErrorIs(err, ErrMappingIDExists)
	s.NoFileExists(link)
	s.True(s.exists("taken"))
}

func (s *MappingTestSuite) TestDuplicateID() {
	first, err := NewConfig().SetSize(8).SetOSID("shared").Create(s.ctx)
	s.Require().NoError(err)
	defer first.Close()

	_, err = NewConfig().SetSize(8).SetOSID("shared").Create(s.ctx)
	s.Require().ErrorIs(err, ErrMappingIDExists)
	var osErr *OSError
	s.Require().ErrorAs(err, &osErr)
	s.Equal("shared", osErr.ID)

	third, err := NewConfig().SetOSID("shared").Open(s.ctx)
	s.Require().NoError(err)
	s.NoError(third.Close())
}

func (s *MappingTestSuite) TestMissingIdentifier() {
	_, err := NewConfig().Open(s.ctx)
	s.ErrorIs(err, ErrMissingIdentifier)
}

func (s *MappingTestSuite) TestOwnershipTransfer() {
	created, err := NewConfig().SetSize(8).Create(s.ctx)
	s.Require().NoError(err)
	id := created.OSID()

	opened, err := NewConfig().SetOSID(id).Open(s.ctx)
	s.Require().NoError(err)
	s.True(created.SetOwner(false))
	s.False(opened.SetOwner(true))

	s.Require().NoError(created.Close())
	s.True(s.exists(id))
	s.Require().NoError(opened.Close())
	s.False(s.exists(id))
}

func (s *MappingTestSuite) TestOwnershipTransferRemovesLink() {
	link := filepath.Join(s.T().TempDir(), "handoff")
	created, err := NewConfig().SetSize(8).SetLinkPath(link).Create(s.ctx)
	s.Require().NoError(err)
	opened, err := NewConfig().SetLinkPath(link).Open(s.ctx)
	s.Require().NoError(err)
	s.True(created.SetOwner(false))
	s.False(opened.SetOwner(true))

	s.Require().NoError(created.Close())
	s.FileExists(link)
	s.Require().NoError(opened.Close())
	s.NoFileExists(link)
	s.False(s.exists(created.OSID()))

	again, err := NewConfig().SetSize(8).SetLinkPath(link).Create(s.ctx)
	s.Require().NoError(err)
	s.NoError(again.Close())
	s.NoFileExists(link)
}

func (s *MappingTestSuite) TestOwnerKeepsReusedLink() {
	link := filepath.Join(s.T().TempDir(), "reused")
	created, err := NewConfig().SetSize(8).SetLinkPath(link).Create(s.ctx)
	s.Require().NoError(err)
	opened, err := NewConfig().SetLinkPath(link).Open(s.ctx)
	s.Require().NoError(err)
	opened.SetOwner(true)
	created.SetOwner(false)
	s.Require().NoError(created.Close())

	// Another mapping took over the path before the new owner closed.
	s.Require().NoError(os.Remove(link))
	next, err := NewConfig().SetSize(8).SetLinkPath(link).Create(s.ctx)
	s.Require().NoError(err)
	defer next.Close()

	s.Require().NoError(opened.Close())
	id, err := readLink(link)
	s.Require().NoError(err)
	s.Equal(next.OSID(), id)
}

func (s *MappingTestSuite) TestCloneSharesRegion() {
	created, err := NewConfig().SetSize(8).Create(s.ctx)
	s.Require().NoError(err)
	clone, err := created.Clone()
	s.Require().NoError(err)

	s.Require().NoError(created.Close())
	s.ErrorIs(created.Close(), ErrClosed)
	s.True(s.exists(clone.OSID()), "clone keeps the region alive")
	_, err = created.Clone()
	s.ErrorIs(err, ErrClosed)

	s.Require().NoError(clone.Close())
	s.False(s.exists(clone.OSID()))
}

func (s *MappingTestSuite) TestGeneratedIDRetry() {
	// Every generated id is fresh, so creating many in a row must never
	// surface a collision.
	seen := map[string]bool{}
	for n := 0; n < 16; n++ {
		m, err := NewConfig().SetSize(8).WithIDRetries(0).Create(s.ctx)
		s.Require().NoError(err)
		s.False(seen[m.OSID()])
		seen[m.OSID()] = true
		s.Regexp(`^shmem_go_[0-9A-F]{16}$`, m.OSID())
		s.Require().NoError(m.Close())
	}
}

func (s *MappingTestSuite) TestCrossProcess() {
	c := NewConfig().SetSize(4)
	s.Require().NoError(c.AddLock(Mutex, 0, 4))
	m, err := c.Create(s.ctx)
	s.Require().NoError(err)
	defer m.Close()

	s.Require().NoError(WithWrite(m, 0, func(v *uint32) error {
		*v = 0xBADC0FEE
		return nil
	}))

	cmd := exec.Command(os.Args[0], "-test.run=^TestCrossProcessChild$", "-test.count=1")
	cmd.Env = append(os.Environ(), childIDEnv+"="+m.OSID(), childDirEnv+"="+s.dir)
	out, err := cmd.CombinedOutput()
	s.Require().NoError(err, string(out))

	got, err := ReadLock[uint32](m, 0)
	s.Require().NoError(err)
	defer got.Release()
	s.Equal(uint32(0xFEEDF00D), got.Load(), "child write is visible")
}

// TestCrossProcessChild runs in a separate process started by
// TestCrossProcess.
func TestCrossProcessChild(t *testing.T) {
	id := os.Getenv(childIDEnv)
	if id == "" {
		t.Skip("only runs as a child process")
	}
	t.Setenv(internalshm.DirEnv, os.Getenv(childDirEnv))

	m, err := NewConfig().SetOSID(id).Open(context.Background())
	require.NoError(t, err)
	defer m.Close()
	require.False(t, m.IsOwner())

	require.NoError(t, WithRead(m, 0, func(v *uint32) error {
		if *v != 0xBADC0FEE {
			return errors.New("unexpected value")
		}
		return nil
	}))
	require.NoError(t, WithWrite(m, 0, func(v *uint32) error {
		*v = 0xFEEDF00D
		return nil
	}))
}

func (s *MappingTestSuite) TestEventsAcrossHandles() {
	c := NewConfig().SetSize(8)
	s.Require().NoError(c.AddEvent(Auto))
	s.Require().NoError(c.AddEvent(ManualBusy))
	a, err := c.Create(s.ctx)
	s.Require().NoError(err)
	defer a.Close()
	b, err := NewConfig().SetOSID(a.OSID()).Open(s.ctx)
	s.Require().NoError(err)
	defer b.Close()

	s.ErrorIs(b.Wait(0, 0), ErrTimeout)

	done := make(chan error, 1)
	go func() { done <- b.Wait(0, Infinite) }()
	time.Sleep(10 * time.Millisecond)
	s.Require().NoError(a.Set(0, EventSignaled))
	s.Require().NoError(<-done)
	s.ErrorIs(b.Wait(0, 5*time.Millisecond), ErrTimeout, "auto event resets")

	s.Require().NoError(a.Set(1, EventSignaled))
	s.NoError(b.Wait(1, 0))
	s.NoError(a.Wait(1, 0))
	s.Require().NoError(b.Set(1, EventWait))
	s.ErrorIs(a.Wait(1, 0), ErrTimeout)

	s.ErrorIs(a.Wait(2, 0), ErrIndexOutOfRange)
	s.ErrorIs(a.Set(-1, EventSignaled), ErrIndexOutOfRange)
	_, err = a.EventFD(0)
	s.ErrorIs(err, ErrNotEventFD)
}

func (s *MappingTestSuite) TestManualLocking() {
	c := NewConfig().SetSize(8)
	s.Require().NoError(c.AddLock(RwLock, 0, 0))
	m, err := c.Create(s.ctx)
	s.Require().NoError(err)
	defer m.Close()

	s.Require().NoError(m.RLock(0))
	s.Require().NoError(m.RLock(0))
	s.Require().NoError(m.RUnlock(0))
	s.Require().NoError(m.RUnlock(0))
	s.Require().NoError(m.WLock(0))
	s.Require().NoError(m.WUnlock(0))
	s.ErrorIs(m.WLock(1), ErrIndexOutOfRange)

	s.Require().NoError(m.Close())
	s.ErrorIs(m.RLock(0), ErrClosed)
}

func (s *MappingTestSuite) TestLockTimeout() {
	c := NewConfig().SetSize(8)
	s.Require().NoError(c.AddLock(RwLock, 0, 8))
	m, err := c.Create(s.ctx)
	s.Require().NoError(err)
	defer m.Close()

	s.Require().NoError(m.RLock(0))
	s.Require().NoError(m.RLockTimeout(0, 0))
	err = m.WLockTimeout(0, 10*time.Millisecond)
	s.ErrorIs(err, ErrTimeout)
	s.ErrorIs(err, ErrFailedToAcquireLock)
	s.Require().NoError(m.RUnlock(0))
	s.Require().NoError(m.RUnlock(0))

	s.Require().NoError(m.WLockTimeout(0, time.Second))
	s.ErrorIs(m.RLockTimeout(0, 0), ErrTimeout)
	s.Require().NoError(m.WUnlock(0))
	s.ErrorIs(m.WLockTimeout(1, time.Second), ErrIndexOutOfRange)
}
