package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	internalshm "github.com/srediag/shmem/internal/shm"
	"github.com/srediag/shmem/pkg/shm"
)

type HealthTestSuite struct {
	suite.Suite
	dir string
	m   *shm.Mapping
}

func TestHealthTestSuite(t *testing.T) {
	suite.Run(t, new(HealthTestSuite))
}

func (s *HealthTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.T().Setenv(internalshm.DirEnv, s.dir)
	c := shm.NewConfig().SetSize(8)
	s.Require().NoError(c.AddLock(shm.Mutex, 0, 8))
	m, err := c.Create(context.Background())
	s.Require().NoError(err)
	s.m = m
}

func (s *HealthTestSuite) TearDownTest() {
	_ = s.m.Close()
}

func (s *HealthTestSuite) status(h http.Handler, path string) int {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func (s *HealthTestSuite) TestHealthy() {
	h := NewHandler(prometheus.NewRegistry(), "shmem")
	Register(h, s.m)
	s.Equal(http.StatusOK, s.status(h, "/live"))
	s.Equal(http.StatusOK, s.status(h, "/ready"))
}

func (s *HealthTestSuite) TestHeldLockNotReady() {
	h := NewHandler(nil, "")
	h.AddReadinessCheck("lock", LockCheck(s.m, 0, 20*time.Millisecond))
	s.Require().NoError(s.m.WLock(0))
	s.Equal(http.StatusServiceUnavailable, s.status(h, "/ready"))
	s.Require().NoError(s.m.WUnlock(0))
	s.Equal(http.StatusOK, s.status(h, "/ready"))
}

func (s *HealthTestSuite) TestHeldLockLeavesNoWaiters() {
	check := LockCheck(s.m, 0, 5*time.Millisecond)
	s.Require().NoError(s.m.WLock(0))
	before := runtime.NumGoroutine()
	for n := 0; n < 50; n++ {
		s.ErrorIs(check(), shm.ErrTimeout)
	}
	s.LessOrEqual(runtime.NumGoroutine(), before+5)
	s.Require().NoError(s.m.WUnlock(0))
	s.NoError(check())
}

func (s *HealthTestSuite) TestRemovedMapping() {
	check := MappingCheck(s.m)
	s.NoError(check())
	s.Require().NoError(os.Remove(filepath.Join(s.dir, s.m.OSID())))
	s.Error(check())
}

func (s *HealthTestSuite) TestClosedMapping() {
	check := MappingCheck(s.m)
	s.Require().NoError(s.m.Close())
	s.ErrorIs(check(), ErrMappingClosed)
}

func (s *HealthTestSuite) TestDevShm() {
	s.NoError(DevShmCheck(1)())
	s.Error(DevShmCheck(^uint64(0))())
}
