// Package health provides liveness and readiness checks for processes that
// hold shared memory mappings.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	internalshm "github.com/srediag/shmem/internal/shm"
	"github.com/srediag/shmem/pkg/shm"
)

// ErrMappingClosed is reported by checks on a closed mapping.
var ErrMappingClosed = errors.New("health: mapping is closed")

// DefaultLockTimeout bounds lock probes registered by Register.
const DefaultLockTimeout = time.Second

// NewHandler returns a health handler whose check results are also exported
// to reg under namespace. A nil reg returns a plain handler.
func NewHandler(reg prometheus.Registerer, namespace string) healthcheck.Handler {
	if reg == nil {
		return healthcheck.NewHandler()
	}
	return healthcheck.NewMetricsHandler(reg, namespace)
}

// MappingCheck fails once m is closed or its backing object has been
// removed by another process.
func MappingCheck(m *shm.Mapping) healthcheck.Check {
	return func() error {
		if m.Closed() {
			return ErrMappingClosed
		}
		path := filepath.Join(internalshm.Dir(), m.OSID())
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("mapping %s: %w", m.OSID(), err)
		}
		return nil
	}
}

// LockCheck takes and releases lock i for reading. A lock that stays held
// longer than timeout fails the check; the attempt is abandoned then, so a
// holder that never releases leaves nothing behind.
func LockCheck(m *shm.Mapping, i int, timeout time.Duration) healthcheck.Check {
	return func() error {
		if err := m.RLockTimeout(i, timeout); err != nil {
			return err
		}
		return m.RUnlock(i)
	}
}

// DevShmCheck fails when less than minFree bytes are available for new
// mappings.
func DevShmCheck(minFree uint64) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		free, err := internalshm.Available(ctx)
		if err != nil {
			return err
		}
		if free < minFree {
			return fmt.Errorf("%d bytes free, need %d", free, minFree)
		}
		return nil
	}
}

// Register adds a liveness check for m and a readiness check for each of its
// locks to h.
func Register(h healthcheck.Handler, m *shm.Mapping) {
	id := m.OSID()
	h.AddLivenessCheck("mapping-"+id, MappingCheck(m))
	for i := 0; i < m.LockCount(); i++ {
		h.AddReadinessCheck(fmt.Sprintf("mapping-%s-lock-%d", id, i), LockCheck(m, i, DefaultLockTimeout))
	}
}
