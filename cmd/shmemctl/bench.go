package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/subcommands"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/srediag/shmem/pkg/shm"
)

// benchCmd implements subcommands.Command for "bench".
type benchCmd struct {
	target
	lock    int
	workers int
	ops     int
}

func (*benchCmd) Name() string { return "bench" }

func (*benchCmd) Synopsis() string { return "measure lock throughput on a mapping" }

func (*benchCmd) Usage() string {
	return `bench (-link path | -id id) [-lock n] [-workers n] [-ops n]
  Increments the uint64 guarded by the lock from a pool of workers.
`
}

func (c *benchCmd) SetFlags(f *flag.FlagSet) {
	c.setFlags(f)
	f.IntVar(&c.lock, "lock", 0, "lock index")
	f.IntVar(&c.workers, "workers", 4, "concurrent workers")
	f.IntVar(&c.ops, "ops", 100000, "increments per worker")
}

type benchResult struct {
	ops     int
	elapsed time.Duration
	value   uint64
}

func (r benchResult) String() string {
	rate := float64(r.ops) / r.elapsed.Seconds()
	return fmt.Sprintf("%d ops in %v (%.0f ops/s), counter %d", r.ops, r.elapsed, rate, r.value)
}

// runBench increments the counter under lock i from workers pool goroutines.
// The first failing worker cancels the others.
func runBench(ctx context.Context, m *shm.Mapping, i, workers, ops int) (benchResult, error) {
	pool, err := ants.NewPool(workers)
	if err != nil {
		return benchResult{}, err
	}
	defer pool.Release()

	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for n := 0; n < workers; n++ {
		g.Go(func() error {
			done := make(chan error, 1)
			if err := pool.Submit(func() { done <- increment(ctx, m, i, ops) }); err != nil {
				return err
			}
			return <-done
		})
	}
	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}
	res := benchResult{ops: workers * ops, elapsed: time.Since(start)}
	err = shm.WithRead(m, i, func(v *uint64) error {
		res.value = *v
		return nil
	})
	return res, err
}

func increment(ctx context.Context, m *shm.Mapping, i, ops int) error {
	for n := 0; n < ops; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := shm.WithWrite(m, i, func(v *uint64) error {
			*v++
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *benchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if c.workers <= 0 || c.ops <= 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	m, err := c.open(ctx)
	if err != nil {
		return failf("bench: %v", err)
	}
	defer m.Close()
	res, err := runBench(ctx, m, c.lock, c.workers, c.ops)
	if err != nil {
		return failf("bench: %v", err)
	}
	fmt.Println(res)
	return subcommands.ExitSuccess
}
