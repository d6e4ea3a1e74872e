package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"time"

	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/shmem/pkg/health"
	"github.com/srediag/shmem/pkg/shm"
)

// serveCmd implements subcommands.Command for "serve".
type serveCmd struct {
	target
	addr   string
	fdSock string
}

func (*serveCmd) Name() string { return "serve" }

func (*serveCmd) Synopsis() string { return "hold a mapping and serve health and metrics" }

func (*serveCmd) Usage() string {
	return `serve (-link path | -id id) [-addr host:port] [-fd_socket path]
  Serves /live and /ready for the mapping and /metrics.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	c.setFlags(f)
	f.StringVar(&c.addr, "addr", "127.0.0.1:9464", "listen address")
	f.StringVar(&c.fdSock, "fd_socket", "", "hand out event descriptors on this unix socket")
}

// handler builds the HTTP surface for m.
func handler(m *shm.Mapping) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := shm.RegisterMetrics(reg); err != nil {
		return nil, err
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	checks := health.NewHandler(reg, "shmem")
	health.Register(checks, m)

	mux := http.NewServeMux()
	mux.Handle("/live", checks)
	mux.Handle("/ready", checks)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux, nil
}

func (c *serveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	m, err := c.open(ctx)
	if err != nil {
		return failf("serve: %v", err)
	}
	defer m.Close()

	h, err := handler(m)
	if err != nil {
		return failf("serve: %v", err)
	}
	if c.fdSock != "" {
		if err := serveEventFDs(ctx, m, c.fdSock); err != nil {
			return failf("serve: %v", err)
		}
	}
	srv := &http.Server{Addr: c.addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return failf("serve: %v", err)
	}
	return subcommands.ExitSuccess
}
