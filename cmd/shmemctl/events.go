package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"time"

	"github.com/google/subcommands"

	"github.com/srediag/shmem/pkg/shm"
)

// signalCmd implements subcommands.Command for "signal".
type signalCmd struct {
	target
	index int
	reset bool
}

func (*signalCmd) Name() string { return "signal" }

func (*signalCmd) Synopsis() string { return "signal or reset an event" }

func (*signalCmd) Usage() string {
	return `signal (-link path | -id id) [-event n] [-reset]
`
}

func (c *signalCmd) SetFlags(f *flag.FlagSet) {
	c.setFlags(f)
	f.IntVar(&c.index, "event", 0, "event index")
	f.BoolVar(&c.reset, "reset", false, "set the event back to wait")
}

func (c *signalCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	m, err := c.open(ctx)
	if err != nil {
		return failf("signal: %v", err)
	}
	defer m.Close()
	state := shm.EventSignaled
	if c.reset {
		state = shm.EventWait
	}
	if err := m.Set(c.index, state); err != nil {
		return failf("signal: %v", err)
	}
	return subcommands.ExitSuccess
}

// waitCmd implements subcommands.Command for "wait".
type waitCmd struct {
	target
	index   int
	timeout time.Duration
	fdSock  string
}

func (*waitCmd) Name() string { return "wait" }

func (*waitCmd) Synopsis() string { return "wait for an event" }

func (*waitCmd) Usage() string {
	return `wait (-link path | -id id) [-event n] [-timeout d] [-fd_socket path]
  Exits 0 when signaled and 2 on timeout.
`
}

func (c *waitCmd) SetFlags(f *flag.FlagSet) {
	c.setFlags(f)
	f.IntVar(&c.index, "event", 0, "event index")
	f.DurationVar(&c.timeout, "timeout", shm.Infinite, "give up after this long, negative waits forever")
	f.StringVar(&c.fdSock, "fd_socket", "", "fetch event descriptors from the creator over this unix socket")
}

func (c *waitCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	m, err := c.open(ctx)
	if err != nil {
		return failf("wait: %v", err)
	}
	defer m.Close()
	if c.fdSock != "" {
		if err := receiveEventFDs(ctx, m, c.fdSock); err != nil {
			return failf("wait: %v", err)
		}
	}
	err = m.Wait(c.index, c.timeout)
	switch {
	case errors.Is(err, shm.ErrTimeout):
		fmt.Println("timeout")
		return subcommands.ExitUsageError
	case err != nil:
		return failf("wait: %v", err)
	}
	fmt.Println("signaled")
	return subcommands.ExitSuccess
}

func receiveEventFDs(ctx context.Context, m *shm.Mapping, path string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return err
	}
	defer conn.Close()
	return shm.ReceiveEventFDs(conn.(*net.UnixConn), m)
}

// serveEventFDs hands the event descriptors of m to every client connecting
// to path until ctx is done.
func serveEventFDs(ctx context.Context, m *shm.Mapping, path string) error {
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	go func() {
		for {
			conn, err := l.AcceptUnix()
			if err != nil {
				return
			}
			if err := shm.SendEventFDs(conn, m); err != nil {
				fmt.Printf("sending descriptors: %v\n", err)
			}
			_ = conn.Close()
		}
	}()
	return nil
}
