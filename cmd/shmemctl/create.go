package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
)

// createCmd implements subcommands.Command for "create".
type createCmd struct {
	file    string
	size    int
	link    string
	id      string
	locks   lockFlags
	events  eventFlags
	hold    bool
	persist bool
	fdSock  string
}

func (*createCmd) Name() string { return "create" }

func (*createCmd) Synopsis() string { return "create a mapping" }

func (*createCmd) Usage() string {
	return `create [-layout file.yaml] [-size n] [-link path] [-id id] [-lock type:offset:length]... [-event type]... [-hold|-persist]
  Creates a mapping and prints its OS id. The mapping is deleted when the
  command exits unless -persist is set. -hold keeps it until interrupted.
`
}

func (c *createCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "layout", "", "YAML layout file; flags are applied on top")
	f.IntVar(&c.size, "size", 0, "user data size in bytes")
	f.StringVar(&c.link, "link", "", "link file to publish the OS id in")
	f.StringVar(&c.id, "id", "", "OS id, generated when empty")
	f.Var(&c.locks, "lock", "lock as type:offset:length, repeatable")
	f.Var(&c.events, "event", "event type, repeatable")
	f.BoolVar(&c.hold, "hold", false, "keep the mapping until interrupted")
	f.BoolVar(&c.persist, "persist", false, "leave the mapping behind on exit")
	f.StringVar(&c.fdSock, "fd_socket", "", "with -hold, hand out event descriptors on this unix socket")
}

func (c *createCmd) layout() (*layout, error) {
	l := &layout{}
	if c.file != "" {
		var err error
		if l, err = loadLayout(c.file); err != nil {
			return nil, err
		}
	}
	if c.size != 0 {
		l.Size = c.size
	}
	if c.link != "" {
		l.Link = c.link
	}
	if c.id != "" {
		l.OSID = c.id
	}
	l.Locks = append(l.Locks, c.locks...)
	l.Events = append(l.Events, c.events...)
	return l, nil
}

func (c *createCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	l, err := c.layout()
	if err != nil {
		return failf("create: %v", err)
	}
	cfg, err := l.config()
	if err != nil {
		return failf("create: %v", err)
	}
	m, err := cfg.Create(ctx)
	if err != nil {
		return failf("create: %v", err)
	}
	defer m.Close()
	fmt.Println(m.OSID())

	if c.persist {
		m.SetOwner(false)
	}
	if !c.hold {
		return subcommands.ExitSuccess
	}
	if c.fdSock != "" {
		if err := serveEventFDs(ctx, m, c.fdSock); err != nil {
			return failf("create: %v", err)
		}
	}
	<-ctx.Done()
	return subcommands.ExitSuccess
}
