package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/srediag/shmem/pkg/shm"
)

// target names an existing mapping by link path or OS id.
type target struct {
	link string
	id   string
}

func (t *target) setFlags(f *flag.FlagSet) {
	f.StringVar(&t.link, "link", "", "link file naming the mapping")
	f.StringVar(&t.id, "id", "", "OS id of the mapping")
}

func (t *target) open(ctx context.Context) (*shm.Mapping, error) {
	return shm.NewConfig().SetLinkPath(t.link).SetOSID(t.id).Open(ctx)
}

func failf(format string, a ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	return subcommands.ExitFailure
}
