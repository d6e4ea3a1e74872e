// Command shmemctl creates, inspects and exercises shared memory mappings.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"github.com/srediag/shmem/pkg/shm"
)

var logLevel = flag.Int("log_level", shm.LevelWarn, "log level, 0 (trace) to 5 (silent)")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&createCmd{}, "mapping")
	subcommands.Register(&inspectCmd{}, "mapping")
	subcommands.Register(&signalCmd{}, "events")
	subcommands.Register(&waitCmd{}, "events")
	subcommands.Register(&benchCmd{}, "tools")
	subcommands.Register(&serveCmd{}, "tools")

	// All subcommands must be registered before flag parsing.
	flag.Parse()
	shm.SetLogLevel(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := subcommands.Execute(ctx)
	stop()
	os.Exit(int(code))
}
