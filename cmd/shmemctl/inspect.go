package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/srediag/shmem/pkg/shm"
)

// inspectCmd implements subcommands.Command for "inspect".
type inspectCmd struct {
	target
	asJSON bool
}

func (*inspectCmd) Name() string { return "inspect" }

func (*inspectCmd) Synopsis() string { return "print the layout of a mapping" }

func (*inspectCmd) Usage() string {
	return `inspect (-link path | -id id) [-json]
`
}

func (c *inspectCmd) SetFlags(f *flag.FlagSet) {
	c.setFlags(f)
	f.BoolVar(&c.asJSON, "json", false, "print JSON")
}

type report struct {
	OSID         string          `json:"os_id"`
	LinkPath     string          `json:"link_path,omitempty"`
	Size         int             `json:"size"`
	MetadataSize int             `json:"metadata_size"`
	Len          int             `json:"len"`
	Locks        []shm.LockInfo  `json:"locks"`
	Events       []shm.EventInfo `json:"events"`
}

func newReport(m *shm.Mapping) report {
	return report{
		OSID:         m.OSID(),
		LinkPath:     m.LinkPath(),
		Size:         m.Size(),
		MetadataSize: m.MetadataSize(),
		Len:          m.Len(),
		Locks:        m.Locks(),
		Events:       m.Events(),
	}
}

func (r report) writeText(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "os id\t%s\n", r.OSID)
	if r.LinkPath != "" {
		fmt.Fprintf(w, "link\t%s\n", r.LinkPath)
	}
	fmt.Fprintf(w, "size\t%d\nmetadata\t%d\ntotal\t%d\n\n", r.Size, r.MetadataSize, r.Len)
	fmt.Fprintln(w, "LOCK\tTYPE\tOFFSET\tLENGTH")
	for i, l := range r.Locks {
		fmt.Fprintf(w, "%d\t%v\t%d\t%d\n", i, l.Type, l.Offset, l.Length)
	}
	fmt.Fprintln(w, "\nEVENT\tTYPE\tBYTES")
	for i, e := range r.Events {
		fmt.Fprintf(w, "%d\t%v\t%d\n", i, e.Type, e.Size)
	}
	return w.Flush()
}

func (c *inspectCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	m, err := c.open(ctx)
	if err != nil {
		return failf("inspect: %v", err)
	}
	defer m.Close()

	r := newReport(m)
	if c.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(r)
	} else {
		err = r.writeText(os.Stdout)
	}
	if err != nil {
		return failf("inspect: %v", err)
	}
	return subcommands.ExitSuccess
}
