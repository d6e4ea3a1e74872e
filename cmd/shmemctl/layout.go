package main

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/srediag/shmem/pkg/shm"
)

// layout is the declarative form of a mapping read from YAML:
//
//	size: 4096
//	link: /tmp/app.link
//	locks:
//	  - {type: rwlock, offset: 0, length: 64}
//	events: [auto, manualeventfd]
type layout struct {
	Size   int             `yaml:"size"`
	Link   string          `yaml:"link"`
	OSID   string          `yaml:"os_id"`
	Locks  []lockSpec      `yaml:"locks"`
	Events []shm.EventType `yaml:"events"`
}

type lockSpec struct {
	Type   shm.LockType `yaml:"type"`
	Offset int          `yaml:"offset"`
	Length int          `yaml:"length"`
}

func loadLayout(path string) (*layout, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var l layout
	if err := dec.Decode(&l); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &l, nil
}

// config turns the layout into a mapping configuration.
func (l *layout) config() (*shm.Config, error) {
	c := shm.NewConfig().SetSize(l.Size).SetLinkPath(l.Link).SetOSID(l.OSID)
	for _, s := range l.Locks {
		if err := c.AddLock(s.Type, s.Offset, s.Length); err != nil {
			return nil, err
		}
	}
	for _, e := range l.Events {
		if err := c.AddEvent(e); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// lockFlags collects -lock type:offset:length values.
type lockFlags []lockSpec

func (f *lockFlags) String() string {
	parts := make([]string, len(*f))
	for i, s := range *f {
		parts[i] = fmt.Sprintf("%v:%d:%d", s.Type, s.Offset, s.Length)
	}
	return strings.Join(parts, ",")
}

func (f *lockFlags) Set(v string) error {
	fields := strings.Split(v, ":")
	if len(fields) != 3 {
		return fmt.Errorf("lock %q: want type:offset:length", v)
	}
	var s lockSpec
	if err := s.Type.UnmarshalText([]byte(fields[0])); err != nil {
		return err
	}
	var err error
	if s.Offset, err = strconv.Atoi(fields[1]); err != nil {
		return fmt.Errorf("lock %q offset: %w", v, err)
	}
	if s.Length, err = strconv.Atoi(fields[2]); err != nil {
		return fmt.Errorf("lock %q length: %w", v, err)
	}
	*f = append(*f, s)
	return nil
}

// eventFlags collects -event type values.
type eventFlags []shm.EventType

func (f *eventFlags) String() string {
	parts := make([]string, len(*f))
	for i, e := range *f {
		parts[i] = e.String()
	}
	return strings.Join(parts, ",")
}

func (f *eventFlags) Set(v string) error {
	var e shm.EventType
	if err := e.UnmarshalText([]byte(v)); err != nil {
		return err
	}
	*f = append(*f, e)
	return nil
}
