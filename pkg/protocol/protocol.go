// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package protocol sequences the phases of a stimulation protocol across
// processes. The controller runs a Coordinator, every process that presents
// phases runs a Follower; both only communicate through STATE and CONTROL.
package protocol

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"gopkg.in/yaml.v2"
)

var (
	// Error is the default protocol errs class.
	Error = errs.Class("protocol")

	// ErrRejected is returned when a protocol cannot be started now.
	ErrRejected = errs.Class("protocol rejected")

	mon = monkit.Package()
)

// Phase is one timed segment of a protocol.
type Phase struct {
	// Duration is the length of the phase in seconds.
	Duration float64 `yaml:"duration"`
	// Visual names the stimulus the display presents.
	Visual string `yaml:"visual,omitempty"`
	// Params configure the visual.
	Params map[string]interface{} `yaml:"params,omitempty"`
	// IO maps output pins to the values set for this phase.
	IO map[string]float64 `yaml:"io,omitempty"`
}

// Protocol is an ordered list of phases.
type Protocol struct {
	Name string `yaml:"name"`
	// Repeat runs the phase list this many times, once when zero.
	Repeat int     `yaml:"repeat,omitempty"`
	Phases []Phase `yaml:"phases"`
}

// Count returns the number of phases including repetitions.
func (protocol *Protocol) Count() int {
	return len(protocol.Phases) * protocol.repeats()
}

// Phase returns phase i counting repetitions.
func (protocol *Protocol) Phase(i int) (Phase, bool) {
	if i < 0 || i >= protocol.Count() {
		return Phase{}, false
	}
	return protocol.Phases[i%len(protocol.Phases)], true
}

// Duration returns the total length in seconds, without startup delays.
func (protocol *Protocol) Duration() float64 {
	var total float64
	for _, phase := range protocol.Phases {
		total += phase.Duration
	}
	return total * float64(protocol.repeats())
}

func (protocol *Protocol) repeats() int {
	if protocol.Repeat <= 0 {
		return 1
	}
	return protocol.Repeat
}

// Validate checks that the protocol can be run.
func (protocol *Protocol) Validate() error {
	if protocol.Name == "" {
		return Error.New("protocol without name")
	}
	if len(protocol.Phases) == 0 {
		return Error.New("%q: no phases", protocol.Name)
	}
	for i, phase := range protocol.Phases {
		if phase.Duration <= 0 {
			return Error.New("%q: phase %d has duration %v", protocol.Name, i, phase.Duration)
		}
	}
	return nil
}

// Load reads a protocol from a YAML file. Without a name the file name is used.
func Load(path string) (_ *Protocol, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	var protocol Protocol
	if err := yaml.UnmarshalStrict(data, &protocol); err != nil {
		return nil, Error.New("parsing %q: %w", path, err)
	}
	if protocol.Name == "" {
		protocol.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := protocol.Validate(); err != nil {
		return nil, err
	}
	return &protocol, nil
}

// Library holds the protocols that can be started by name.
type Library struct {
	mu        sync.RWMutex
	protocols map[string]*Protocol
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{protocols: map[string]*Protocol{}}
}

// Register adds a protocol.
func (library *Library) Register(protocol *Protocol) error {
	if err := protocol.Validate(); err != nil {
		return err
	}
	library.mu.Lock()
	defer library.mu.Unlock()
	if _, ok := library.protocols[protocol.Name]; ok {
		return Error.New("protocol %q already registered", protocol.Name)
	}
	library.protocols[protocol.Name] = protocol
	return nil
}

// LoadDir registers every YAML protocol in dir.
func (library *Library) LoadDir(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return Error.Wrap(err)
	}
	var group errs.Group
	for _, path := range matches {
		protocol, err := Load(path)
		if err != nil {
			group.Add(err)
			continue
		}
		group.Add(library.Register(protocol))
	}
	return group.Err()
}

// Names returns the registered protocol names, sorted.
func (library *Library) Names() []string {
	library.mu.RLock()
	defer library.mu.RUnlock()
	names := make([]string, 0, len(library.protocols))
	for name := range library.protocols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the protocol registered as name, or loads name as a file.
func (library *Library) Resolve(name string) (*Protocol, error) {
	library.mu.RLock()
	protocol, ok := library.protocols[name]
	library.mu.RUnlock()
	if ok {
		return protocol, nil
	}
	if _, err := os.Stat(name); err != nil {
		return nil, Error.New("unknown protocol %q", name)
	}
	return Load(name)
}
