// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package attribute

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/errs"
)

// ManifestName is the file describing all segments of a registry.
const ManifestName = "registry.json"

const manifestVersion = 1

type manifest struct {
	Version    int    `json:"version"`
	Attributes []Spec `json:"attributes"`
}

// Options configures the process using a registry.
type Options struct {
	// Process is the name of the current process, checked against attribute owners.
	// An empty process may write every attribute.
	Process string
	// Clock timestamps writes. Defaults to a clock started at load time.
	Clock Clock
}

// Registry holds every attribute of a session.
//
// Attributes are registered and allocated by the controller before any child
// process starts. Children load the registry from its manifest and attach to
// the segments with BuildAll.
type Registry struct {
	dir     string
	process string
	clock   Clock

	mu        sync.RWMutex
	allocated bool
	rings     map[string]*Ring
	order     []string
}

// NewRegistry creates an empty registry storing its segments in dir.
func NewRegistry(dir string, opts Options) *Registry {
	reg := &Registry{
		dir:   dir,
		rings: map[string]*Ring{},
	}
	reg.configure(opts)
	return reg
}

func (reg *Registry) configure(opts Options) {
	reg.process = opts.Process
	reg.clock = opts.Clock
	if reg.clock == nil {
		reg.clock = EpochClock{Epoch: time.Now()}
	}
}

// Dir returns the directory holding the segments.
func (reg *Registry) Dir() string { return reg.dir }

// Process returns the name of the current process.
func (reg *Registry) Process() string { return reg.process }

// Clock returns the clock used to timestamp writes.
func (reg *Registry) Clock() Clock { return reg.clock }

// Register adds an attribute. Registering after Allocate allocates the
// segment immediately; processes that already loaded the manifest do not see it.
func (reg *Registry) Register(spec Spec) (*Ring, error) {
	if err := spec.normalize(); err != nil {
		return nil, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.rings[spec.Name]; exists {
		return nil, ErrDuplicate.New("%q", spec.Name)
	}

	ring := reg.newRing(spec)
	if reg.allocated {
		if err := initSegment(ring.path, spec); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	reg.rings[spec.Name] = ring
	reg.order = append(reg.order, spec.Name)

	if reg.allocated {
		if err := reg.writeManifest(); err != nil {
			return nil, err
		}
	}
	return ring, nil
}

func (reg *Registry) newRing(spec Spec) *Ring {
	return &Ring{
		spec: spec,
		path: filepath.Join(reg.dir, spec.Name+".attr"),
		reg:  reg,
	}
}

// Get returns the attribute with the given name or nil.
func (reg *Registry) Get(name string) *Ring {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rings[name]
}

// Names returns attribute names in registration order.
func (reg *Registry) Names() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return append([]string(nil), reg.order...)
}

// All returns every attribute in registration order.
func (reg *Registry) All() []*Ring {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	rings := make([]*Ring, 0, len(reg.order))
	for _, name := range reg.order {
		rings = append(rings, reg.rings[name])
	}
	return rings
}

// Persisted returns the attributes owned by process that are marked for
// recording, sorted by name.
func (reg *Registry) Persisted(owner string) []*Ring {
	var rings []*Ring
	for _, ring := range reg.All() {
		if ring.spec.Persist && ring.spec.Owner == owner {
			rings = append(rings, ring)
		}
	}
	sort.Slice(rings, func(i, k int) bool { return rings[i].spec.Name < rings[k].spec.Name })
	return rings
}

// Allocate creates a segment for every registered attribute and writes the
// manifest.
func (reg *Registry) Allocate() (err error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.allocated {
		return nil
	}
	if err := os.MkdirAll(reg.dir, 0700); err != nil {
		return Error.Wrap(err)
	}

	for _, name := range reg.order {
		ring := reg.rings[name]
		if err := initSegment(ring.path, ring.spec); err != nil {
			return Error.New("allocating %q: %w", name, err)
		}
	}
	if err := reg.writeManifest(); err != nil {
		return err
	}

	reg.allocated = true
	return nil
}

func (reg *Registry) writeManifest() error {
	m := manifest{Version: manifestVersion}
	for _, name := range reg.order {
		m.Attributes = append(m.Attributes, reg.rings[name].spec)
	}

	data, err := json.MarshalIndent(m, "", "\t")
	if err != nil {
		return Error.Wrap(err)
	}

	path := filepath.Join(reg.dir, ManifestName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(os.Rename(tmp, path))
}

// Load reads the manifest in dir. Attributes still need BuildAll before use.
func Load(dir string, opts Options) (*Registry, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, Error.New("invalid manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, Error.New("unsupported manifest version %d", m.Version)
	}

	reg := NewRegistry(dir, opts)
	reg.allocated = true
	for _, spec := range m.Attributes {
		if err := spec.normalize(); err != nil {
			return nil, err
		}
		if _, exists := reg.rings[spec.Name]; exists {
			return nil, ErrDuplicate.New("%q in manifest", spec.Name)
		}
		reg.rings[spec.Name] = reg.newRing(spec)
		reg.order = append(reg.order, spec.Name)
	}
	return reg, nil
}

// BuildAll attaches every attribute in this process.
func (reg *Registry) BuildAll() error {
	var group errs.Group
	for _, ring := range reg.All() {
		group.Add(ring.Build())
	}
	return group.Err()
}

// Close detaches every attribute.
func (reg *Registry) Close() error {
	var group errs.Group
	for _, ring := range reg.All() {
		group.Add(ring.Close())
	}
	return group.Err()
}

// RegisterArray registers an array attribute with element type T.
func RegisterArray[T Numeric](reg *Registry, name string, shape Shape, opts ...Option) (*Array[T], error) {
	spec := Spec{Name: name, Kind: KindArray, DType: DTypeOf[T](), Shape: shape}
	for _, opt := range opts {
		opt(&spec)
	}
	ring, err := reg.Register(spec)
	if err != nil {
		return nil, err
	}
	return &Array[T]{Ring: ring}, nil
}

// RegisterObject registers an object attribute holding values of type T.
func RegisterObject[T any](reg *Registry, name string, opts ...Option) (*Object[T], error) {
	spec := Spec{Name: name, Kind: KindObject, DType: ObjectType}
	for _, opt := range opts {
		opt(&spec)
	}
	ring, err := reg.Register(spec)
	if err != nil {
		return nil, err
	}
	return &Object[T]{Ring: ring}, nil
}

// GetArray returns the array attribute name with element type T.
func GetArray[T Numeric](reg *Registry, name string) (*Array[T], error) {
	ring := reg.Get(name)
	if ring == nil {
		return nil, Error.New("unknown attribute %q", name)
	}
	return AsArray[T](ring)
}

// AsArray returns a typed view of ring.
func AsArray[T Numeric](ring *Ring) (*Array[T], error) {
	if ring.spec.Kind != KindArray || ring.spec.DType != DTypeOf[T]() {
		return nil, ErrShape.New("%q holds %s %s, not %s array", ring.spec.Name, ring.spec.DType, ring.spec.Kind, DTypeOf[T]())
	}
	return &Array[T]{Ring: ring}, nil
}

// GetObject returns the object attribute name decoded as T.
func GetObject[T any](reg *Registry, name string) (*Object[T], error) {
	ring := reg.Get(name)
	if ring == nil {
		return nil, Error.New("unknown attribute %q", name)
	}
	if ring.spec.Kind != KindObject {
		return nil, ErrShape.New("%q is not an object attribute", name)
	}
	return &Object[T]{Ring: ring}, nil
}
