// Package envs registers packing environments by versioned ID.
//
// The environment physics live outside this module. A Spec names the entry
// point that implements an ID; the implementation binds a Factory to that
// entry point, and Make builds an instance.
package envs

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Env is one bin-packing simulation.
type Env interface {
	Reset() ([]float32, error)
	Step(action int) (obs []float32, reward float64, done bool, info map[string]any, err error)
}

// Options are passed to a Factory when an environment is made.
type Options struct {
	Setting            int
	ContainerSize      [3]float64
	ItemSizeSet        [][3]float64
	InternalNodeHolder int
	LeafNodeHolder     int
	Shuffle            bool
	Seed               int64
	DatasetPath        string
}

// Factory builds an environment.
type Factory func(Options) (Env, error)

// Spec ties an environment ID to its entry point.
type Spec struct {
	ID         string
	EntryPoint string
}

var idPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*-v[0-9]+$`)

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	specs     map[string]Spec
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		specs:     make(map[string]Spec),
		factories: make(map[string]Factory),
	}
}

// Register adds spec. IDs must look like "Name-vN" and be unique.
func (r *Registry) Register(spec Spec) error {
	if !idPattern.MatchString(spec.ID) {
		return fmt.Errorf("envs: malformed id %q, want Name-vN", spec.ID)
	}
	if spec.EntryPoint == "" {
		return fmt.Errorf("envs: %s has no entry point", spec.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.specs[spec.ID]; ok {
		return fmt.Errorf("envs: %s already registered", spec.ID)
	}
	r.specs[spec.ID] = spec
	return nil
}

// Bind attaches the implementation of an entry point. Rebinding replaces it.
func (r *Registry) Bind(entryPoint string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[entryPoint] = f
}

// Make builds the environment registered under id.
func (r *Registry) Make(id string, opts Options) (Env, error) {
	r.mu.RLock()
	spec, ok := r.specs[id]
	var f Factory
	if ok {
		f = r.factories[spec.EntryPoint]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("envs: unknown id %q", id)
	}
	if f == nil {
		return nil, fmt.Errorf("envs: entry point %s for %s is not bound", spec.EntryPoint, id)
	}
	env, err := f(opts)
	if err != nil {
		return nil, fmt.Errorf("envs: make %s: %w", id, err)
	}
	return env, nil
}

// Spec returns the registered spec for id.
func (r *Registry) Spec(id string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[id]
	return s, ok
}

// Specs lists registered specs sorted by ID.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Packing environment entry points.
const (
	DiscreteEntryPoint   = "pct_envs.PctDiscrete0:PackingDiscrete"
	ContinuousEntryPoint = "pct_envs.PctContinuous0:PackingContinuous"
)

// RegisterDefaults registers the discrete and continuous packing environments.
func RegisterDefaults(r *Registry) error {
	for _, s := range []Spec{
		{ID: "PctDiscrete-v0", EntryPoint: DiscreteEntryPoint},
		{ID: "PctContinuous-v0", EntryPoint: ContinuousEntryPoint},
	} {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// DirName is the source directory name of an environment:
// "PctDiscrete-v0" -> "PctDiscrete0".
func DirName(id string) (string, error) {
	parts := strings.Split(id, "-v")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("envs: malformed id %q", id)
	}
	return parts[0] + parts[1], nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry with the packing environments
// registered.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		if err := RegisterDefaults(defaultRegistry); err != nil {
			panic(err)
		}
	})
	return defaultRegistry
}
