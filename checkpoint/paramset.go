package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// ParamSpec is one expected parameter of a policy.
type ParamSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// ParamSet is an in-memory Module keyed by parameter name. It stands in for
// the policy's parameter tree when the network itself runs elsewhere (for
// example inside an exported ONNX graph).
type ParamSet struct {
	mu     sync.RWMutex
	specs  []ParamSpec
	byName map[string]int
	values StateDict
}

// NewParamSet builds a ParamSet from specs. Duplicate names are rejected.
func NewParamSet(specs []ParamSpec) (*ParamSet, error) {
	byName := make(map[string]int, len(specs))
	for i, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("param spec %d has no name", i)
		}
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate param spec %q", s.Name)
		}
		byName[s.Name] = i
	}
	return &ParamSet{
		specs:  append([]ParamSpec(nil), specs...),
		byName: byName,
	}, nil
}

// ReadManifest loads a JSON array of ParamSpec, as exported next to a policy graph.
func ReadManifest(path string) (*ParamSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var specs []ParamSpec
	if err := json.Unmarshal(b, &specs); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return NewParamSet(specs)
}

func (p *ParamSet) ParameterKeys() []string {
	keys := make([]string, 0, len(p.specs))
	for _, s := range p.specs {
		keys = append(keys, s.Name)
	}
	sort.Strings(keys)
	return keys
}

// LoadStateDict replaces all values at once. Keys must match exactly and every
// tensor must have the expected shape; on error nothing is replaced.
func (p *ParamSet) LoadStateDict(d StateDict) error {
	if err := matchKeys(d, p.ParameterKeys()); err != nil {
		return err
	}
	for _, s := range p.specs {
		t := d[s.Name]
		if !sameShape(t.Shape, s.Shape) {
			return &LoadError{Shape: fmt.Sprintf("parameter %q has shape %v, want %v", s.Name, t.Shape, s.Shape)}
		}
	}

	values := make(StateDict, len(d))
	for k, v := range d {
		values[k] = v.Clone()
	}
	p.mu.Lock()
	p.values = values
	p.mu.Unlock()
	return nil
}

// Value returns the loaded tensor for name.
func (p *ParamSet) Value(name string) (Tensor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.values[name]
	return t, ok
}

// StateDict returns a copy of the loaded values, or nil before any load.
func (p *ParamSet) StateDict() StateDict {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.values == nil {
		return nil
	}
	out := make(StateDict, len(p.values))
	for k, v := range p.values {
		out[k] = v.Clone()
	}
	return out
}

// Loaded reports whether LoadStateDict has succeeded at least once.
func (p *ParamSet) Loaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.values != nil
}
