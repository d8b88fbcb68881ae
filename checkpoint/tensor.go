// Package checkpoint loads serialized policy parameters and remaps their names
// onto the parameter names of the policy that is currently instantiated.
package checkpoint

import (
	"fmt"
	"sort"
)

// Tensor is a dense float32 parameter with a row-major shape.
type Tensor struct {
	Shape []int
	Data  []float32
}

func (t Tensor) Rank() int { return len(t.Shape) }

// Numel is the element count implied by Shape.
func (t Tensor) Numel() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

func (t Tensor) validate() error {
	if t.Numel() != len(t.Data) {
		return fmt.Errorf("shape %v implies %d elements, have %d", t.Shape, t.Numel(), len(t.Data))
	}
	return nil
}

// StateDict maps parameter names to tensors.
type StateDict map[string]Tensor

// Keys returns the parameter names in sorted order.
func (d StateDict) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RunningStats are the observation normalization statistics saved next to the
// parameters by some trainers.
type RunningStats struct {
	Mean  []float32 `json:"mean"`
	Var   []float32 `json:"var"`
	Count float64   `json:"count"`
}

// Serialized is a checkpoint as read from storage: either a bare parameter
// mapping (Stats == nil) or a (mapping, stats) pair.
type Serialized struct {
	Params StateDict
	Stats  *RunningStats
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
