package inference

import (
	"fmt"

	"github.com/brensch/pct/observation"
)

// Model input and output names, in session order.
var (
	InputNames  = []string{"internal", "leaf", "item", "leaf_valid", "full_mask"}
	OutputNames = []string{"probs", "value"}
)

// Input is one named model input. Shape[0] is the batch dimension.
type Input struct {
	Name  string
	Shape []int64
	Data  []float32
}

// BuildInputs copies the decoded bands into contiguous model inputs.
func BuildInputs(d observation.Decoded) []Input {
	n := int64(d.Internal.Size())
	return []Input{
		{Name: "internal", Shape: shape3(d.Internal.Shape()), Data: d.Internal.Copy()},
		{Name: "leaf", Shape: shape3(d.Leaf.Shape()), Data: d.Leaf.Copy()},
		{Name: "item", Shape: shape3(d.Item.Shape()), Data: d.Item.Copy()},
		{Name: "leaf_valid", Shape: []int64{n, int64(d.LeafValid.Rows())}, Data: d.LeafValid.Copy()},
		{Name: "full_mask", Shape: []int64{n, int64(d.FullMask.Rows())}, Data: d.FullMask.Copy()},
	}
}

func shape3(s [3]int) []int64 {
	return []int64{int64(s[0]), int64(s[1]), int64(s[2])}
}

// concatInputs stacks per-request inputs along the batch dimension. All
// parts must agree on every non-batch dimension.
func concatInputs(parts [][]Input) ([]Input, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no inputs")
	}
	out := make([]Input, len(parts[0]))
	for k, first := range parts[0] {
		size := 0
		for _, p := range parts {
			size += len(p[k].Data)
		}
		shape := append([]int64(nil), first.Shape...)
		shape[0] = 0
		data := make([]float32, 0, size)
		for i, p := range parts {
			in := p[k]
			if in.Name != first.Name || len(in.Shape) != len(first.Shape) {
				return nil, fmt.Errorf("request %d: input %d is %s%v, want %s%v", i, k, in.Name, in.Shape, first.Name, first.Shape)
			}
			for d := 1; d < len(in.Shape); d++ {
				if in.Shape[d] != first.Shape[d] {
					return nil, fmt.Errorf("request %d: input %s shape %v does not match %v", i, in.Name, in.Shape, first.Shape)
				}
			}
			shape[0] += in.Shape[0]
			data = append(data, in.Data...)
		}
		out[k] = Input{Name: first.Name, Shape: shape, Data: data}
	}
	return out, nil
}
