package observation

import (
	"fmt"

	"github.com/brensch/pct/layout"
)

// LeafNode is one candidate placement row.
type LeafNode struct {
	Features [layout.LeafFeatureCols]float32
	Valid    bool
}

// Item is the current item row: position/size columns as produced by the
// environment.
type Item [layout.ItemCols]float32

// Sample is the typed form of one observation. Internal rows hold at most
// InternalLength features each; missing rows are padding.
type Sample struct {
	Internal [][]float32
	Leaves   []LeafNode
	Item     Item
}

// SampleSize is the number of float32 values one encoded sample occupies.
func SampleSize(l layout.Layout) int {
	return l.MinRows() * layout.FeatureWidth
}

// Encode writes s into dst as one (MinRows, FeatureWidth) sample. Present rows
// get the full mask set; leaf rows carry their validity flag in the same column.
//
// Channel layout per row band:
// internal  [0, internalLength) features, col 8 mask
// leaf      [0, 8) features, col 8 valid/mask
// item      [0, 6) item, col 8 mask
func Encode(dst []float32, s Sample, l layout.Layout) error {
	if err := checkLayout("encode", l); err != nil {
		return err
	}
	if len(dst) != SampleSize(l) {
		return &ShapeError{Op: "encode", Len: len(dst), BatchSize: 1, Rows: l.MinRows(), Reason: fmt.Sprintf("want %d elements", SampleSize(l))}
	}
	if len(s.Internal) > l.InternalHolder() {
		return fmt.Errorf("encode: %d internal nodes exceed holder %d", len(s.Internal), l.InternalHolder())
	}
	if len(s.Leaves) > l.LeafHolder() {
		return fmt.Errorf("encode: %d leaf nodes exceed holder %d", len(s.Leaves), l.LeafHolder())
	}
	for i, node := range s.Internal {
		if len(node) > l.InternalLength() {
			return fmt.Errorf("encode: internal node %d has %d features, max %d", i, len(node), l.InternalLength())
		}
	}
	clear(dst)

	row := func(r int) []float32 {
		off := r * layout.FeatureWidth
		return dst[off : off+layout.FeatureWidth]
	}

	for i, node := range s.Internal {
		out := row(i)
		copy(out, node)
		out[layout.MaskCol] = 1
	}
	for i, leaf := range s.Leaves {
		out := row(l.LeafStart() + i)
		copy(out, leaf.Features[:])
		if leaf.Valid {
			out[layout.LeafValidCol] = 1
		}
	}
	out := row(l.ItemStart())
	copy(out, s.Item[:])
	out[layout.MaskCol] = 1
	return nil
}

// Sample reconstructs the typed records of sample i. Internal rows whose mask
// is zero and leaf rows that are neither valid nor populated are dropped.
func (d Decoded) Sample(i int) Sample {
	var s Sample
	for r := 0; r < d.Internal.Rows(); r++ {
		if d.FullMask.At(i, r) == 0 {
			continue
		}
		s.Internal = append(s.Internal, append([]float32(nil), d.Internal.Row(i, r)...))
	}
	for r := 0; r < d.Leaf.Rows(); r++ {
		var leaf LeafNode
		copy(leaf.Features[:], d.Leaf.Row(i, r))
		leaf.Valid = d.LeafValid.At(i, r) != 0
		if !leaf.Valid && leaf.Features == ([layout.LeafFeatureCols]float32{}) {
			continue
		}
		s.Leaves = append(s.Leaves, leaf)
	}
	if d.Item.Rows() > 0 {
		copy(s.Item[:], d.Item.Row(i, 0))
	}
	return s
}

// ValidLeaves returns the indices of valid leaf rows for sample i.
func (d Decoded) ValidLeaves(i int) []int {
	var out []int
	for r := 0; r < d.LeafValid.Rows(); r++ {
		if d.LeafValid.At(i, r) != 0 {
			out = append(out, r)
		}
	}
	return out
}
