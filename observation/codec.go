package observation

import (
	"fmt"

	"github.com/brensch/pct/layout"
)

// Split returns the unified batch and its leaf band (all FeatureWidth columns).
// The leaf view aliases the batch; callers must not rely on either being
// independent of the other.
func Split(b *Batch, l layout.Layout) (*Batch, View, error) {
	if err := checkLayout("split", l); err != nil {
		return nil, View{}, err
	}
	if err := checkRows("split", b, l.LeafEnd()); err != nil {
		return nil, View{}, err
	}
	return b, b.band(l.LeafStart(), l.LeafEnd(), 0, layout.FeatureWidth), nil
}

// SplitFlat reshapes obs into batchSize samples and splits it.
func SplitFlat(obs []float32, batchSize int, l layout.Layout) (*Batch, View, error) {
	b, err := Reshape(obs, batchSize)
	if err != nil {
		return nil, View{}, err
	}
	return Split(b, l)
}

// SplitWithScaling is Split on a copy of obs whose first ScaledCols columns
// have been multiplied by factor. obs must have the declared shape
// (batchSize, rows, FeatureWidth); obs itself is left untouched.
func SplitWithScaling(obs []float32, factor float32, batchSize, rows int, l layout.Layout) (*Batch, View, error) {
	return SplitWithScalingInto(make([]float32, len(obs)), obs, factor, batchSize, rows, l)
}

// SplitWithScalingInto behaves like SplitWithScaling but writes the scaled
// copy into dst, which must have the same length as obs. The returned batch is
// backed by dst.
func SplitWithScalingInto(dst, obs []float32, factor float32, batchSize, rows int, l layout.Layout) (*Batch, View, error) {
	if err := checkLayout("split_with_scaling", l); err != nil {
		return nil, View{}, err
	}
	if len(dst) != len(obs) {
		return nil, View{}, &ShapeError{Op: "split_with_scaling", Len: len(obs), BatchSize: batchSize, Reason: "destination length differs from observation"}
	}
	if _, err := ReshapeExact(obs, batchSize, rows); err != nil {
		return nil, View{}, err
	}
	copy(dst, obs)
	b, err := ReshapeExact(dst, batchSize, rows)
	if err != nil {
		return nil, View{}, err
	}
	if err := checkRows("split_with_scaling", b, l.LeafEnd()); err != nil {
		return nil, View{}, err
	}
	scale(b, factor)
	return b, b.band(l.LeafStart(), l.LeafEnd(), 0, layout.FeatureWidth), nil
}

func scale(b *Batch, factor float32) {
	for off := 0; off < len(b.data); off += layout.FeatureWidth {
		row := b.data[off : off+layout.ScaledCols]
		for c := range row {
			row[c] *= factor
		}
	}
}

// Decoded holds the five node-kind views of a batch.
type Decoded struct {
	Internal  View   // (size, internalHolder, internalLength)
	Leaf      View   // (size, leafHolder, LeafFeatureCols)
	Item      View   // (size, rows-leafEnd, ItemCols)
	LeafValid Column // (size, leafHolder)
	FullMask  Column // (size, rows)
}

// DecodeFull slices every node-kind band plus the validity and mask columns.
func DecodeFull(b *Batch, l layout.Layout) (Decoded, error) {
	if err := checkLayout("decode_full", l); err != nil {
		return Decoded{}, err
	}
	if err := checkRows("decode_full", b, l.MinRows()); err != nil {
		return Decoded{}, err
	}
	return Decoded{
		Internal:  b.band(0, l.InternalHolder(), 0, l.InternalLength()),
		Leaf:      b.band(l.LeafStart(), l.LeafEnd(), 0, layout.LeafFeatureCols),
		Item:      b.band(l.ItemStart(), b.rows, 0, layout.ItemCols),
		LeafValid: b.column(l.LeafStart(), l.LeafEnd(), layout.LeafValidCol),
		FullMask:  b.column(0, b.rows, layout.MaskCol),
	}, nil
}

// DecodeFlat reshapes obs into batchSize samples and decodes it.
func DecodeFlat(obs []float32, batchSize int, l layout.Layout) (Decoded, error) {
	b, err := Reshape(obs, batchSize)
	if err != nil {
		return Decoded{}, err
	}
	return DecodeFull(b, l)
}

// checkLayout rejects a Layout that did not come from layout.New.
func checkLayout(op string, l layout.Layout) error {
	if l.IsZero() {
		return &layout.ConfigError{Field: "layout", Reason: op + " needs a layout built by layout.New"}
	}
	return nil
}

func checkRows(op string, b *Batch, want int) error {
	if b == nil {
		return &ShapeError{Op: op, Reason: "nil batch"}
	}
	if b.rows < want {
		return &ShapeError{
			Op:        op,
			Len:       len(b.data),
			BatchSize: b.size,
			Rows:      b.rows,
			Reason:    fmt.Sprintf("layout needs at least %d rows", want),
		}
	}
	return nil
}
