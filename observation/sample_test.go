package observation

import (
	"testing"

	"github.com/brensch/pct/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_DecodeSample(t *testing.T) {
	l := testLayout(t)
	in := Sample{
		Internal: [][]float32{
			{0, 0, 0, 2, 2, 2},
			{2, 0, 0, 4, 3, 1},
		},
		Leaves: []LeafNode{
			{Features: [8]float32{2, 2, 0, 5, 5, 5, 0, 0}, Valid: true},
			{Features: [8]float32{4, 0, 0, 5, 5, 5, 1, 0}, Valid: false},
		},
		Item: Item{0, 0, 0, 3, 3, 2},
	}

	buf := make([]float32, SampleSize(l))
	require.NoError(t, Encode(buf, in, l))

	d, err := DecodeFlat(buf, 1, l)
	require.NoError(t, err)

	// Padding internal row keeps a zero mask.
	assert.Equal(t, float32(1), d.FullMask.At(0, 0))
	assert.Equal(t, float32(1), d.FullMask.At(0, 1))
	assert.Equal(t, float32(0), d.FullMask.At(0, 2))
	assert.Equal(t, []int{0}, d.ValidLeaves(0))

	out := d.Sample(0)
	assert.Equal(t, in, out)
}

func TestEncode_Rejects(t *testing.T) {
	l := testLayout(t)

	err := Encode(make([]float32, 10), Sample{}, l)
	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)

	buf := make([]float32, SampleSize(l))
	assert.Error(t, Encode(buf, Sample{Internal: make([][]float32, 4)}, l))
	assert.Error(t, Encode(buf, Sample{Leaves: make([]LeafNode, 3)}, l))
	assert.Error(t, Encode(buf, Sample{Internal: [][]float32{make([]float32, 7)}}, l))
}

func TestEncode_RejectedSampleLeavesBufferUntouched(t *testing.T) {
	l := testLayout(t)
	buf := make([]float32, SampleSize(l))
	for i := range buf {
		buf[i] = 7
	}
	orig := append([]float32(nil), buf...)

	bad := Sample{Internal: [][]float32{{1, 2, 3}, make([]float32, 7)}}
	require.Error(t, Encode(buf, bad, l))
	assert.Equal(t, orig, buf)

	var cfgErr *layout.ConfigError
	require.ErrorAs(t, Encode(buf, Sample{}, layout.Layout{}), &cfgErr)
	assert.Equal(t, orig, buf)
}

func TestEncode_ScalingRoundTrip(t *testing.T) {
	l := testLayout(t)
	in := Sample{Item: Item{0, 0, 0, 50, 20, 10}}
	buf := make([]float32, SampleSize(l))
	require.NoError(t, Encode(buf, in, l))

	unified, _, err := SplitWithScaling(buf, 0.01, 1, l.MinRows(), l)
	require.NoError(t, err)
	d, err := DecodeFull(unified, l)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, d.Item.At(0, 0, 3), 1e-6)
	assert.InDelta(t, 0.2, d.Item.At(0, 0, 4), 1e-6)
	assert.InDelta(t, 0.1, d.Item.At(0, 0, 5), 1e-6)
	assert.Equal(t, float32(1), d.FullMask.At(0, l.ItemStart()))
}

func TestGetFloatBuffer(t *testing.T) {
	b := GetFloatBuffer(layout.FeatureWidth * 4)
	assert.Len(t, *b, 36)
	PutFloatBuffer(b)

	b = GetFloatBuffer(3)
	assert.Len(t, *b, 3)
	PutFloatBuffer(b)
}
