package inference

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/brensch/pct/layout"
	"github.com/brensch/pct/observation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoRunner returns each sample's leaf validity as probs and its first
// item feature as the value.
type echoRunner struct {
	mu      sync.Mutex
	batches []int
	err     error
	closed  bool
}

func (r *echoRunner) Run(inputs []Input, batch int) ([]float32, []float32, error) {
	r.mu.Lock()
	r.batches = append(r.batches, batch)
	r.mu.Unlock()
	if r.err != nil {
		return nil, nil, r.err
	}
	var item, valid Input
	for _, in := range inputs {
		switch in.Name {
		case "item":
			item = in
		case "leaf_valid":
			valid = in
		}
	}
	per := int(item.Shape[1] * item.Shape[2])
	value := make([]float32, batch)
	for i := range value {
		value[i] = item.Data[i*per]
	}
	return append([]float32(nil), valid.Data...), value, nil
}

func (r *echoRunner) Close() error {
	r.closed = true
	return nil
}

func testLayout(t *testing.T) layout.Layout {
	t.Helper()
	l, err := layout.New(3, 4, 6)
	require.NoError(t, err)
	return l
}

func encode(t *testing.T, l layout.Layout, itemX float32, valid []bool) []float32 {
	t.Helper()
	s := observation.Sample{Item: observation.Item{itemX, 1, 1, 0, 0, 0}}
	for _, v := range valid {
		s.Leaves = append(s.Leaves, observation.LeafNode{Features: [8]float32{1, 1, 1, 2, 2, 2, 0, 0}, Valid: v})
	}
	obs := make([]float32, observation.SampleSize(l))
	require.NoError(t, observation.Encode(obs, s, l))
	return obs
}

func TestBuildInputs(t *testing.T) {
	l := testLayout(t)
	obs := append(encode(t, l, 4, []bool{true}), encode(t, l, 5, []bool{false, true})...)
	d, err := observation.DecodeFlat(obs, 2, l)
	require.NoError(t, err)

	in := BuildInputs(d)
	require.Len(t, in, len(InputNames))
	for i, name := range InputNames {
		assert.Equal(t, name, in[i].Name)
		n := int64(1)
		for _, dim := range in[i].Shape {
			n *= dim
		}
		assert.Equal(t, int(n), len(in[i].Data), name)
	}
	assert.Equal(t, []int64{2, 3, 6}, in[0].Shape)
	assert.Equal(t, []int64{2, 4, 8}, in[1].Shape)
	assert.Equal(t, []int64{2, 1, 6}, in[2].Shape)
	assert.Equal(t, []int64{2, 4}, in[3].Shape)
	assert.Equal(t, []int64{2, int64(l.MinRows())}, in[4].Shape)
	assert.Equal(t, []float32{1, 0, 0, 0, 0, 1, 0, 0}, in[3].Data)
}

func TestConcatInputs_Mismatch(t *testing.T) {
	a := []Input{{Name: "x", Shape: []int64{1, 2}, Data: []float32{1, 2}}}
	b := []Input{{Name: "x", Shape: []int64{1, 3}, Data: []float32{1, 2, 3}}}
	_, err := concatInputs([][]Input{a, b})
	assert.Error(t, err)

	got, err := concatInputs([][]Input{a, a})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 2}, got[0].Shape)
	assert.Equal(t, []float32{1, 2, 1, 2}, got[0].Data)
}

func TestClient_Batches(t *testing.T) {
	l := testLayout(t)
	r := &echoRunner{}
	c := newClient(Config{Layout: l, Rows: l.MinRows(), NormFactor: 0.5, BatchSize: 4, BatchTimeout: time.Millisecond}, r)
	defer c.Close()

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			obs := encode(t, l, float32(2*i), []bool{i%2 == 0, true})
			probs, value, err := c.Predict(obs)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, []float32{boolf(i%2 == 0), 1, 0, 0}, probs)
			assert.Equal(t, float32(i), value, "item features are scaled by the norm factor")
		}(i)
	}
	wg.Wait()

	st := c.Stats()
	assert.Equal(t, int64(n), st.TotalItems)
	assert.GreaterOrEqual(t, st.TotalBatches, int64(3))
	assert.LessOrEqual(t, st.LastBatchSize, int64(4))
	r.mu.Lock()
	for _, b := range r.batches {
		assert.LessOrEqual(t, b, 4)
	}
	r.mu.Unlock()
}

func boolf(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

func TestClient_ShapeErrors(t *testing.T) {
	l := testLayout(t)
	c := newClient(Config{Layout: l, Rows: l.MinRows(), NormFactor: 1, BatchSize: 1, BatchTimeout: time.Millisecond}, &echoRunner{})
	defer c.Close()

	var shapeErr *observation.ShapeError
	_, _, err := c.Predict(make([]float32, 10))
	assert.ErrorAs(t, err, &shapeErr)

	_, _, err = c.Predict(make([]float32, (l.MinRows()+1)*layout.FeatureWidth))
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, "reshape", shapeErr.Op)
	assert.Equal(t, l.MinRows(), shapeErr.Rows)
}

func TestClient_RunErrorAndClose(t *testing.T) {
	l := testLayout(t)
	boom := errors.New("boom")
	r := &echoRunner{err: boom}
	c := newClient(Config{Layout: l, Rows: l.MinRows(), NormFactor: 1, BatchSize: 1, BatchTimeout: time.Millisecond}, r)

	_, _, err := c.Predict(encode(t, l, 1, nil))
	assert.ErrorIs(t, err, boom)

	require.NoError(t, c.Close())
	assert.True(t, r.closed)
	require.NoError(t, c.Close())

	_, _, err = c.Predict(encode(t, l, 1, nil))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPool_RoundRobin(t *testing.T) {
	l := testLayout(t)
	cfg := Config{Layout: l, Rows: l.MinRows(), NormFactor: 1, BatchSize: 1, BatchTimeout: time.Millisecond}
	p := &Pool{clients: []*Client{newClient(cfg, &echoRunner{}), newClient(cfg, &echoRunner{})}}
	defer p.Close()

	for i := 0; i < 4; i++ {
		_, _, err := p.Predict(encode(t, l, 1, []bool{true}))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), p.clients[0].Stats().TotalItems)
	assert.Equal(t, int64(2), p.clients[1].Stats().TotalItems)

	st := p.Stats()
	assert.Equal(t, int64(4), st.TotalItems)
	assert.Equal(t, int64(4), st.TotalBatches)
	assert.InDelta(t, 1.0, st.AvgBatchSize, 1e-9)
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	assert.Error(t, cfg.setDefaults())

	cfg = Config{Layout: testLayout(t)}
	require.NoError(t, cfg.setDefaults())
	assert.Equal(t, cfg.Layout.MinRows(), cfg.Rows)
	assert.Equal(t, float32(1), cfg.NormFactor)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)

	cfg = Config{Layout: testLayout(t), Rows: 2}
	assert.Error(t, cfg.setDefaults())
}

// TestNewClient_ORT needs a real model and the ONNX Runtime shared library.
func TestNewClient_ORT(t *testing.T) {
	modelPath := os.Getenv("PCT_TEST_ONNX_MODEL")
	if modelPath == "" {
		t.Skip("PCT_TEST_ONNX_MODEL not set; skipping")
	}
	if _, err := os.Stat(modelPath); err != nil {
		t.Skipf("model not found: %v", err)
	}
	l, err := layout.New(80, 50, 6)
	require.NoError(t, err)

	c, err := NewClient(Config{ModelPath: modelPath, Layout: l, NormFactor: 0.1, DisableCUDA: true})
	if err != nil {
		t.Skipf("ORT unavailable: %v", err)
	}
	defer c.Close()

	probs, _, err := c.Predict(encode(t, l, 2, []bool{true, true}))
	require.NoError(t, err)
	assert.Len(t, probs, 50)
}
