// Package inference runs the PCT policy network over decoded observations
// with ONNX Runtime. Requests from many environment workers are grouped into
// batches by a single loop per session.
package inference

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/pct/layout"
	"github.com/brensch/pct/observation"
)

const (
	DefaultBatchSize    = 64
	DefaultBatchTimeout = 1 * time.Millisecond
)

// ErrClosed is returned by Predict after Close.
var ErrClosed = errors.New("inference: client closed")

// Config describes one inference session.
type Config struct {
	ModelPath string
	Layout    layout.Layout
	// Rows per observation. Defaults to Layout.MinRows().
	Rows int
	// NormFactor scales the geometric columns before decoding, usually
	// 1/max(container size).
	NormFactor float32

	BatchSize    int
	BatchTimeout time.Duration
	DisableCUDA  bool
	Logger       *slog.Logger
}

func (c *Config) setDefaults() error {
	if c.Layout.IsZero() {
		return fmt.Errorf("inference: layout is required")
	}
	if c.Rows == 0 {
		c.Rows = c.Layout.MinRows()
	}
	if c.Rows < c.Layout.MinRows() {
		return fmt.Errorf("inference: %d rows is less than the layout minimum %d", c.Rows, c.Layout.MinRows())
	}
	if c.NormFactor == 0 {
		c.NormFactor = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// RuntimeStats are cumulative batching counters.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

type request struct {
	inputs []Input
	resp   chan response
}

type response struct {
	probs []float32
	value float32
	err   error
}

// Client batches Predict calls onto one session.
type Client struct {
	cfg      Config
	r        runner
	requests chan request

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	batches  atomic.Int64
	items    atomic.Int64
	runNanos atomic.Int64
	last     atomic.Int64
}

// NewClient opens cfg.ModelPath with ONNX Runtime and starts the batch loop.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	r, err := newORTRunner(cfg.ModelPath, cfg.Layout.LeafHolder(), cfg.DisableCUDA, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return newClient(cfg, r), nil
}

func newClient(cfg Config, r runner) *Client {
	c := &Client{
		cfg:      cfg,
		r:        r,
		requests: make(chan request, cfg.BatchSize*2),
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.batchLoop()
	return c
}

// Close stops the batch loop and releases the session. Pending requests
// fail with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		err = c.r.Close()
	})
	return err
}

// Predict scores one raw observation. It returns the probability of each leaf
// node and the state value.
func (c *Client) Predict(obs []float32) ([]float32, float32, error) {
	inputs, err := c.prepare(obs)
	if err != nil {
		return nil, 0, err
	}

	resp := make(chan response, 1)
	select {
	case c.requests <- request{inputs: inputs, resp: resp}:
	case <-c.done:
		return nil, 0, ErrClosed
	}
	select {
	case r := <-resp:
		return r.probs, r.value, r.err
	case <-c.done:
		return nil, 0, ErrClosed
	}
}

// prepare normalizes and decodes one observation into model inputs.
func (c *Client) prepare(obs []float32) ([]Input, error) {
	buf := observation.GetFloatBuffer(len(obs))
	defer observation.PutFloatBuffer(buf)

	b, _, err := observation.SplitWithScalingInto(*buf, obs, c.cfg.NormFactor, 1, c.cfg.Rows, c.cfg.Layout)
	if err != nil {
		return nil, err
	}
	d, err := observation.DecodeFull(b, c.cfg.Layout)
	if err != nil {
		return nil, err
	}
	return BuildInputs(d), nil
}

func (c *Client) batchLoop() {
	defer c.wg.Done()
	pending := make([]request, 0, c.cfg.BatchSize)

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case req := <-c.requests:
			pending = append(pending, req)
			if len(pending) >= c.cfg.BatchSize {
				c.runBatch(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				c.runBatch(pending)
				pending = pending[:0]
			}
		case <-c.done:
			failBatch(pending, ErrClosed)
			return
		}
	}
}

func (c *Client) runBatch(reqs []request) {
	parts := make([][]Input, len(reqs))
	for i, r := range reqs {
		parts[i] = r.inputs
	}
	inputs, err := concatInputs(parts)
	if err != nil {
		failBatch(reqs, err)
		return
	}

	start := time.Now()
	probs, value, err := c.r.Run(inputs, len(reqs))
	c.runNanos.Add(time.Since(start).Nanoseconds())
	c.batches.Add(1)
	c.items.Add(int64(len(reqs)))
	c.last.Store(int64(len(reqs)))
	if err != nil {
		c.cfg.Logger.Error("Inference batch failed.", "batch", len(reqs), "err", err)
		failBatch(reqs, err)
		return
	}

	n := c.cfg.Layout.LeafHolder()
	if len(probs) != len(reqs)*n || len(value) != len(reqs) {
		failBatch(reqs, fmt.Errorf("inference: model returned probs=%d value=%d for batch %d", len(probs), len(value), len(reqs)))
		return
	}
	for i, r := range reqs {
		p := make([]float32, n)
		copy(p, probs[i*n:(i+1)*n])
		r.resp <- response{probs: p, value: value[i]}
	}
}

func failBatch(reqs []request, err error) {
	for _, r := range reqs {
		r.resp <- response{err: err}
	}
}

// Stats snapshots the batching counters.
func (c *Client) Stats() RuntimeStats {
	st := RuntimeStats{
		TotalBatches:  c.batches.Load(),
		TotalItems:    c.items.Load(),
		TotalRunNanos: c.runNanos.Load(),
		LastBatchSize: c.last.Load(),
		QueueLen:      len(c.requests),
	}
	st.fillAverages()
	return st
}

func (s *RuntimeStats) fillAverages() {
	if s.TotalBatches == 0 {
		return
	}
	s.AvgBatchSize = float64(s.TotalItems) / float64(s.TotalBatches)
	s.AvgRunMs = float64(s.TotalRunNanos) / 1e6 / float64(s.TotalBatches)
}
