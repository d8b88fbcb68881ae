package inference

import (
	"fmt"
	"sync/atomic"
)

// Pool fans Predict calls out over several clients, each with its own
// session and batch loop.
type Pool struct {
	clients []*Client
	rr      atomic.Uint64
}

// NewPool opens sessions clients with the same config.
func NewPool(cfg Config, sessions int) (*Pool, error) {
	if sessions <= 0 {
		sessions = 1
	}
	clients := make([]*Client, 0, sessions)
	for i := 0; i < sessions; i++ {
		c, err := NewClient(cfg)
		if err != nil {
			for _, created := range clients {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create inference client %d/%d: %w", i+1, sessions, err)
		}
		clients = append(clients, c)
	}
	return &Pool{clients: clients}, nil
}

func (p *Pool) Predict(obs []float32) ([]float32, float32, error) {
	if len(p.clients) == 0 {
		return nil, 0, fmt.Errorf("inference pool has no clients")
	}
	idx := int((p.rr.Add(1) - 1) % uint64(len(p.clients)))
	return p.clients[idx].Predict(obs)
}

// Stats sums the counters of every client.
func (p *Pool) Stats() RuntimeStats {
	var out RuntimeStats
	for _, c := range p.clients {
		st := c.Stats()
		out.TotalBatches += st.TotalBatches
		out.TotalItems += st.TotalItems
		out.TotalRunNanos += st.TotalRunNanos
		out.QueueLen += st.QueueLen
		if st.LastBatchSize > out.LastBatchSize {
			out.LastBatchSize = st.LastBatchSize
		}
	}
	out.fillAverages()
	return out
}

func (p *Pool) Close() error {
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
