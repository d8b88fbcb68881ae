package main

import (
	"context"
	"fmt"

	"github.com/brensch/pct/config"
	"github.com/brensch/pct/inference"
	"github.com/brensch/pct/layout"
	"github.com/brensch/pct/logging"
	"github.com/brensch/pct/store"
	"golang.org/x/sync/errgroup"
)

type prediction struct {
	leaf  int
	value float32
}

func countDataset(path string) (int, error) {
	seqs, err := store.ReadDataset(path)
	if err != nil {
		return 0, err
	}
	return len(seqs), nil
}

// pickLeaf returns the valid leaf with the highest probability, or -1 when no
// leaf is valid.
func pickLeaf(probs []float32, valid []int) int {
	best := -1
	for _, i := range valid {
		if i >= len(probs) {
			continue
		}
		if best < 0 || probs[i] > probs[best] {
			best = i
		}
	}
	return best
}

// scoreObservations runs every recorded observation through the policy and
// reports how often it agrees with the recorded action.
func scoreObservations(ctx context.Context, e *config.Experiment, l layout.Layout) error {
	log := logging.FromContext(ctx)

	rows, err := store.ReadObservations(e.ObsFile)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		log.Warn("Observation file is empty.", "path", e.ObsFile)
		return nil
	}

	pool, err := inference.NewPool(inference.Config{
		ModelPath:    e.ONNXModel,
		Layout:       l,
		Rows:         int(rows[0].Rows),
		NormFactor:   float32(e.NormFactor),
		BatchSize:    e.ONNXBatchSize,
		BatchTimeout: e.ONNXBatchTimeout,
		DisableCUDA:  e.NoCUDA,
		Logger:       log,
	}, e.ONNXSessions)
	if err != nil {
		return err
	}
	defer pool.Close()

	preds, err := predictAll(ctx, pool, rows, l, max(e.NumProcesses, 1))
	if err != nil {
		return err
	}

	agree := 0
	for i, p := range preds {
		if p.leaf == int(rows[i].Action) {
			agree++
		}
		log.Debug("Scored observation.", "step", rows[i].Step, "env", rows[i].Env, "leaf", p.leaf, "value", p.value)
	}
	st := pool.Stats()
	log.Info("Inference finished.",
		"observations", len(rows),
		"agree", agree,
		"batches", st.TotalBatches,
		"avg_batch", st.AvgBatchSize,
		"avg_run_ms", st.AvgRunMs,
	)

	if e.ObsDumpDir != "" {
		path, err := dumpPredictions(e.ObsDumpDir, rows, preds)
		if err != nil {
			return err
		}
		log.Info("Wrote scored observations.", "path", path)
	}
	return nil
}

type predictor interface {
	Predict(obs []float32) ([]float32, float32, error)
}

func predictAll(ctx context.Context, p predictor, rows []store.ObservationRow, l layout.Layout, workers int) ([]prediction, error) {
	preds := make([]prediction, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := rows[i].Decode(l)
			if err != nil {
				return fmt.Errorf("observation %d: %w", i, err)
			}
			probs, value, err := p.Predict(rows[i].Obs)
			if err != nil {
				return fmt.Errorf("observation %d: %w", i, err)
			}
			preds[i] = prediction{leaf: pickLeaf(probs, d.ValidLeaves(0)), value: value}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return preds, nil
}

// dumpPredictions writes rows with the predicted leaf as the action.
func dumpPredictions(dir string, rows []store.ObservationRow, preds []prediction) (string, error) {
	w, err := store.NewObservationWriter(dir)
	if err != nil {
		return "", err
	}
	for i, r := range rows {
		r.Run = r.Run + "/policy"
		r.Action = int32(preds[i].leaf)
		r.Reward = preds[i].value
		if err := w.Write(r); err != nil {
			_, _ = w.Finalize()
			return "", err
		}
	}
	return w.Finalize()
}
