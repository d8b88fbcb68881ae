package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/brensch/pct/config"
	"github.com/brensch/pct/envs"
	"github.com/brensch/pct/layout"
	"github.com/brensch/pct/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) *config.HeuristicRun {
	t.Helper()
	t.Setenv("PCT_DATASET_PATH", "")
	t.Setenv("PCT_DATA_FILE", "")
	h, exit, err := config.ParseHeuristic(args, &bytes.Buffer{})
	require.NoError(t, err)
	require.False(t, exit)
	return h
}

func TestPrepare_Options(t *testing.T) {
	h := parse(t, "--heuristic", "BR", "--continuous", "--setting", "1", "--leaf-node-holder", "20")

	opts, err := prepare(context.Background(), h, envs.Default())
	require.NoError(t, err)
	assert.Equal(t, 1, opts.Setting)
	assert.Equal(t, 80, opts.InternalNodeHolder)
	assert.Equal(t, 20, opts.LeafNodeHolder)
	assert.Equal(t, [3]float64{10, 10, 10}, opts.ContainerSize)
	assert.Len(t, opts.ItemSizeSet, 125)
	assert.Empty(t, opts.DatasetPath)
}

func TestPrepare_Dataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.parquet")
	require.NoError(t, store.WriteDataset(path, [][]store.Item{
		{{X: 2, Y: 3, Z: 4}, {X: 5, Y: 5, Z: 5}},
		{{X: 1, Y: 1, Z: 1}},
	}))

	h := parse(t, "--load-dataset", "--dataset-path", path)
	opts, err := prepare(context.Background(), h, envs.Default())
	require.NoError(t, err)
	assert.Equal(t, path, opts.DatasetPath)

	big := filepath.Join(t.TempDir(), "big.parquet")
	require.NoError(t, store.WriteDataset(big, [][]store.Item{{{X: 11, Y: 1, Z: 1}}}))
	h = parse(t, "--load-dataset", "--dataset-path", big)
	_, err = prepare(context.Background(), h, envs.Default())
	assert.ErrorContains(t, err, "exceeds container")
}

func TestPrepare_UnregisteredEnv(t *testing.T) {
	h := parse(t)
	_, err := prepare(context.Background(), h, envs.NewRegistry())
	assert.ErrorContains(t, err, "not registered")
}

func TestRun_ExitCodes(t *testing.T) {
	t.Setenv("PCT_DATASET_PATH", "")
	t.Setenv("PCT_DATA_FILE", "")
	var out bytes.Buffer
	assert.Equal(t, 0, run([]string{"--heuristic", "LSAH"}, &out))
	assert.Equal(t, 0, run([]string{"-h"}, &out))
	assert.Equal(t, 2, run([]string{"--heuristic", "GREEDY"}, &out))
	assert.Equal(t, 2, run([]string{"--leaf-node-holder", "0"}, &out))
	assert.Equal(t, 1, run([]string{"--load-dataset", "--dataset-path", filepath.Join(t.TempDir(), "none.parquet")}, &out))

	assert.Equal(t, 2, exitCode(&layout.ConfigError{Field: "setting"}))
}
