// Command pctheuristic checks the arguments of a heuristic baseline run and
// resolves the packing environment the baseline is evaluated on.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/brensch/pct/config"
	"github.com/brensch/pct/envs"
	"github.com/brensch/pct/layout"
	"github.com/brensch/pct/logging"
	"github.com/brensch/pct/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	h, exit, err := config.ParseHeuristic(args, stderr)
	if exit {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, "pctheuristic:", err)
		return exitCode(err)
	}

	logger := logging.New(h.LogFormat, h.LogLevel, stderr)
	ctx := logging.WithLogger(context.Background(), logger)
	if _, err := prepare(ctx, h, envs.Default()); err != nil {
		logger.Error("Run failed.", "err", err)
		return exitCode(err)
	}
	return 0
}

func exitCode(err error) int {
	var exitErr *config.ExitError
	var cfgErr *layout.ConfigError
	switch {
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.As(err, &cfgErr):
		return 2
	default:
		return 1
	}
}

// prepare resolves the environment of h in reg and returns the options its
// factory is built with. A loaded dataset must fit the container.
func prepare(ctx context.Context, h *config.HeuristicRun, reg *envs.Registry) (envs.Options, error) {
	log := logging.FromContext(ctx)

	l, err := h.Layout()
	if err != nil {
		return envs.Options{}, err
	}
	spec, ok := reg.Spec(h.ID)
	if !ok {
		return envs.Options{}, fmt.Errorf("environment %s is not registered", h.ID)
	}
	dir, err := envs.DirName(h.ID)
	if err != nil {
		return envs.Options{}, err
	}

	opts := envs.Options{
		Setting:            h.Setting,
		ContainerSize:      h.Data.ContainerSize,
		ItemSizeSet:        h.Data.ItemSizeSet,
		InternalNodeHolder: l.InternalHolder(),
		LeafNodeHolder:     l.LeafHolder(),
		Seed:               h.Seed,
	}

	if h.LoadDataset {
		seqs, err := store.ReadDataset(h.DatasetPath)
		if err != nil {
			return envs.Options{}, err
		}
		items := 0
		for s, seq := range seqs {
			for i, it := range seq {
				if !fits(it, h.Data.ContainerSize) {
					return envs.Options{}, fmt.Errorf("dataset %s: sequence %d item %d %v exceeds container %v", h.DatasetPath, s, i, it, h.Data.ContainerSize)
				}
			}
			items += len(seq)
		}
		opts.DatasetPath = h.DatasetPath
		log.Info("Dataset loaded.", "path", h.DatasetPath, "sequences", len(seqs), "items", items)
	}

	log.Info("Heuristic run configured.",
		"heuristic", h.Heuristic,
		"id", h.ID,
		"entry_point", spec.EntryPoint,
		"env_dir", dir,
		"layout", l.String(),
		"episodes", h.EvaluationEpisodes,
		"evaluate", h.Evaluate,
	)
	return opts, nil
}

func fits(it store.Item, container [3]float64) bool {
	return float64(it.X) <= container[0] && float64(it.Y) <= container[1] && float64(it.Z) <= container[2]
}
