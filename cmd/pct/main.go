// Command pct prepares and checks a PCT experiment run: it validates the
// observation layout, loads and remaps a saved policy, backs up the run and
// optionally scores recorded observations with an exported ONNX policy.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/pct/backup"
	"github.com/brensch/pct/checkpoint"
	"github.com/brensch/pct/config"
	"github.com/brensch/pct/envs"
	"github.com/brensch/pct/layout"
	"github.com/brensch/pct/logging"
	"github.com/brensch/pct/observation"
	"github.com/brensch/pct/schedule"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	e, exit, err := config.Parse(args, os.Stderr)
	if exit {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "pct:", err)
		return exitCode(err)
	}

	logger := logging.New(e.LogFormat, e.LogLevel, os.Stderr)
	slog.SetDefault(logger)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx := logging.WithLogger(sigCtx, logger)

	if err := runExperiment(ctx, e); err != nil {
		logger.Error("Run failed.", "err", err)
		return exitCode(err)
	}
	return 0
}

// exitCode maps a failure to the process exit status.
func exitCode(err error) int {
	var exitErr *config.ExitError
	var cfgErr *layout.ConfigError
	var shapeErr *observation.ShapeError
	var loadErr *checkpoint.LoadError
	switch {
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.As(err, &cfgErr):
		return 2
	case errors.As(err, &shapeErr):
		return 3
	case errors.As(err, &loadErr):
		return 4
	default:
		return 1
	}
}

func runExperiment(ctx context.Context, e *config.Experiment) error {
	log := logging.FromContext(ctx)
	start := time.Now()

	l, err := e.Layout()
	if err != nil {
		return err
	}
	if _, ok := envs.Default().Spec(e.ID); !ok {
		return fmt.Errorf("environment %s is not registered", e.ID)
	}
	log.Info("Experiment configured.",
		"id", e.ID,
		"setting", e.Setting,
		"layout", l.String(),
		"rows", l.MinRows(),
		"norm_factor", e.NormFactor,
		"items", len(e.Data.ItemSizeSet),
		"evaluate", e.Evaluate,
	)
	if !e.UseACKTR {
		first, last, err := learningRatePlan(e)
		if err != nil {
			return err
		}
		log.Info("A2C learning rate decays linearly.", "updates", e.NumUpdates, "first", first, "last", last)
	}

	var policy *checkpoint.Serialized
	if e.LoadModel {
		policy, err = loadPolicy(ctx, e)
		if err != nil {
			return err
		}
	}

	var files []string
	for _, f := range []string{e.DataPath, e.ParamManifest} {
		if f != "" {
			files = append(files, f)
		}
	}
	target, err := backup.Run(ctx, backup.Options{
		Evaluate:      e.Evaluate,
		Files:         files,
		EnvRoot:       e.EnvRoot,
		EnvID:         e.ID,
		ModelSavePath: e.ModelSavePath,
		Policy:        policy,
	})
	if err != nil {
		return err
	}

	if e.LoadDataset {
		n, err := countDataset(e.DatasetPath)
		if err != nil {
			return err
		}
		log.Info("Dataset loaded.", "path", e.DatasetPath, "sequences", n)
	}

	if e.ONNXModel != "" {
		if err := scoreObservations(ctx, e, l); err != nil {
			return err
		}
	}

	log.Info("Done.", "backup", target, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// learningRatePlan returns the A2C learning rate of the first and last update.
func learningRatePlan(e *config.Experiment) (float64, float64, error) {
	groups := schedule.ParamGroups{{Name: "policy", LR: e.LearningRate}}
	first, err := groups.UpdateLinear(e.LearningRate, 0, e.NumUpdates)
	if err != nil {
		return 0, 0, err
	}
	last, err := groups.UpdateLinear(e.LearningRate, e.NumUpdates-1, e.NumUpdates)
	if err != nil {
		return 0, 0, err
	}
	return first, last, nil
}

func loadPolicy(ctx context.Context, e *config.Experiment) (*checkpoint.Serialized, error) {
	log := logging.FromContext(ctx)

	params, err := checkpoint.ReadManifest(e.ParamManifest)
	if err != nil {
		return nil, err
	}
	stats, err := checkpoint.LoadPath(params, e.ModelPath, checkpoint.WithLegacySqueeze(e.LegacySqueeze))
	if err != nil {
		return nil, err
	}
	log.Info("Pre-trained model loaded.",
		"path", e.ModelPath,
		"params", len(params.ParameterKeys()),
		"ob_rms", stats != nil,
	)
	return &checkpoint.Serialized{Params: params.StateDict(), Stats: stats}, nil
}
