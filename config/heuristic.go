package config

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/brensch/pct/layout"
)

// Heuristics are the baseline placement policies.
var Heuristics = []string{"LSAH", "DBL", "MACS", "OnlineBPH", "HM", "BR", "RANDOM"}

// continuousHeuristics can handle continuous item positions.
var continuousHeuristics = map[string]bool{"LSAH": true, "OnlineBPH": true, "BR": true}

// HeuristicRun is the argument set for evaluating a heuristic baseline.
type HeuristicRun struct {
	ID                 string
	Continuous         bool
	Setting            int
	InternalNodeLength int
	Evaluate           bool
	EvaluationEpisodes int
	NumProcesses       int
	LoadDataset        bool
	DatasetPath        string
	InternalNodeHolder int
	LeafNodeHolder     int
	Seed               int64
	Heuristic          string
	DataPath           string
	LogFormat          string
	LogLevel           string

	Data Data
}

// Layout builds the observation layout of the run.
func (h *HeuristicRun) Layout() (layout.Layout, error) {
	return layout.New(h.InternalNodeHolder, h.LeafNodeHolder, h.InternalNodeLength)
}

// ParseHeuristic processes heuristic-baseline arguments.
func ParseHeuristic(args []string, output io.Writer) (*HeuristicRun, bool, error) {
	fs := flag.NewFlagSet("pct-heuristic", flag.ContinueOnError)
	fs.SetOutput(output)

	h := &HeuristicRun{}
	fs.BoolVar(&h.Continuous, "continuous", false, "Use the continuous environment, otherwise the discrete one")
	fs.IntVar(&h.Setting, "setting", 3, "Experiment setting (1, 2 or 3)")
	fs.BoolVar(&h.Evaluate, "evaluate", false, "Evaluate only")
	fs.IntVar(&h.EvaluationEpisodes, "evaluation-episodes", 10, "Number of evaluation episodes to average over")
	fs.BoolVar(&h.LoadDataset, "load-dataset", false, "Load an existing dataset, otherwise data is generated on the fly")
	fs.StringVar(&h.DatasetPath, "dataset-path", getEnvOrDefault("PCT_DATASET_PATH", ""), "The path to load the dataset from")
	fs.IntVar(&h.InternalNodeHolder, "internal-node-holder", 80, "Maximum number of internal nodes")
	fs.IntVar(&h.LeafNodeHolder, "leaf-node-holder", 50, "Maximum number of leaf nodes")
	fs.Int64Var(&h.Seed, "seed", 4, "Random seed")
	fs.StringVar(&h.LogFormat, "log-format", "text", "Log output format: text, json or pretty")
	fs.StringVar(&h.LogLevel, "log-level", "info", "Log level: debug, info, warn or error")
	fs.StringVar(&h.Heuristic, "heuristic", "LSAH", strings.Join(Heuristics, " "))
	fs.StringVar(&h.DataPath, "data", getEnvOrDefault("PCT_DATA_FILE", ""), "HCL file with container size and item set")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if fs.NArg() > 0 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected arguments: %v", fs.Args())}
	}
	if err := validateLogging(h.LogFormat, h.LogLevel); err != nil {
		return nil, false, err
	}
	if h.LoadDataset && h.DatasetPath == "" {
		return nil, false, &ExitError{Code: 2, Message: "--load-dataset requires --dataset-path"}
	}

	known := false
	for _, name := range Heuristics {
		if name == h.Heuristic {
			known = true
			break
		}
	}
	if !known {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown heuristic %q", h.Heuristic)}
	}
	if h.Continuous && !continuousHeuristics[h.Heuristic] {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("heuristic %s does not support the continuous environment", h.Heuristic)}
	}

	if h.Continuous {
		h.ID = ContinuousID
	} else {
		h.ID = DiscreteID
	}
	n, err := layout.InternalLengthForSetting(h.Setting)
	if err != nil {
		return nil, false, err
	}
	h.InternalNodeLength = n
	if _, err := h.Layout(); err != nil {
		return nil, false, err
	}
	if h.Evaluate {
		h.NumProcesses = 1
	}

	h.Data = DefaultData()
	if h.DataPath != "" {
		d, err := LoadData(h.DataPath)
		if err != nil {
			return nil, false, &ExitError{Code: 2, Message: err.Error()}
		}
		h.Data = d
	}
	return h, false, nil
}
