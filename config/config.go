// Package config parses experiment arguments into a validated Experiment.
//
// Flags mirror the training driver's command line. Container geometry and the
// item size set come from an optional HCL data file; without one the default
// discrete 10x10x10 setup is used.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/brensch/pct/layout"
)

const (
	DiscreteID   = "PctDiscrete-v0"
	ContinuousID = "PctContinuous-v0"
)

// ExitError carries the process exit code for a CLI failure.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// Experiment is the full set of training/evaluation arguments.
type Experiment struct {
	ID         string
	Setting    int
	Continuous bool

	InternalNodeHolder int
	LeafNodeHolder     int
	InternalNodeLength int
	Shuffle            bool

	NoCUDA bool
	Device int
	Seed   int64

	UseACKTR       bool
	NumProcesses   int
	NumSteps       int
	NumUpdates     int
	LearningRate   float64
	ActorLossCoef  float64
	CriticLossCoef float64
	MaxGradNorm    float64
	EmbeddingSize  int
	HiddenSize     int
	GATLayerNum    int
	Gamma          float64

	ModelSaveInterval   int
	ModelUpdateInterval float64
	ModelSavePath       string
	PrintLogInterval    int

	Evaluate           bool
	EvaluationEpisodes int
	LoadModel          bool
	ModelPath          string
	LoadDataset        bool
	DatasetPath        string

	DataPath      string
	ParamManifest string
	LegacySqueeze bool
	EnvRoot       string
	ObsDumpDir    string

	ONNXModel        string
	ObsFile          string
	ONNXSessions     int
	ONNXBatchSize    int
	ONNXBatchTimeout time.Duration

	LogFormat string
	LogLevel  string

	Data       Data
	NormFactor float64
}

// Layout builds the observation layout for this experiment.
func (e *Experiment) Layout() (layout.Layout, error) {
	return layout.New(e.InternalNodeHolder, e.LeafNodeHolder, e.InternalNodeLength)
}

// Parse processes training arguments. It returns the Experiment, whether the
// program should exit cleanly (help requested), or an error. Flag problems are
// ExitErrors with code 2; an invalid layout is a *layout.ConfigError.
func Parse(args []string, output io.Writer) (*Experiment, bool, error) {
	fs := flag.NewFlagSet("pct", flag.ContinueOnError)
	fs.SetOutput(output)

	e := &Experiment{}
	fs.IntVar(&e.Setting, "setting", 2, "Experiment setting (1, 2 or 3)")
	fs.IntVar(&e.InternalNodeHolder, "internal-node-holder", 80, "Maximum number of internal nodes")
	fs.IntVar(&e.LeafNodeHolder, "leaf-node-holder", 50, "Maximum number of leaf nodes")
	fs.BoolVar(&e.Shuffle, "shuffle", true, "Randomly shuffle the leaf nodes")
	fs.BoolVar(&e.Continuous, "continuous", false, "Use the continuous environment, otherwise the discrete one")

	fs.BoolVar(&e.NoCUDA, "no-cuda", false, "Disable CUDA")
	fs.IntVar(&e.Device, "device", getEnvIntOrDefault("PCT_DEVICE", 0), "Which GPU card will be used")
	fs.Int64Var(&e.Seed, "seed", 4, "Random seed")

	fs.BoolVar(&e.UseACKTR, "use-acktr", true, "Use ACKTR, otherwise A2C")
	fs.IntVar(&e.NumProcesses, "num-processes", getEnvIntOrDefault("PCT_NUM_PROCESSES", 64), "How many parallel environments are used for training")
	fs.IntVar(&e.NumSteps, "num-steps", 5, "The rollout length")
	fs.IntVar(&e.NumUpdates, "num-updates", 10000, "Number of A2C updates the learning rate decays over")
	fs.Float64Var(&e.LearningRate, "learning-rate", 1e-6, "Learning rate, only used by A2C")
	fs.Float64Var(&e.ActorLossCoef, "actor-loss-coef", 1.0, "Actor loss coefficient")
	fs.Float64Var(&e.CriticLossCoef, "critic-loss-coef", 1.0, "Critic loss coefficient")
	fs.Float64Var(&e.MaxGradNorm, "max-grad-norm", 0.5, "Max norm of gradients")
	fs.IntVar(&e.EmbeddingSize, "embedding-size", 64, "Size of input embedding")
	fs.IntVar(&e.HiddenSize, "hidden-size", 128, "Size of hidden layers")
	fs.IntVar(&e.GATLayerNum, "gat-layer-num", 1, "How many GAT layers")
	fs.Float64Var(&e.Gamma, "gamma", 1.0, "Discount factor")

	fs.IntVar(&e.ModelSaveInterval, "model-save-interval", 200, "How often to save the model")
	fs.Float64Var(&e.ModelUpdateInterval, "model-update-interval", 20e30, "How often to save a new model")
	fs.StringVar(&e.ModelSavePath, "model-save-path", "./logs/experiment", "The path to save the trained model")
	fs.IntVar(&e.PrintLogInterval, "print-log-interval", 10, "How often to print training logs")

	fs.BoolVar(&e.Evaluate, "evaluate", false, "Evaluate only")
	fs.IntVar(&e.EvaluationEpisodes, "evaluation-episodes", 100, "Number of evaluation episodes to average over")
	fs.BoolVar(&e.LoadModel, "load-model", false, "Load the trained model")
	fs.StringVar(&e.ModelPath, "model-path", getEnvOrDefault("PCT_MODEL_PATH", ""), "The path to load the model from")
	fs.BoolVar(&e.LoadDataset, "load-dataset", false, "Load an existing dataset, otherwise data is generated on the fly")
	fs.StringVar(&e.DatasetPath, "dataset-path", getEnvOrDefault("PCT_DATASET_PATH", ""), "The path to load the dataset from")

	fs.StringVar(&e.DataPath, "data", getEnvOrDefault("PCT_DATA_FILE", ""), "HCL file with container size and item set")
	fs.StringVar(&e.ParamManifest, "param-manifest", getEnvOrDefault("PCT_PARAM_MANIFEST", ""), "JSON list of policy parameter names and shapes")
	fs.BoolVar(&e.LegacySqueeze, "legacy-squeeze", true, "Squeeze the trailing unit dimension of legacy checkpoint tensors")
	fs.StringVar(&e.EnvRoot, "env-root", getEnvOrDefault("PCT_ENV_ROOT", ""), "Directory holding the environment sources to back up")
	fs.StringVar(&e.ObsDumpDir, "obs-dump-dir", "", "Write scored observations to a parquet file in this directory")

	fs.StringVar(&e.ONNXModel, "onnx-model", getEnvOrDefault("PCT_ONNX_MODEL", ""), "Exported ONNX policy used for inference")
	fs.StringVar(&e.ObsFile, "obs-file", "", "Parquet observation dump to run inference over")
	fs.IntVar(&e.ONNXSessions, "onnx-sessions", 1, "Number of ONNX Runtime sessions, each with its own batching loop")
	fs.IntVar(&e.ONNXBatchSize, "onnx-batch-size", 64, "ONNX inference batch size")
	fs.DurationVar(&e.ONNXBatchTimeout, "onnx-batch-timeout", time.Millisecond, "Max time to wait for filling an ONNX batch")

	fs.StringVar(&e.LogFormat, "log-format", "text", "Log output format: text, json or pretty")
	fs.StringVar(&e.LogLevel, "log-level", "info", "Log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if fs.NArg() > 0 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected arguments: %v", fs.Args())}
	}
	if err := validateLogging(e.LogFormat, e.LogLevel); err != nil {
		return nil, false, err
	}
	if e.LoadModel && e.ModelPath == "" {
		return nil, false, &ExitError{Code: 2, Message: "--load-model requires --model-path"}
	}
	if e.LoadModel && e.ParamManifest == "" {
		return nil, false, &ExitError{Code: 2, Message: "--load-model requires --param-manifest"}
	}
	if (e.ONNXModel == "") != (e.ObsFile == "") {
		return nil, false, &ExitError{Code: 2, Message: "--onnx-model and --obs-file must be given together"}
	}
	if e.LoadDataset && e.DatasetPath == "" {
		return nil, false, &ExitError{Code: 2, Message: "--load-dataset requires --dataset-path"}
	}

	if err := e.finish(); err != nil {
		return nil, false, err
	}
	slog.Debug("Experiment arguments parsed.", "id", e.ID, "setting", e.Setting)
	return e, false, nil
}

// finish fills the derived fields.
func (e *Experiment) finish() error {
	if e.Continuous {
		e.ID = ContinuousID
	} else {
		e.ID = DiscreteID
	}

	n, err := layout.InternalLengthForSetting(e.Setting)
	if err != nil {
		return err
	}
	e.InternalNodeLength = n
	if _, err := e.Layout(); err != nil {
		return err
	}

	if e.NumUpdates <= 0 {
		return &ExitError{Code: 2, Message: "num-updates must be positive"}
	}
	if e.Evaluate {
		e.NumProcesses = 1
	}

	e.Data = DefaultData()
	if e.DataPath != "" {
		d, err := LoadData(e.DataPath)
		if err != nil {
			return &ExitError{Code: 2, Message: err.Error()}
		}
		e.Data = d
	}
	e.NormFactor = e.Data.NormFactor()
	return nil
}

func validateLogging(format, level string) error {
	switch strings.ToLower(format) {
	case "text", "json", "pretty":
	default:
		return &ExitError{Code: 2, Message: "invalid log-format: must be 'text', 'json' or 'pretty'"}
	}
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
	default:
		return &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	return nil
}
