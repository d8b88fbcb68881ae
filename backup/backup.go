// Package backup snapshots the artifacts of an experiment run: the files that
// configured it, the environment source directory and the policy weights.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/pct/checkpoint"
	"github.com/brensch/pct/envs"
	"github.com/brensch/pct/logging"
)

// TimeFormat names run directories.
const TimeFormat = "2006.01.02-15-04-05"

// Options for a backup.
type Options struct {
	// LogRoot holds the evaluation/ and experiment/ directories. Defaults to
	// "./logs".
	LogRoot  string
	Evaluate bool
	// TimeStr names the run. Defaults to the current time in TimeFormat.
	TimeStr string

	Files []string

	// EnvRoot contains one directory per environment, named by envs.DirName.
	// Empty skips the environment copy.
	EnvRoot string
	EnvID   string

	ModelSavePath string
	Policy        *checkpoint.Serialized
}

// Run performs the backup and returns the target directory.
func Run(ctx context.Context, opts Options) (string, error) {
	log := logging.FromContext(ctx)

	root := opts.LogRoot
	if root == "" {
		root = "./logs"
	}
	timeStr := opts.TimeStr
	if timeStr == "" {
		timeStr = time.Now().Format(TimeFormat)
	}
	kind := "experiment"
	if opts.Evaluate {
		kind = "evaluation"
	}
	target := filepath.Join(root, kind, timeStr)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	for _, src := range opts.Files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		dst := filepath.Join(target, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return "", fmt.Errorf("backup %s: %w", src, err)
		}
	}
	log.Debug("Copied run files.", "count", len(opts.Files), "dir", target)

	if opts.EnvRoot != "" {
		name, err := envs.DirName(opts.EnvID)
		if err != nil {
			return "", err
		}
		src := filepath.Join(opts.EnvRoot, name)
		if err := os.CopyFS(filepath.Join(target, name), os.DirFS(src)); err != nil {
			return "", fmt.Errorf("backup environment %s: %w", src, err)
		}
	}

	if opts.Policy != nil {
		if opts.ModelSavePath == "" {
			return "", fmt.Errorf("backup policy: no model save path")
		}
		path := filepath.Join(opts.ModelSavePath, timeStr, "upper-first-"+timeStr+".parquet")
		if err := checkpoint.WriteFileAtomic(path, *opts.Policy); err != nil {
			return "", fmt.Errorf("backup policy: %w", err)
		}
		log.Info("Saved policy.", "path", path, "params", len(opts.Policy.Params))
	}

	log.Info("Backup complete.", "dir", target)
	return target, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, st.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
