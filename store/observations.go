// Package store persists rollout observations and item-sequence datasets as
// zstd-compressed parquet.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/pct/layout"
	"github.com/brensch/pct/observation"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const observationSchema = "pct_observation_row_v1"

// ObservationRow is one environment step as seen by the policy.
//
// Obs is the flat (Rows, Cols) observation exactly as the environment
// produced it, before normalization.
type ObservationRow struct {
	Run    string    `parquet:"run,dict"`
	Step   int32     `parquet:"step"`
	Env    int32     `parquet:"env"`
	Rows   int32     `parquet:"rows"`
	Cols   int32     `parquet:"cols"`
	Obs    []float32 `parquet:"obs"`
	Action int32     `parquet:"action"`
	Reward float32   `parquet:"reward"`
	Done   bool      `parquet:"done"`
}

func (r ObservationRow) validate() error {
	if r.Cols != layout.FeatureWidth {
		return fmt.Errorf("observation has %d columns, want %d", r.Cols, layout.FeatureWidth)
	}
	if r.Rows <= 0 || int(r.Rows)*int(r.Cols) != len(r.Obs) {
		return fmt.Errorf("observation length %d does not match %dx%d", len(r.Obs), r.Rows, r.Cols)
	}
	return nil
}

// Decode splits the row's observation into bands under l.
func (r ObservationRow) Decode(l layout.Layout) (observation.Decoded, error) {
	return observation.DecodeFlat(r.Obs, 1, l)
}

func writerOptions() []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("obs"),
		parquet.KeyValueMetadata("schema", observationSchema),
	}
}

// WriteObservationsAtomic writes rows into outDir/tmp and then moves the file
// into outDir. The returned path is the final parquet file.
func WriteObservationsAtomic(outDir string, rows []ObservationRow) (string, error) {
	for i, r := range rows {
		if err := r.validate(); err != nil {
			return "", fmt.Errorf("row %d: %w", i, err)
		}
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("obs_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows, writerOptions()...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}

// ReadObservations loads every row of an observation dump.
func ReadObservations(path string) ([]ObservationRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open observations: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[ObservationRow](f)
	defer reader.Close()

	out := make([]ObservationRow, 0, reader.NumRows())
	buf := make([]ObservationRow, 128)
	for {
		n, err := reader.Read(buf)
		for _, row := range buf[:n] {
			row.Obs = append([]float32(nil), row.Obs...)
			if verr := row.validate(); verr != nil {
				return nil, fmt.Errorf("%s row %d: %w", path, len(out), verr)
			}
			out = append(out, row)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read parquet: %w", err)
		}
	}
	return out, nil
}

// ObservationWriter streams rows into a single parquet file under outDir/tmp
// and moves it into outDir on Finalize.
type ObservationWriter struct {
	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[ObservationRow]
	rows   int
}

func NewObservationWriter(outDir string) (*ObservationWriter, error) {
	if outDir == "" {
		return nil, fmt.Errorf("outDir is required")
	}
	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("obs_%d.parquet", time.Now().UnixNano())
	tmpPath := filepath.Join(tmpDir, name)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}

	return &ObservationWriter{
		tmpPath: tmpPath,
		outPath: filepath.Join(outDir, name),
		file:    f,
		writer:  parquet.NewGenericWriter[ObservationRow](f, writerOptions()...),
	}, nil
}

func (w *ObservationWriter) Rows() int { return w.rows }

func (w *ObservationWriter) Write(rows ...ObservationRow) error {
	if w.writer == nil {
		return fmt.Errorf("observation writer is closed")
	}
	for i, r := range rows {
		if err := r.validate(); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	if _, err := w.writer.Write(rows); err != nil {
		return err
	}
	w.rows += len(rows)
	return nil
}

// Finalize closes the file and moves it into place. With no rows written the
// tmp file is removed and the returned path is empty.
func (w *ObservationWriter) Finalize() (string, error) {
	if w.writer == nil {
		return "", nil
	}
	closeErr := w.writer.Close()
	w.writer = nil
	_ = w.file.Sync()
	fileErr := w.file.Close()
	if closeErr != nil {
		return "", fmt.Errorf("close parquet writer: %w", closeErr)
	}
	if fileErr != nil {
		return "", fmt.Errorf("close parquet file: %w", fileErr)
	}
	if w.rows == 0 {
		_ = os.Remove(w.tmpPath)
		return "", nil
	}
	if err := os.Rename(w.tmpPath, w.outPath); err != nil {
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return w.outPath, nil
}
