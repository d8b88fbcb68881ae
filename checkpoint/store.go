package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const (
	schemaKey     = "schema"
	schemaName    = "pct_state_dict_v1"
	statsKey      = "ob_rms"
	paramCountKey = "param_count"
)

// paramRow is one parameter on disk.
type paramRow struct {
	Name  string    `parquet:"name,dict"`
	Shape []int32   `parquet:"shape"`
	Data  []float32 `parquet:"data"`
}

// WriteFileAtomic writes s as a parquet state dict. The file is written next
// to path with a .tmp suffix and renamed into place, so readers never observe
// a partial checkpoint.
func WriteFileAtomic(path string, s Serialized) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	rows := make([]paramRow, 0, len(s.Params))
	for _, k := range s.Params.Keys() {
		t := s.Params[k]
		if err := t.validate(); err != nil {
			return fmt.Errorf("parameter %q: %w", k, err)
		}
		shape := make([]int32, len(t.Shape))
		for i, d := range t.Shape {
			shape[i] = int32(d)
		}
		rows = append(rows, paramRow{Name: k, Shape: shape, Data: t.Data})
	}

	opts := []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("data"),
		parquet.KeyValueMetadata(schemaKey, schemaName),
		parquet.KeyValueMetadata(paramCountKey, strconv.Itoa(len(rows))),
	}
	if s.Stats != nil {
		b, err := json.Marshal(s.Stats)
		if err != nil {
			return fmt.Errorf("encode running stats: %w", err)
		}
		opts = append(opts, parquet.KeyValueMetadata(statsKey, string(b)))
	}

	tmpPath := path + ".tmp"
	_ = os.Remove(tmpPath)
	if err := parquet.WriteFile(tmpPath, rows, opts...); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

// ReadFile reads a parquet state dict written by WriteFileAtomic. Running
// stats are returned when the file carries them.
func ReadFile(path string) (Serialized, error) {
	f, err := os.Open(path)
	if err != nil {
		return Serialized{}, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Serialized{}, fmt.Errorf("stat checkpoint: %w", err)
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return Serialized{}, fmt.Errorf("open parquet %s: %w", path, err)
	}
	if v, ok := pf.Lookup(schemaKey); !ok || v != schemaName {
		return Serialized{}, fmt.Errorf("checkpoint %s: unexpected schema %q", path, v)
	}

	var out Serialized
	if v, ok := pf.Lookup(statsKey); ok {
		var stats RunningStats
		if err := json.Unmarshal([]byte(v), &stats); err != nil {
			return Serialized{}, fmt.Errorf("decode running stats: %w", err)
		}
		out.Stats = &stats
	}

	reader := parquet.NewGenericReader[paramRow](f)
	defer reader.Close()

	out.Params = make(StateDict, reader.NumRows())
	buf := make([]paramRow, 64)
	for {
		n, err := reader.Read(buf)
		for _, row := range buf[:n] {
			if _, dup := out.Params[row.Name]; dup {
				return Serialized{}, fmt.Errorf("checkpoint %s: duplicate parameter %q", path, row.Name)
			}
			shape := make([]int, len(row.Shape))
			for i, d := range row.Shape {
				shape[i] = int(d)
			}
			t := Tensor{Shape: shape, Data: append([]float32(nil), row.Data...)}
			if err := t.validate(); err != nil {
				return Serialized{}, fmt.Errorf("checkpoint %s: parameter %q: %w", path, row.Name, err)
			}
			out.Params[row.Name] = t
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Serialized{}, fmt.Errorf("read parquet: %w", err)
		}
	}
	return out, nil
}

// LoadPath reads the checkpoint at path and loads it into m. The running
// stats, if any, are returned for the caller to apply to its normalizer.
func LoadPath(m Module, path string, opts ...Option) (*RunningStats, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	s, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := Load(m, s, opts...); err != nil {
		return nil, err
	}
	return s.Stats, nil
}
