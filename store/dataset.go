package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const datasetSchema = "pct_item_dataset_v1"

// Item is the size of one box to be packed.
type Item struct {
	X, Y, Z float32
}

// ItemRow is one item of one pre-generated sequence.
type ItemRow struct {
	Sequence int32   `parquet:"sequence"`
	Index    int32   `parquet:"index"`
	X        float32 `parquet:"x"`
	Y        float32 `parquet:"y"`
	Z        float32 `parquet:"z"`
}

// WriteDataset stores item sequences for replay with --load-dataset.
func WriteDataset(path string, seqs [][]Item) error {
	rows := make([]ItemRow, 0)
	for s, seq := range seqs {
		for i, it := range seq {
			if it.X <= 0 || it.Y <= 0 || it.Z <= 0 {
				return fmt.Errorf("sequence %d item %d: non-positive size %v", s, i, it)
			}
			rows = append(rows, ItemRow{Sequence: int32(s), Index: int32(i), X: it.X, Y: it.Y, Z: it.Z})
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmpPath := path + ".tmp"
	_ = os.Remove(tmpPath)
	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", datasetSchema),
	); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

// ReadDataset loads item sequences. Sequence numbers must be dense from zero
// and item indexes dense within each sequence.
func ReadDataset(path string) ([][]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[ItemRow](f)
	defer reader.Close()

	all := make([]ItemRow, 0, reader.NumRows())
	buf := make([]ItemRow, 512)
	for {
		n, err := reader.Read(buf)
		all = append(all, buf[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read parquet: %w", err)
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Sequence != all[j].Sequence {
			return all[i].Sequence < all[j].Sequence
		}
		return all[i].Index < all[j].Index
	})

	var seqs [][]Item
	for _, r := range all {
		if r.Sequence < 0 || int(r.Sequence) > len(seqs) {
			return nil, fmt.Errorf("dataset %s: sequence %d out of order", path, r.Sequence)
		}
		if int(r.Sequence) == len(seqs) {
			seqs = append(seqs, nil)
		}
		seq := seqs[r.Sequence]
		if int(r.Index) != len(seq) {
			return nil, fmt.Errorf("dataset %s: sequence %d missing item %d", path, r.Sequence, len(seq))
		}
		seqs[r.Sequence] = append(seq, Item{X: r.X, Y: r.Y, Z: r.Z})
	}
	return seqs, nil
}
