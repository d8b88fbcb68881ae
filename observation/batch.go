// Package observation splits and decodes batched PCT observations.
//
// The raw observation is a flat float32 buffer laid out row-major as
// (batch, rows, layout.FeatureWidth). Every function in this package is pure:
// nothing here holds state between calls, so workers may decode independent
// batches concurrently without locks.
package observation

import (
	"fmt"

	"github.com/brensch/pct/layout"
)

// ShapeError reports an observation buffer that does not factor into the
// declared (batch, rows, FeatureWidth) layout.
type ShapeError struct {
	Op        string
	Len       int
	BatchSize int
	Rows      int
	Reason    string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("observation %s: len=%d batch=%d rows=%d: %s", e.Op, e.Len, e.BatchSize, e.Rows, e.Reason)
}

// Batch is a (size, rows, FeatureWidth) float32 tensor backed by one slice.
type Batch struct {
	data []float32
	size int
	rows int
}

// Reshape factors obs into (batchSize, rows, FeatureWidth). The row count is
// derived from the buffer length; it is never truncated.
func Reshape(obs []float32, batchSize int) (*Batch, error) {
	if batchSize <= 0 {
		return nil, &ShapeError{Op: "reshape", Len: len(obs), BatchSize: batchSize, Reason: "batch size must be positive"}
	}
	if len(obs) == 0 {
		return nil, &ShapeError{Op: "reshape", Len: 0, BatchSize: batchSize, Reason: "empty observation"}
	}
	if len(obs)%batchSize != 0 {
		return nil, &ShapeError{Op: "reshape", Len: len(obs), BatchSize: batchSize, Reason: "length is not a multiple of the batch size"}
	}
	perSample := len(obs) / batchSize
	if perSample%layout.FeatureWidth != 0 {
		return nil, &ShapeError{
			Op:        "reshape",
			Len:       len(obs),
			BatchSize: batchSize,
			Reason:    fmt.Sprintf("%d elements per sample is not a multiple of %d", perSample, layout.FeatureWidth),
		}
	}
	return &Batch{data: obs, size: batchSize, rows: perSample / layout.FeatureWidth}, nil
}

// ReshapeExact is Reshape for a buffer with the declared shape
// (batchSize, rows, FeatureWidth). A length that factors under batchSize into
// some other row count is still a ShapeError.
func ReshapeExact(obs []float32, batchSize, rows int) (*Batch, error) {
	if rows <= 0 {
		return nil, &ShapeError{Op: "reshape", Len: len(obs), BatchSize: batchSize, Rows: rows, Reason: "rows must be positive"}
	}
	b, err := Reshape(obs, batchSize)
	if err != nil {
		return nil, err
	}
	if b.rows != rows {
		return nil, &ShapeError{
			Op:        "reshape",
			Len:       len(obs),
			BatchSize: batchSize,
			Rows:      rows,
			Reason:    fmt.Sprintf("declared shape (%d, %d, %d) needs %d elements", batchSize, rows, layout.FeatureWidth, batchSize*rows*layout.FeatureWidth),
		}
	}
	return b, nil
}

func (b *Batch) Size() int { return b.size }
func (b *Batch) Rows() int { return b.rows }

// Shape returns (size, rows, FeatureWidth).
func (b *Batch) Shape() [3]int { return [3]int{b.size, b.rows, layout.FeatureWidth} }

// Data returns the backing slice. Callers must treat it as read-only.
func (b *Batch) Data() []float32 { return b.data }

// At returns element (i, r, c).
func (b *Batch) At(i, r, c int) float32 {
	return b.data[(i*b.rows+r)*layout.FeatureWidth+c]
}

// View returns the whole batch as a View.
func (b *Batch) View() View {
	return b.band(0, b.rows, 0, layout.FeatureWidth)
}

func (b *Batch) band(rowStart, rowEnd, colStart, colEnd int) View {
	return View{
		data:       b.data,
		size:       b.size,
		sampleRows: b.rows,
		rowStart:   rowStart,
		rowEnd:     rowEnd,
		colStart:   colStart,
		colEnd:     colEnd,
	}
}

func (b *Batch) column(rowStart, rowEnd, col int) Column {
	return Column{
		data:       b.data,
		size:       b.size,
		sampleRows: b.rows,
		rowStart:   rowStart,
		rowEnd:     rowEnd,
		col:        col,
	}
}

// View is a read-only (size, rows, cols) window onto a Batch. Views share the
// batch's backing slice; use Copy for an independent buffer.
type View struct {
	data       []float32
	size       int
	sampleRows int
	rowStart   int
	rowEnd     int
	colStart   int
	colEnd     int
}

func (v View) Size() int { return v.size }
func (v View) Rows() int { return v.rowEnd - v.rowStart }
func (v View) Cols() int { return v.colEnd - v.colStart }

// Shape returns (size, rows, cols).
func (v View) Shape() [3]int { return [3]int{v.size, v.Rows(), v.Cols()} }

func (v View) offset(i, r int) int {
	return (i*v.sampleRows+v.rowStart+r)*layout.FeatureWidth + v.colStart
}

// At returns element (i, r, c) relative to the view.
func (v View) At(i, r, c int) float32 {
	if r < 0 || r >= v.Rows() || c < 0 || c >= v.Cols() {
		panic(fmt.Sprintf("observation: view index (%d, %d) out of range %v", r, c, v.Shape()))
	}
	return v.data[v.offset(i, r)+c]
}

// Row returns row r of sample i. The returned slice aliases the batch.
func (v View) Row(i, r int) []float32 {
	if r < 0 || r >= v.Rows() {
		panic(fmt.Sprintf("observation: view row %d out of range %v", r, v.Shape()))
	}
	off := v.offset(i, r)
	return v.data[off : off+v.Cols() : off+v.Cols()]
}

// Copy returns the view as a new contiguous (size, rows, cols) buffer.
func (v View) Copy() []float32 {
	out := make([]float32, 0, v.size*v.Rows()*v.Cols())
	for i := 0; i < v.size; i++ {
		for r := 0; r < v.Rows(); r++ {
			out = append(out, v.Row(i, r)...)
		}
	}
	return out
}

// Column is a read-only (size, rows) window onto a single Batch column.
type Column struct {
	data       []float32
	size       int
	sampleRows int
	rowStart   int
	rowEnd     int
	col        int
}

func (c Column) Size() int { return c.size }
func (c Column) Rows() int { return c.rowEnd - c.rowStart }

// Shape returns (size, rows).
func (c Column) Shape() [2]int { return [2]int{c.size, c.Rows()} }

// At returns the flag for sample i, row r relative to the column window.
func (c Column) At(i, r int) float32 {
	if r < 0 || r >= c.Rows() {
		panic(fmt.Sprintf("observation: column row %d out of range %v", r, c.Shape()))
	}
	return c.data[(i*c.sampleRows+c.rowStart+r)*layout.FeatureWidth+c.col]
}

// Copy returns the column as a new contiguous (size, rows) buffer.
func (c Column) Copy() []float32 {
	out := make([]float32, 0, c.size*c.Rows())
	for i := 0; i < c.size; i++ {
		for r := 0; r < c.Rows(); r++ {
			out = append(out, c.At(i, r))
		}
	}
	return out
}
