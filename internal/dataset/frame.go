package dataset

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrColumnNotFound is returned when a named column is absent from a frame.
	ErrColumnNotFound = errors.New("column not found")
	// ErrInvalidLabel is returned when a target value is not 0 or 1.
	ErrInvalidLabel = errors.New("invalid class label")
)

// Frame is a column-named table of numeric rows.
type Frame struct {
	Columns []string
	Rows    [][]float64
}

// New returns an empty frame with the given header.
func New(columns []string) *Frame {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Frame{Columns: cols, Rows: make([][]float64, 0)}
}

func (f *Frame) Len() int {
	return len(f.Rows)
}

// Index returns the position of a column.
func (f *Frame) Index(name string) (int, error) {
	for i, c := range f.Columns {
		if c == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
}

// Has reports whether the column exists.
func (f *Frame) Has(name string) bool {
	_, err := f.Index(name)
	return err == nil
}

// Column copies out the values of one column.
func (f *Frame) Column(name string) ([]float64, error) {
	idx, err := f.Index(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Labels extracts the target column as binary labels.
func (f *Frame) Labels(target string) ([]int, error) {
	idx, err := f.Index(target)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(f.Rows))
	for i, row := range f.Rows {
		l, err := ToLabel(row[idx])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		labels[i] = l
	}
	return labels, nil
}

// ToLabel converts a stored target value to a class label.
func ToLabel(v float64) (int, error) {
	switch v {
	case 0:
		return 0, nil
	case 1:
		return 1, nil
	}
	if math.IsNaN(v) {
		return 0, fmt.Errorf("%w: NaN", ErrInvalidLabel)
	}
	return 0, fmt.Errorf("%w: %v", ErrInvalidLabel, v)
}

// ClassCounts returns the number of rows per label.
func (f *Frame) ClassCounts(target string) (map[int]int, error) {
	labels, err := f.Labels(target)
	if err != nil {
		return nil, err
	}
	return CountLabels(labels), nil
}

// CountLabels tallies binary labels. Both classes are always present as keys.
func CountLabels(labels []int) map[int]int {
	counts := map[int]int{0: 0, 1: 0}
	for _, l := range labels {
		counts[l]++
	}
	return counts
}

// Features lists every column except target, in frame order.
func (f *Frame) Features(target string) []string {
	out := make([]string, 0, len(f.Columns))
	for _, c := range f.Columns {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}

// XY splits the frame into a feature matrix and label vector.
func (f *Frame) XY(target string) ([][]float64, []int, []string, error) {
	tIdx, err := f.Index(target)
	if err != nil {
		return nil, nil, nil, err
	}
	y, err := f.Labels(target)
	if err != nil {
		return nil, nil, nil, err
	}
	X := make([][]float64, len(f.Rows))
	for i, row := range f.Rows {
		x := make([]float64, 0, len(row)-1)
		x = append(x, row[:tIdx]...)
		x = append(x, row[tIdx+1:]...)
		X[i] = x
	}
	return X, y, f.Features(target), nil
}

// Select projects the frame onto the named columns, in the given order.
func (f *Frame) Select(columns []string) ([][]float64, error) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		j, err := f.Index(c)
		if err != nil {
			return nil, err
		}
		idx[i] = j
	}
	out := make([][]float64, len(f.Rows))
	for r, row := range f.Rows {
		x := make([]float64, len(idx))
		for i, j := range idx {
			x[i] = row[j]
		}
		out[r] = x
	}
	return out, nil
}

// FromXY rebuilds a frame with the target as last column.
func FromXY(features []string, target string, X [][]float64, y []int) *Frame {
	cols := append(append(make([]string, 0, len(features)+1), features...), target)
	fr := &Frame{Columns: cols, Rows: make([][]float64, len(X))}
	for i, x := range X {
		row := make([]float64, 0, len(x)+1)
		row = append(row, x...)
		row = append(row, float64(y[i]))
		fr.Rows[i] = row
	}
	return fr
}

// Subset returns a copy holding the rows at idx, in idx order.
func (f *Frame) Subset(idx []int) *Frame {
	out := New(f.Columns)
	out.Rows = make([][]float64, len(idx))
	for i, j := range idx {
		row := make([]float64, len(f.Rows[j]))
		copy(row, f.Rows[j])
		out.Rows[i] = row
	}
	return out
}

// Filter keeps the rows for which keep returns true.
func (f *Frame) Filter(keep func(row []float64) bool) *Frame {
	idx := make([]int, 0, len(f.Rows))
	for i, row := range f.Rows {
		if keep(row) {
			idx = append(idx, i)
		}
	}
	return f.Subset(idx)
}

func (f *Frame) Clone() *Frame {
	idx := make([]int, len(f.Rows))
	for i := range idx {
		idx[i] = i
	}
	return f.Subset(idx)
}

// SortBy stably sorts rows ascending on one column.
func (f *Frame) SortBy(column string) error {
	idx, err := f.Index(column)
	if err != nil {
		return err
	}
	sort.SliceStable(f.Rows, func(i, j int) bool {
		return f.Rows[i][idx] < f.Rows[j][idx]
	})
	return nil
}

// MoveToEnd relocates a column to the last position.
func (f *Frame) MoveToEnd(column string) error {
	idx, err := f.Index(column)
	if err != nil {
		return err
	}
	last := len(f.Columns) - 1
	if idx == last {
		return nil
	}
	cols := make([]string, 0, len(f.Columns))
	cols = append(cols, f.Columns[:idx]...)
	cols = append(cols, f.Columns[idx+1:]...)
	f.Columns = append(cols, column)
	for r, row := range f.Rows {
		v := row[idx]
		nr := make([]float64, 0, len(row))
		nr = append(nr, row[:idx]...)
		nr = append(nr, row[idx+1:]...)
		f.Rows[r] = append(nr, v)
	}
	return nil
}
