package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"fraud-pipeline/internal/common"
	"fraud-pipeline/internal/dataset"

	"gonum.org/v1/gonum/floats"
)

// ErrNotFitted is returned by Transform before Fit.
var ErrNotFitted = errors.New("scaler not fitted")

// RobustScaler centres columns on their median and divides by the
// interquartile range, so heavy-tailed columns such as Amount do not dominate.
type RobustScaler struct {
	Columns []string  `json:"columns"`
	Centers []float64 `json:"centers"`
	Scales  []float64 `json:"scales"`
}

func NewRobustScaler() *RobustScaler {
	return &RobustScaler{}
}

// Fitted reports whether Fit has produced a usable state.
func (s *RobustScaler) Fitted() bool {
	return s != nil && len(s.Columns) > 0 && len(s.Centers) == len(s.Columns) && len(s.Scales) == len(s.Columns)
}

// Fit learns median and IQR for each column. A zero IQR maps to scale 1.
func (s *RobustScaler) Fit(fr *dataset.Frame, columns []string) error {
	if len(columns) == 0 {
		return fmt.Errorf("no columns to scale")
	}
	if fr.Len() == 0 {
		return fmt.Errorf("cannot fit scaler on an empty frame")
	}

	centers := make([]float64, len(columns))
	scales := make([]float64, len(columns))
	for i, c := range columns {
		values, err := fr.Column(c)
		if err != nil {
			return err
		}
		if floats.HasNaN(values) {
			return fmt.Errorf("column %s contains NaN", c)
		}
		sort.Float64s(values)
		centers[i] = Quantile(values, 0.5)
		iqr := Quantile(values, 0.75) - Quantile(values, 0.25)
		if iqr == 0 {
			iqr = 1
		}
		scales[i] = iqr
	}

	s.Columns = append([]string(nil), columns...)
	s.Centers = centers
	s.Scales = scales
	return nil
}

// Quantile interpolates linearly between the closest ranks of sorted
// (h = (n-1)p).
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	h := float64(n-1) * p
	lo := int(h)
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Transform returns a copy of fr with the fitted columns scaled in place.
func (s *RobustScaler) Transform(fr *dataset.Frame) (*dataset.Frame, error) {
	if !s.Fitted() {
		return nil, ErrNotFitted
	}
	idx := make([]int, len(s.Columns))
	for i, c := range s.Columns {
		j, err := fr.Index(c)
		if err != nil {
			return nil, err
		}
		idx[i] = j
	}

	out := fr.Clone()
	for _, row := range out.Rows {
		for i, j := range idx {
			row[j] = (row[j] - s.Centers[i]) / s.Scales[i]
		}
	}
	return out, nil
}

// TransformVector scales a single feature vector laid out as features.
func (s *RobustScaler) TransformVector(features []string, x []float64) ([]float64, error) {
	if !s.Fitted() {
		return nil, ErrNotFitted
	}
	if len(features) != len(x) {
		return nil, fmt.Errorf("feature vector has %d values for %d names", len(x), len(features))
	}
	pos := make(map[string]int, len(features))
	for i, f := range features {
		pos[f] = i
	}
	out := append([]float64(nil), x...)
	for i, c := range s.Columns {
		j, ok := pos[c]
		if !ok {
			return nil, fmt.Errorf("%w: %s", dataset.ErrColumnNotFound, c)
		}
		out[j] = (out[j] - s.Centers[i]) / s.Scales[i]
	}
	return out, nil
}

func (s *RobustScaler) FitTransform(fr *dataset.Frame, columns []string) (*dataset.Frame, error) {
	if err := s.Fit(fr, columns); err != nil {
		return nil, err
	}
	return s.Transform(fr)
}

// Covers checks that every scaled column is one of features.
func (s *RobustScaler) Covers(features []string) error {
	if !s.Fitted() {
		return ErrNotFitted
	}
	known := make(map[string]struct{}, len(features))
	for _, f := range features {
		known[f] = struct{}{}
	}
	for _, c := range s.Columns {
		if _, ok := known[c]; !ok {
			return fmt.Errorf("scaled column %s is not a feature", c)
		}
	}
	return nil
}

// Save writes the fitted state as JSON.
func (s *RobustScaler) Save(path string) error {
	if !s.Fitted() {
		return ErrNotFitted
	}
	return common.WriteFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	})
}

// LoadRobustScaler reads a state written by Save.
func LoadRobustScaler(path string) (*RobustScaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scaler state: %w", err)
	}
	s := &RobustScaler{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode scaler state: %w", err)
	}
	if !s.Fitted() {
		return nil, fmt.Errorf("scaler state %s: %w", path, ErrNotFitted)
	}
	return s, nil
}
