package dataset

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ColumnSummary holds the descriptive statistics of one column.
type ColumnSummary struct {
	Column string  `json:"column"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
}

// Summary describes a frame: its size, class balance and per-column figures.
type Summary struct {
	Rows        int             `json:"rows"`
	ClassCounts map[int]int     `json:"class_counts,omitempty"`
	FraudRatio  float64         `json:"fraud_ratio,omitempty"`
	Columns     []ColumnSummary `json:"columns"`
}

// Describe summarises fr. Class figures are left out when target is absent
// or holds non-binary values.
func Describe(fr *Frame, target string) *Summary {
	s := &Summary{Rows: fr.Len(), Columns: make([]ColumnSummary, 0, len(fr.Columns))}
	if counts, err := fr.ClassCounts(target); err == nil && fr.Len() > 0 {
		s.ClassCounts = counts
		s.FraudRatio = float64(counts[1]) / float64(fr.Len())
	}
	if fr.Len() == 0 {
		return s
	}

	for j, name := range fr.Columns {
		col := make([]float64, fr.Len())
		for i, row := range fr.Rows {
			col[i] = row[j]
		}
		sort.Float64s(col)
		mean, std := stat.MeanStdDev(col, nil)
		if math.IsNaN(std) {
			std = 0
		}
		s.Columns = append(s.Columns, ColumnSummary{
			Column: name,
			Mean:   mean,
			Std:    std,
			Min:    floats.Min(col),
			Median: stat.Quantile(0.5, stat.Empirical, col, nil),
			Max:    floats.Max(col),
		})
	}
	return s
}
