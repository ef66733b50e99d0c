package evaluate

import (
	"fmt"
	"math"
	"sort"

	"fraud-pipeline/internal/dataset"

	"gonum.org/v1/gonum/stat"
)

// DriftLevel grades how far a distribution moved from its baseline.
type DriftLevel int

const (
	DriftNone DriftLevel = iota
	DriftLow
	DriftMedium
	DriftHigh
)

func (l DriftLevel) String() string {
	switch l {
	case DriftLow:
		return "low"
	case DriftMedium:
		return "medium"
	case DriftHigh:
		return "high"
	default:
		return "none"
	}
}

func (l DriftLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Drift thresholds. PSI follows the usual 0.1 / 0.25 bands.
const (
	psiBins   = 10
	psiFloor  = 1e-4
	psiMedium = 0.1
	psiHigh   = 0.25
	ksLow     = 0.1
)

// FeatureDrift compares one feature between baseline and current rows.
type FeatureDrift struct {
	Feature      string     `json:"feature"`
	KS           float64    `json:"ks"`
	PSI          float64    `json:"psi"`
	BaselineMean float64    `json:"baseline_mean"`
	BaselineStd  float64    `json:"baseline_std"`
	CurrentMean  float64    `json:"current_mean"`
	CurrentStd   float64    `json:"current_std"`
	Level        DriftLevel `json:"level"`
}

// DriftReport is the per-feature drift between two partitions.
type DriftReport struct {
	BaselineRows int            `json:"baseline_rows"`
	CurrentRows  int            `json:"current_rows"`
	Features     []FeatureDrift `json:"features"`
	Level        DriftLevel     `json:"level"`
}

// Drifted returns the features at or above level, worst first.
func (r *DriftReport) Drifted(level DriftLevel) []FeatureDrift {
	var out []FeatureDrift
	for _, f := range r.Features {
		if f.Level >= level {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PSI > out[j].PSI })
	return out
}

// CompareFrames measures drift of each feature between baseline and
// current. Both frames must carry every feature.
func CompareFrames(baseline, current *dataset.Frame, features []string) (*DriftReport, error) {
	if baseline.Len() == 0 || current.Len() == 0 {
		return nil, fmt.Errorf("drift needs rows on both sides (baseline %d, current %d)", baseline.Len(), current.Len())
	}
	report := &DriftReport{
		BaselineRows: baseline.Len(),
		CurrentRows:  current.Len(),
		Features:     make([]FeatureDrift, 0, len(features)),
	}
	for _, f := range features {
		base, err := baseline.Column(f)
		if err != nil {
			return nil, fmt.Errorf("baseline: %w", err)
		}
		cur, err := current.Column(f)
		if err != nil {
			return nil, fmt.Errorf("current: %w", err)
		}
		fd := CompareColumn(f, base, cur)
		if fd.Level > report.Level {
			report.Level = fd.Level
		}
		report.Features = append(report.Features, fd)
	}
	return report, nil
}

// CompareColumn computes KS, PSI and moments for one feature. Inputs are
// sorted in place.
func CompareColumn(name string, baseline, current []float64) FeatureDrift {
	sort.Float64s(baseline)
	sort.Float64s(current)

	fd := FeatureDrift{
		Feature: name,
		KS:      stat.KolmogorovSmirnov(baseline, nil, current, nil),
		PSI:     PSI(baseline, current),
	}
	fd.BaselineMean, fd.BaselineStd = stat.MeanStdDev(baseline, nil)
	fd.CurrentMean, fd.CurrentStd = stat.MeanStdDev(current, nil)
	// a single row has no sample deviation
	if math.IsNaN(fd.BaselineStd) {
		fd.BaselineStd = 0
	}
	if math.IsNaN(fd.CurrentStd) {
		fd.CurrentStd = 0
	}

	switch {
	case fd.PSI >= psiHigh:
		fd.Level = DriftHigh
	case fd.PSI >= psiMedium:
		fd.Level = DriftMedium
	case fd.KS >= ksLow:
		fd.Level = DriftLow
	}
	return fd
}

// PSI is the population stability index of current against baseline over
// baseline decile bins. Both inputs must be sorted.
func PSI(baseline, current []float64) float64 {
	if len(baseline) == 0 || len(current) == 0 {
		return 0
	}

	edges := make([]float64, 0, psiBins-1)
	for i := 1; i < psiBins; i++ {
		q := stat.Quantile(float64(i)/psiBins, stat.Empirical, baseline, nil)
		if len(edges) == 0 || q > edges[len(edges)-1] {
			edges = append(edges, q)
		}
	}

	base := binShares(baseline, edges)
	cur := binShares(current, edges)
	var psi float64
	for i := range base {
		b := math.Max(base[i], psiFloor)
		c := math.Max(cur[i], psiFloor)
		psi += (c - b) * math.Log(c/b)
	}
	return psi
}

// binShares returns the share of values per bin. Bin i holds values in
// (edges[i-1], edges[i]].
func binShares(values, edges []float64) []float64 {
	shares := make([]float64, len(edges)+1)
	for _, v := range values {
		shares[sort.SearchFloat64s(edges, v)]++
	}
	for i := range shares {
		shares[i] /= float64(len(values))
	}
	return shares
}
