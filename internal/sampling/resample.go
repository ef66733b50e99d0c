package sampling

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"fraud-pipeline/internal/common"
	"fraud-pipeline/internal/dataset"

	"gonum.org/v1/gonum/floats"
)

// UndersampleOptions controls random undersampling.
type UndersampleOptions struct {
	Target string
	Seed   int64
	SortBy string
}

// RandomUndersample reduces the majority class to the minority count by
// seeded sampling without replacement. Selected rows keep input order.
func RandomUndersample(fr *dataset.Frame, opts UndersampleOptions) (*dataset.Frame, error) {
	labels, err := fr.Labels(opts.Target)
	if err != nil {
		return nil, err
	}
	counts := dataset.CountLabels(labels)
	majority, minority := MajorityLabel(counts), MinorityLabel(counts)
	if counts[minority] == 0 {
		return nil, fmt.Errorf("%w: class %d has no rows to balance against", ErrEmptyPartition, minority)
	}

	keep := make([]int, 0, 2*counts[minority])
	majorityIdx := make([]int, 0, counts[majority])
	for i, l := range labels {
		if l == majority {
			majorityIdx = append(majorityIdx, i)
		} else {
			keep = append(keep, i)
		}
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	perm := rng.Perm(len(majorityIdx))
	for _, p := range perm[:counts[minority]] {
		keep = append(keep, majorityIdx[p])
	}
	sort.Ints(keep)

	out := fr.Subset(keep)
	if err := Finalize(out, opts.Target, opts.SortBy); err != nil {
		return nil, err
	}
	return out, nil
}

// TomekOptions controls Tomek-link cleaning.
type TomekOptions struct {
	Target   string
	Strategy string // common.TomekMajority or common.TomekBoth
	SortBy   string
}

// TomekLinks removes boundary pairs: mutual nearest neighbours (Euclidean over
// every non-target column) with different labels. Nearest-neighbour ties go to
// the lowest row index.
func TomekLinks(ctx context.Context, fr *dataset.Frame, opts TomekOptions) (*dataset.Frame, error) {
	if opts.Strategy != common.TomekMajority && opts.Strategy != common.TomekBoth {
		return nil, fmt.Errorf("unknown tomek strategy %q", opts.Strategy)
	}
	X, y, _, err := fr.XY(opts.Target)
	if err != nil {
		return nil, err
	}

	nn, err := nearestNeighbours(ctx, X)
	if err != nil {
		return nil, err
	}

	majority := MajorityLabel(dataset.CountLabels(y))
	drop := make([]bool, len(X))
	for i, j := range nn {
		if j < 0 || j < i || nn[j] != i || y[i] == y[j] {
			continue
		}
		switch opts.Strategy {
		case common.TomekBoth:
			drop[i], drop[j] = true, true
		default:
			if y[i] == majority {
				drop[i] = true
			} else {
				drop[j] = true
			}
		}
	}

	keep := make([]int, 0, len(X))
	for i, d := range drop {
		if !d {
			keep = append(keep, i)
		}
	}

	out := fr.Subset(keep)
	if err := Finalize(out, opts.Target, opts.SortBy); err != nil {
		return nil, err
	}
	return out, nil
}

// nearestNeighbours returns, for each row, the index of its closest other row,
// or -1 when there is none.
func nearestNeighbours(ctx context.Context, X [][]float64) ([]int, error) {
	nn := make([]int, len(X))
	for i := range X {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		best, bestDist := -1, math.Inf(1)
		for j := range X {
			if j == i {
				continue
			}
			if d := floats.Distance(X[i], X[j], 2); d < bestDist {
				best, bestDist = j, d
			}
		}
		nn[i] = best
	}
	return nn, nil
}

// MajorityLabel returns the more frequent label. Equal counts make the lowest
// label the minority, so a balanced set resolves to fraud.
func MajorityLabel(counts map[int]int) int {
	if counts[common.LabelLegit] > counts[common.LabelFraud] {
		return common.LabelLegit
	}
	return common.LabelFraud
}

// MinorityLabel is the complement of MajorityLabel.
func MinorityLabel(counts map[int]int) int {
	return 1 - MajorityLabel(counts)
}
