package sampling

import (
	"fmt"

	"fraud-pipeline/internal/dataset"
)

// CleanOptions describes the static outlier policy.
type CleanOptions struct {
	Column     string
	Threshold  float64
	Target     string
	FraudLabel int
	SortBy     string
}

// Clean keeps every FraudLabel row and keeps other rows only when
// Column <= Threshold.
func Clean(fr *dataset.Frame, opts CleanOptions) (*dataset.Frame, error) {
	col, err := fr.Index(opts.Column)
	if err != nil {
		return nil, err
	}
	if _, err := fr.Labels(opts.Target); err != nil {
		return nil, err
	}
	if opts.Column == opts.Target {
		return nil, fmt.Errorf("clean column cannot be the target %s", opts.Target)
	}
	target, err := fr.Index(opts.Target)
	if err != nil {
		return nil, err
	}

	fraud := float64(opts.FraudLabel)
	out := fr.Filter(func(row []float64) bool {
		return row[target] == fraud || row[col] <= opts.Threshold
	})
	if err := Finalize(out, opts.Target, opts.SortBy); err != nil {
		return nil, err
	}
	return out, nil
}
