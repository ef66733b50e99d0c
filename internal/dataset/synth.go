package dataset

import (
	"fmt"
	"math/rand"
	"strconv"

	"fraud-pipeline/internal/common"
)

// SynthOptions shapes a generated transaction table.
type SynthOptions struct {
	Rows     int
	Fraud    int
	Features int // number of V columns
	Seed     int64
}

// Synthesize generates a Time, V1..Vk, Amount, Class table. Fraud rows are
// shifted in the first half of the V columns and carry larger amounts; a few
// legit rows exceed the default cleaning threshold.
func Synthesize(opts SynthOptions) (*Frame, error) {
	if opts.Rows <= 0 {
		return nil, fmt.Errorf("rows must be positive, got %d", opts.Rows)
	}
	if opts.Fraud < 0 || opts.Fraud > opts.Rows {
		return nil, fmt.Errorf("fraud count must be within [0, %d], got %d", opts.Rows, opts.Fraud)
	}
	if opts.Features <= 0 {
		return nil, fmt.Errorf("features must be positive, got %d", opts.Features)
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	columns := make([]string, 0, opts.Features+3)
	columns = append(columns, common.ColumnTime)
	for i := 1; i <= opts.Features; i++ {
		columns = append(columns, "V"+strconv.Itoa(i))
	}
	columns = append(columns, common.ColumnAmount, common.ColumnClass)

	labels := make([]int, opts.Rows)
	for i := 0; i < opts.Fraud; i++ {
		labels[i] = common.LabelFraud
	}
	rng.Shuffle(len(labels), func(i, j int) { labels[i], labels[j] = labels[j], labels[i] })

	const horizon = 172800.0 // two days in seconds
	step := horizon / float64(opts.Rows)

	fr := New(columns)
	fr.Rows = make([][]float64, opts.Rows)
	shifted := (opts.Features + 1) / 2
	for i := range fr.Rows {
		row := make([]float64, len(columns))
		row[0] = float64(int(float64(i)*step + rng.Float64()*step))
		fraud := labels[i] == common.LabelFraud
		for v := 1; v <= opts.Features; v++ {
			x := rng.NormFloat64()
			if fraud && v <= shifted {
				x += 3
			}
			row[v] = x
		}
		var amount float64
		switch {
		case fraud:
			amount = rng.ExpFloat64() * 250
		case rng.Float64() < 0.01:
			amount = common.DefaultCleanThreshold + rng.ExpFloat64()*2000
		default:
			amount = rng.ExpFloat64() * 80
		}
		row[opts.Features+1] = float64(int(amount*100)) / 100
		row[opts.Features+2] = float64(labels[i])
		fr.Rows[i] = row
	}
	return fr, nil
}
