package sampling

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"fraud-pipeline/internal/dataset"
)

// ErrEmptyPartition is returned when a split would leave train or test empty.
var ErrEmptyPartition = errors.New("empty partition")

// SplitOptions controls the train/test partition.
type SplitOptions struct {
	Target   string
	TestSize float64
	Stratify bool
	Seed     int64
	SortBy   string
}

// Split partitions fr into disjoint train and test frames whose union is fr.
// The test partition holds ceil(TestSize*n) rows. With Stratify each class
// contributes floor(nTest*n_c/n) rows and the leftover goes to the classes
// with the largest fractional parts.
func Split(fr *dataset.Frame, opts SplitOptions) (*dataset.Frame, *dataset.Frame, error) {
	if opts.TestSize <= 0 || opts.TestSize >= 1 {
		return nil, nil, fmt.Errorf("test size must be in (0, 1), got %f", opts.TestSize)
	}
	labels, err := fr.Labels(opts.Target)
	if err != nil {
		return nil, nil, err
	}

	n := fr.Len()
	nTest := int(math.Ceil(opts.TestSize*float64(n) - 1e-9))
	if nTest <= 0 || nTest >= n {
		return nil, nil, fmt.Errorf("%w: %d rows with test size %g gives %d test rows", ErrEmptyPartition, n, opts.TestSize, nTest)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	isTest := make([]bool, n)

	if opts.Stratify {
		byClass := map[int][]int{}
		for i, l := range labels {
			byClass[l] = append(byClass[l], i)
		}
		quota := stratifiedQuota(nTest, n, byClass)
		for _, label := range sortedLabels(byClass) {
			members := byClass[label]
			perm := rng.Perm(len(members))
			for _, p := range perm[:quota[label]] {
				isTest[members[p]] = true
			}
		}
	} else {
		for _, p := range rng.Perm(n)[:nTest] {
			isTest[p] = true
		}
	}

	trainIdx := make([]int, 0, n-nTest)
	testIdx := make([]int, 0, nTest)
	for i, t := range isTest {
		if t {
			testIdx = append(testIdx, i)
		} else {
			trainIdx = append(trainIdx, i)
		}
	}

	train := fr.Subset(trainIdx)
	test := fr.Subset(testIdx)
	if err := Finalize(train, opts.Target, opts.SortBy); err != nil {
		return nil, nil, err
	}
	if err := Finalize(test, opts.Target, opts.SortBy); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

func stratifiedQuota(nTest, n int, byClass map[int][]int) map[int]int {
	type rem struct {
		label int
		frac  float64
	}
	quota := make(map[int]int, len(byClass))
	rems := make([]rem, 0, len(byClass))
	assigned := 0
	for _, label := range sortedLabels(byClass) {
		exact := float64(nTest) * float64(len(byClass[label])) / float64(n)
		q := int(math.Floor(exact))
		quota[label] = q
		assigned += q
		rems = append(rems, rem{label: label, frac: exact - float64(q)})
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; assigned < nTest && i < len(rems); i++ {
		if quota[rems[i].label] < len(byClass[rems[i].label]) {
			quota[rems[i].label]++
			assigned++
		}
	}
	return quota
}

func sortedLabels(byClass map[int][]int) []int {
	out := make([]int, 0, len(byClass))
	for l := range byClass {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// Finalize moves target to the last column and sorts by sortBy when the
// column exists. An empty sortBy leaves row order alone.
func Finalize(fr *dataset.Frame, target, sortBy string) error {
	if err := fr.MoveToEnd(target); err != nil {
		return err
	}
	if sortBy == "" {
		return nil
	}
	return fr.SortBy(sortBy)
}
