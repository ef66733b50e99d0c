package sampling

import (
	"context"
	"testing"

	"fraud-pipeline/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeFrame builds n rows with nFraud fraud labels spread evenly; Class sits
// in the middle so callers can check it moves last.
func makeFrame(n, nFraud int) *dataset.Frame {
	fr := dataset.New([]string{"Time", "Class", "V1", "Amount"})
	step := 0
	if nFraud > 0 {
		step = n / nFraud
	}
	fraud := 0
	for i := 0; i < n; i++ {
		label := 0.0
		if step > 0 && i%step == 0 && fraud < nFraud {
			label = 1
			fraud++
		}
		fr.Rows = append(fr.Rows, []float64{float64(n - i), label, float64(i%7) - 3, float64(i * 3)})
	}
	return fr
}

func rowKey(row []float64) [4]float64 {
	var k [4]float64
	copy(k[:], row)
	return k
}

func TestSplit_Stratified(t *testing.T) {
	fr := makeFrame(1000, 50)

	train, test, err := Split(fr, SplitOptions{Target: "Class", TestSize: 0.2, Stratify: true, Seed: 42, SortBy: "Time"})
	require.NoError(t, err)

	assert.Equal(t, 800, train.Len())
	assert.Equal(t, 200, test.Len())
	assert.Equal(t, "Class", train.Columns[len(train.Columns)-1])
	assert.Equal(t, "Class", test.Columns[len(test.Columns)-1])

	trainCounts, err := train.ClassCounts("Class")
	require.NoError(t, err)
	testCounts, err := test.ClassCounts("Class")
	require.NoError(t, err)
	assert.Equal(t, 40, trainCounts[1])
	assert.Equal(t, 10, testCounts[1])

	// disjoint and complete
	seen := map[[4]float64]int{}
	for _, p := range []*dataset.Frame{train, test} {
		for _, row := range p.Rows {
			seen[rowKey(row)]++
		}
	}
	assert.Len(t, seen, 1000)
	for _, c := range seen {
		assert.Equal(t, 1, c)
	}

	// sorted by Time
	times, _ := train.Column("Time")
	for i := 1; i < len(times); i++ {
		assert.LessOrEqual(t, times[i-1], times[i])
	}
}

func TestSplit_DeterministicBySeed(t *testing.T) {
	fr := makeFrame(300, 30)
	opts := SplitOptions{Target: "Class", TestSize: 0.25, Stratify: true, Seed: 7, SortBy: "Time"}

	_, a, err := Split(fr, opts)
	require.NoError(t, err)
	_, b, err := Split(fr, opts)
	require.NoError(t, err)
	assert.Equal(t, a.Rows, b.Rows)

	opts.Seed = 8
	_, c, err := Split(fr, opts)
	require.NoError(t, err)
	assert.NotEqual(t, a.Rows, c.Rows)
}

func TestSplit_CeilAndRemainder(t *testing.T) {
	// 11 rows, 3 fraud: nTest = ceil(2.2) = 3; quotas floor(3*8/11)=2, floor(3*3/11)=0,
	// fractions .18 and .82 so the remainder goes to fraud.
	fr := makeFrame(11, 3)
	counts, _ := fr.ClassCounts("Class")
	require.Equal(t, 3, counts[1])

	_, test, err := Split(fr, SplitOptions{Target: "Class", TestSize: 0.2, Stratify: true, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, test.Len())
	testCounts, _ := test.ClassCounts("Class")
	assert.Equal(t, 1, testCounts[1])
	assert.Equal(t, 2, testCounts[0])
}

func TestSplit_Unstratified(t *testing.T) {
	fr := makeFrame(100, 10)
	train, test, err := Split(fr, SplitOptions{Target: "Class", TestSize: 0.3, Seed: 3})
	require.NoError(t, err)
	assert.Equal(t, 70, train.Len())
	assert.Equal(t, 30, test.Len())
}

func TestSplit_Errors(t *testing.T) {
	fr := makeFrame(10, 2)

	_, _, err := Split(fr, SplitOptions{Target: "Missing", TestSize: 0.2})
	assert.ErrorIs(t, err, dataset.ErrColumnNotFound)

	_, _, err = Split(fr, SplitOptions{Target: "Class", TestSize: 0})
	assert.Error(t, err)

	_, _, err = Split(dataset.New([]string{"Time", "Class"}), SplitOptions{Target: "Class", TestSize: 0.2})
	assert.ErrorIs(t, err, ErrEmptyPartition)

	bad := makeFrame(10, 2)
	bad.Rows[3][1] = 3
	_, _, err = Split(bad, SplitOptions{Target: "Class", TestSize: 0.2})
	assert.ErrorIs(t, err, dataset.ErrInvalidLabel)
}

func TestClean(t *testing.T) {
	fr := &dataset.Frame{
		Columns: []string{"Time", "Amount", "Class"},
		Rows: [][]float64{
			{4, 1010.875, 0},
			{3, 1010.876, 0},
			{2, 5000, 1},
			{1, 10, 0},
		},
	}

	out, err := Clean(fr, CleanOptions{Column: "Amount", Threshold: 1010.875, Target: "Class", FraudLabel: 1, SortBy: "Time"})
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())

	times, _ := out.Column("Time")
	assert.Equal(t, []float64{1, 2, 4}, times)

	fraud, _ := out.ClassCounts("Class")
	assert.Equal(t, 1, fraud[1], "fraud rows are never removed")

	_, err = Clean(fr, CleanOptions{Column: "Nope", Target: "Class"})
	assert.ErrorIs(t, err, dataset.ErrColumnNotFound)
}

func TestRandomUndersample(t *testing.T) {
	fr := makeFrame(200, 20)

	out, err := RandomUndersample(fr, UndersampleOptions{Target: "Class", Seed: 42, SortBy: "Time"})
	require.NoError(t, err)
	counts, _ := out.ClassCounts("Class")
	assert.Equal(t, 20, counts[0])
	assert.Equal(t, 20, counts[1])

	again, err := RandomUndersample(fr, UndersampleOptions{Target: "Class", Seed: 42, SortBy: "Time"})
	require.NoError(t, err)
	assert.Equal(t, out.Rows, again.Rows)

	_, err = RandomUndersample(makeFrame(10, 0), UndersampleOptions{Target: "Class"})
	assert.ErrorIs(t, err, ErrEmptyPartition)
}

func TestTomekLinks(t *testing.T) {
	// rows 0 and 1 are mutual nearest neighbours with different labels;
	// rows 2 and 3 are a same-class pair; row 4 is isolated.
	fr := &dataset.Frame{
		Columns: []string{"V1", "V2", "Class"},
		Rows: [][]float64{
			{0, 0, 0},
			{0.1, 0, 1},
			{10, 10, 0},
			{10.1, 10, 0},
			{50, 50, 1},
		},
	}

	t.Run("majority", func(t *testing.T) {
		out, err := TomekLinks(context.Background(), fr, TomekOptions{Target: "Class", Strategy: "majority"})
		require.NoError(t, err)
		require.Equal(t, 4, out.Len())
		counts, _ := out.ClassCounts("Class")
		assert.Equal(t, 2, counts[1], "fraud rows survive the majority strategy")
		assert.Equal(t, []float64{0.1, 0, 1}, out.Rows[0])
	})

	t.Run("both", func(t *testing.T) {
		out, err := TomekLinks(context.Background(), fr, TomekOptions{Target: "Class", Strategy: "both"})
		require.NoError(t, err)
		assert.Equal(t, 3, out.Len())
	})

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := TomekLinks(context.Background(), fr, TomekOptions{Target: "Class", Strategy: "none"})
		assert.Error(t, err)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := TomekLinks(ctx, fr, TomekOptions{Target: "Class", Strategy: "majority"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTomekLinks_BalancedTieDropsFraudMember(t *testing.T) {
	fr := &dataset.Frame{
		Columns: []string{"V1", "Class"},
		Rows:    [][]float64{{0, 1}, {0.5, 0}, {100, 0}, {101, 1}},
	}
	out, err := TomekLinks(context.Background(), fr, TomekOptions{Target: "Class", Strategy: "majority"})
	require.NoError(t, err)
	counts, _ := out.ClassCounts("Class")
	assert.Equal(t, 0, counts[1])
	assert.Equal(t, 2, counts[0])
}

func TestTomekLinks_AfterUndersampling(t *testing.T) {
	fr := &dataset.Frame{
		Columns: []string{"V1", "Class"},
		Rows:    [][]float64{{0, 0}, {0.2, 1}, {0.5, 0}, {90, 1}},
	}
	out, err := TomekLinks(context.Background(), fr, TomekOptions{Target: "Class", Strategy: "majority"})
	require.NoError(t, err)
	counts, _ := out.ClassCounts("Class")
	assert.Equal(t, 2, counts[0])
	assert.Equal(t, 1, counts[1])
}

func TestMajorityLabel(t *testing.T) {
	assert.Equal(t, 1, MajorityLabel(map[int]int{0: 5, 1: 5}))
	assert.Equal(t, 0, MinorityLabel(map[int]int{0: 5, 1: 5}))
	assert.Equal(t, 0, MajorityLabel(map[int]int{0: 7, 1: 5}))
	assert.Equal(t, 1, MajorityLabel(map[int]int{0: 2, 1: 5}))
	assert.Equal(t, 1, MinorityLabel(map[int]int{0: 9, 1: 1}))
}
