package evaluate

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fraud-pipeline/internal/cfg"
	"fraud-pipeline/internal/common"
	"fraud-pipeline/internal/dataset"
	"fraud-pipeline/internal/ml"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfusion(t *testing.T) {
	c, err := NewConfusion([]int{1, 1, 0, 0, 1, 0}, []int{1, 0, 0, 1, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, Confusion{TP: 2, FP: 1, TN: 2, FN: 1}, c)

	_, err = NewConfusion([]int{1}, []int{1, 0})
	assert.Error(t, err)
}

func TestScore(t *testing.T) {
	yTrue := []int{1, 1, 1, 1, 0, 0, 0, 0, 0, 0}
	yPred := []int{1, 1, 1, 0, 1, 0, 0, 0, 0, 0}
	proba := []float64{0.9, 0.8, 0.7, 0.4, 0.6, 0.3, 0.2, 0.1, 0.1, 0.05}

	s, err := Score(yTrue, yPred, proba)
	require.NoError(t, err)
	assert.Equal(t, 10, s.Support)
	assert.InDelta(t, 0.8, s.Accuracy, 1e-12)
	assert.InDelta(t, 0.75, s.Precision, 1e-12)
	assert.InDelta(t, 0.75, s.Recall, 1e-12)
	assert.InDelta(t, 5.0/6, s.Specificity, 1e-12)
	assert.InDelta(t, 0.75, s.F1, 1e-12)
	// 0.4 ranks below 0.6 only: 23 of 24 pairs ordered
	assert.InDelta(t, 23.0/24, s.ROCAUC, 1e-12)

	m := s.Map()
	assert.Len(t, m, 6)
	assert.Equal(t, s.ROCAUC, m["roc_auc"])
}

func TestScore_NoPositivePredictions(t *testing.T) {
	s, err := Score([]int{1, 0, 0}, []int{0, 0, 0}, []float64{0.4, 0.2, 0.1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Precision)
	assert.Equal(t, 0.0, s.Recall)
	assert.Equal(t, 0.0, s.F1)
	assert.Equal(t, 1.0, s.ROCAUC)

	_, err = Score(nil, nil, nil)
	assert.Error(t, err)
}

func TestROCAUC(t *testing.T) {
	tests := []struct {
		name   string
		y      []int
		scores []float64
		want   float64
	}{
		{"perfect", []int{0, 0, 1, 1}, []float64{0.1, 0.2, 0.8, 0.9}, 1},
		{"inverted", []int{1, 1, 0, 0}, []float64{0.1, 0.2, 0.8, 0.9}, 0},
		{"all tied", []int{0, 1, 0, 1}, []float64{0.5, 0.5, 0.5, 0.5}, 0.5},
		{"one crossing", []int{0, 0, 1, 1}, []float64{0.1, 0.4, 0.35, 0.8}, 0.75},
		{"partial tie", []int{0, 1, 0}, []float64{0.3, 0.5, 0.5}, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ROCAUC(tt.y, tt.scores)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}

	_, err := ROCAUC([]int{0, 0}, []float64{0.1, 0.2})
	assert.ErrorIs(t, err, ErrSingleClass)
	_, err = ROCAUC([]int{0, 1}, []float64{0.1})
	assert.Error(t, err)
}

func TestROCAUC_DoesNotReorderInput(t *testing.T) {
	scores := []float64{0.9, 0.1, 0.5}
	_, err := ROCAUC([]int{1, 0, 1}, scores)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 0.1, 0.5}, scores)
}

func normalSample(rng *rand.Rand, n int, mean float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + rng.NormFloat64()
	}
	return out
}

func TestPSIAndKS(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	same := CompareColumn("same", normalSample(rng, 2000, 0), normalSample(rng, 2000, 0))
	assert.Less(t, same.PSI, 0.05)
	assert.Less(t, same.KS, 0.1)
	assert.Equal(t, DriftNone, same.Level)
	assert.InDelta(t, 0, same.BaselineMean, 0.1)
	assert.InDelta(t, 1, same.BaselineStd, 0.1)

	shifted := CompareColumn("shifted", normalSample(rng, 2000, 0), normalSample(rng, 2000, 1))
	assert.Greater(t, shifted.PSI, 0.25)
	assert.Greater(t, shifted.KS, 0.3)
	assert.Equal(t, DriftHigh, shifted.Level)
	assert.InDelta(t, 1, shifted.CurrentMean, 0.1)

	identical := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 0, PSI(identical, identical), 1e-12)
	assert.Equal(t, 0.0, PSI(nil, identical))
}

func TestPSI_ConstantBaseline(t *testing.T) {
	base := []float64{1, 1, 1, 1}
	assert.InDelta(t, 0, PSI(base, []float64{1, 1}), 1e-12)
	assert.Greater(t, PSI(base, []float64{2, 2}), 1.0)
}

func TestCompareFrames(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	build := func(shift float64) *dataset.Frame {
		fr := dataset.New([]string{"a", "b", common.ColClass})
		for i := 0; i < 1000; i++ {
			fr.Rows = append(fr.Rows, []float64{rng.NormFloat64(), shift + rng.NormFloat64(), float64(i % 2)})
		}
		return fr
	}
	base, cur := build(0), build(2)
	first := base.Rows[0][0]

	report, err := CompareFrames(base, cur, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1000, report.BaselineRows)
	require.Len(t, report.Features, 2)
	assert.Equal(t, DriftNone, report.Features[0].Level)
	assert.Equal(t, DriftHigh, report.Features[1].Level)
	assert.Equal(t, DriftHigh, report.Level)

	drifted := report.Drifted(DriftMedium)
	require.Len(t, drifted, 1)
	assert.Equal(t, "b", drifted[0].Feature)

	assert.Equal(t, first, base.Rows[0][0], "frames are not reordered")
	_, err = CompareFrames(base, cur, []string{"missing"})
	assert.ErrorIs(t, err, dataset.ErrColumnNotFound)
	_, err = CompareFrames(dataset.New([]string{"a"}), cur, []string{"a"})
	assert.Error(t, err)
}

func TestDriftLevel_JSON(t *testing.T) {
	data, err := json.Marshal(FeatureDrift{Feature: "x", Level: DriftMedium})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"medium"`)
}

// firstFeatureScorer scores rows by their first value only.
type firstFeatureScorer struct{}

func (firstFeatureScorer) PredictProba(X [][]float64) ([][2]float64, error) {
	out := make([][2]float64, len(X))
	for i, x := range X {
		p := 1 / (1 + math.Exp(-x[0]))
		out[i] = [2]float64{1 - p, p}
	}
	return out, nil
}

func TestPermutationImportance(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	X := make([][]float64, 400)
	y := make([]int, 400)
	for i := range X {
		y[i] = i % 2
		X[i] = []float64{float64(2*y[i]-1) + rng.NormFloat64()*0.5, rng.NormFloat64()}
	}

	imp, err := PermutationImportance(context.Background(), firstFeatureScorer{}, X, y,
		[]string{"signal", "noise"}, ImportanceOptions{Repeats: 3, Seed: 1})
	require.NoError(t, err)
	require.Len(t, imp, 2)
	assert.Equal(t, "signal", imp[0].Feature)
	assert.Greater(t, imp[0].Importance, 0.3)
	assert.Equal(t, "noise", imp[1].Feature)
	assert.InDelta(t, 0, imp[1].Importance, 1e-12)
	assert.InDelta(t, 0, imp[1].Std, 1e-12)

	again, err := PermutationImportance(context.Background(), firstFeatureScorer{}, X, y,
		[]string{"signal", "noise"}, ImportanceOptions{Repeats: 3, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, imp, again, "seeded runs are reproducible")
}

func TestPermutationImportance_Errors(t *testing.T) {
	X := [][]float64{{1, 2}, {3, 4}}
	y := []int{0, 1}
	_, err := PermutationImportance(context.Background(), firstFeatureScorer{}, X, y, []string{"a", "b"}, ImportanceOptions{})
	assert.Error(t, err)
	_, err = PermutationImportance(context.Background(), firstFeatureScorer{}, X, y, []string{"a"}, ImportanceOptions{Repeats: 1})
	assert.Error(t, err)
	_, err = PermutationImportance(context.Background(), firstFeatureScorer{}, X, []int{0, 0}, []string{"a", "b"}, ImportanceOptions{Repeats: 1})
	assert.ErrorIs(t, err, ErrSingleClass)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = PermutationImportance(ctx, firstFeatureScorer{}, X, y, []string{"a", "b"}, ImportanceOptions{Repeats: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubsample(t *testing.T) {
	X := make([][]float64, 100)
	y := make([]int, 100)
	for i := range X {
		X[i] = []float64{float64(i)}
		if i%20 == 0 {
			y[i] = 1
		}
	}

	subX, subY := subsample(X, y, 10, 1)
	require.Len(t, subX, 10)
	counts := dataset.CountLabels(subY)
	assert.Equal(t, 5, counts[1], "all fraud rows fit in half the sample")
	assert.Equal(t, 5, counts[0])
	for i := 1; i < len(subX); i++ {
		assert.Less(t, subX[i-1][0], subX[i][0], "row order is preserved")
	}

	allX, allY := subsample(X, y, 0, 1)
	assert.Len(t, allX, 100)
	assert.Len(t, allY, 100)
}

// testArtifact fits a small unscaled ensemble on two separated clusters.
func testArtifact(t *testing.T) (*ml.Artifact, *dataset.Frame) {
	t.Helper()
	rng := rand.New(rand.NewSource(5))
	features := []string{"V1", "V2"}
	build := func(n int) *dataset.Frame {
		X := make([][]float64, n)
		y := make([]int, n)
		for i := range X {
			y[i] = i % 2
			c := float64(4*y[i] - 2)
			X[i] = []float64{c + rng.NormFloat64()*0.5, c + rng.NormFloat64()*0.5}
		}
		return dataset.FromXY(features, common.ColClass, X, y)
	}
	train := build(80)
	X, y, _, err := train.XY(common.ColClass)
	require.NoError(t, err)

	model := ml.NewVotingClassifier(cfg.Defaults().Model, 1)
	require.NoError(t, model.Fit(context.Background(), X, y))
	a := &ml.Artifact{
		Kind:     common.ArtifactKind,
		Version:  "v-test",
		Features: features,
		Target:   common.ColClass,
		Model:    model,
	}
	return a, build(60)
}

func TestEvaluate(t *testing.T) {
	a, test := testArtifact(t)

	ev, err := Evaluate(context.Background(), a, test, Options{
		Baseline:   test.Clone(),
		Importance: ImportanceOptions{Repeats: 2, Seed: 1},
		TestFile:   "test.csv",
	})
	require.NoError(t, err)
	assert.Equal(t, "v-test", ev.ModelVersion)
	assert.Equal(t, 60, ev.Scores.Support)
	assert.GreaterOrEqual(t, ev.Scores.Recall, 0.95)
	assert.GreaterOrEqual(t, ev.Scores.ROCAUC, 0.95)
	assert.Len(t, ev.Labels, 60)
	assert.Len(t, ev.Predicted, 60)
	assert.Len(t, ev.FraudProb, 60)

	require.NotNil(t, ev.Drift)
	assert.Equal(t, DriftNone, ev.Drift.Level)
	assert.Len(t, ev.Importance, 2)

	mm := ev.ModelMetrics(80)
	assert.Equal(t, 80, mm.TrainingSamples)
	assert.Equal(t, 60, mm.TestSamples)
	assert.Equal(t, ev.Scores.ROCAUC, mm.AUCScore)
}

func TestEvaluate_Errors(t *testing.T) {
	a, test := testArtifact(t)

	noTarget := dataset.New([]string{"V1", "V2"})
	noTarget.Rows = [][]float64{{1, 2}}
	_, err := Evaluate(context.Background(), a, noTarget, Options{})
	assert.ErrorIs(t, err, dataset.ErrColumnNotFound)

	_, err = Evaluate(context.Background(), nil, test, Options{})
	assert.ErrorIs(t, err, ml.ErrNotFitted)
}

type recordingSink struct {
	scores map[string]float64
	ks     map[string]float64
	level  int
}

func (s *recordingSink) SetEvaluation(metric string, v float64) { s.scores[metric] = v }
func (s *recordingSink) SetDrift(feature string, ks, psi float64) {
	s.ks[feature] = ks
}
func (s *recordingSink) SetDriftLevel(level int) { s.level = level }

func TestEvaluation_Publish(t *testing.T) {
	a, test := testArtifact(t)
	ev, err := Evaluate(context.Background(), a, test, Options{Baseline: test})
	require.NoError(t, err)

	sink := &recordingSink{scores: map[string]float64{}, ks: map[string]float64{}, level: -1}
	ev.Publish(sink)
	assert.Equal(t, ev.Scores.Recall, sink.scores["recall"])
	assert.Len(t, sink.ks, 2)
	assert.Equal(t, 0, sink.level)

	ev.Publish(nil)
}

func TestReporter_GenerateReport(t *testing.T) {
	a, test := testArtifact(t)
	ev, err := Evaluate(context.Background(), a, test, Options{
		Baseline:   test,
		Importance: ImportanceOptions{Repeats: 1, Seed: 1},
	})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "reports")
	require.NoError(t, NewReporter(ev, dir).GenerateReport())

	summary, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "EVALUATION SUMMARY")
	assert.Contains(t, string(summary), "Model Version: v-test")
	assert.Contains(t, string(summary), "ROC-AUC:")
	assert.Contains(t, string(summary), "PERMUTATION IMPORTANCE")

	raw, err := os.ReadFile(filepath.Join(dir, JSONFile))
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "v-test", decoded["model_version"])
	assert.Contains(t, decoded, "scores")
	assert.Contains(t, decoded, "drift")
	assert.NotContains(t, decoded, "Labels")

	f, err := os.Open(filepath.Join(dir, PredictionsFile))
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 61)
	assert.Equal(t, []string{"row", "label", "predicted", "fraud_probability"}, records[0])
	assert.True(t, strings.HasPrefix(records[1][0], "0"))
}
