package dataset

import (
	"bytes"
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFrame() *Frame {
	return &Frame{
		Columns: []string{"Time", "Class", "V1", "Amount"},
		Rows: [][]float64{
			{3, 0, 0.5, 10},
			{1, 1, -1.25, 2000},
			{2, 0, 0.125, 5},
			{1, 0, 9, 7},
		},
	}
}

func TestFrame_IndexAndColumn(t *testing.T) {
	fr := sampleFrame()

	idx, err := fr.Index("V1")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	_, err = fr.Index("missing")
	assert.ErrorIs(t, err, ErrColumnNotFound)

	col, err := fr.Column("Amount")
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 2000, 5, 7}, col)
}

func TestFrame_Labels(t *testing.T) {
	fr := sampleFrame()
	labels, err := fr.Labels("Class")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 0, 0}, labels)

	counts, err := fr.ClassCounts("Class")
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 3, 1: 1}, counts)

	fr.Rows[2][1] = 2
	_, err = fr.Labels("Class")
	assert.ErrorIs(t, err, ErrInvalidLabel)

	_, err = ToLabel(math.NaN())
	assert.ErrorIs(t, err, ErrInvalidLabel)
}

func TestFrame_XY(t *testing.T) {
	fr := sampleFrame()
	X, y, features, err := fr.XY("Class")
	require.NoError(t, err)
	assert.Equal(t, []string{"Time", "V1", "Amount"}, features)
	assert.Equal(t, []float64{1, -1.25, 2000}, X[1])
	assert.Equal(t, []int{0, 1, 0, 0}, y)

	back := FromXY(features, "Class", X, y)
	assert.Equal(t, []string{"Time", "V1", "Amount", "Class"}, back.Columns)
	assert.Equal(t, []float64{1, -1.25, 2000, 1}, back.Rows[1])
}

func TestFrame_SortByIsStable(t *testing.T) {
	fr := sampleFrame()
	require.NoError(t, fr.SortBy("Time"))

	times, _ := fr.Column("Time")
	assert.Equal(t, []float64{1, 1, 2, 3}, times)
	// equal keys keep input order
	assert.Equal(t, -1.25, fr.Rows[0][2])
	assert.Equal(t, 9.0, fr.Rows[1][2])

	assert.ErrorIs(t, fr.SortBy("nope"), ErrColumnNotFound)
}

func TestFrame_MoveToEnd(t *testing.T) {
	fr := sampleFrame()
	require.NoError(t, fr.MoveToEnd("Class"))
	assert.Equal(t, []string{"Time", "V1", "Amount", "Class"}, fr.Columns)
	assert.Equal(t, []float64{1, -1.25, 2000, 1}, fr.Rows[1])

	// already last is a no-op
	require.NoError(t, fr.MoveToEnd("Class"))
	assert.Equal(t, []string{"Time", "V1", "Amount", "Class"}, fr.Columns)
}

func TestFrame_SubsetCopiesRows(t *testing.T) {
	fr := sampleFrame()
	sub := fr.Subset([]int{2, 0})
	require.Equal(t, 2, sub.Len())
	assert.Equal(t, 2.0, sub.Rows[0][0])

	sub.Rows[0][0] = 99
	assert.Equal(t, 2.0, fr.Rows[2][0])

	kept := fr.Filter(func(row []float64) bool { return row[3] < 100 })
	assert.Equal(t, 3, kept.Len())
}

func TestCSV_RoundTrip(t *testing.T) {
	fr := sampleFrame()
	fr.Rows[0][2] = 0.1 + 0.2 // not exactly representable in short decimal
	fr.Rows[1][3] = 1e-7

	path := filepath.Join(t.TempDir(), "out", "frame.csv")
	require.NoError(t, WriteCSV(path, fr))

	back, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, fr.Columns, back.Columns)
	assert.Equal(t, fr.Rows, back.Rows)
}

func TestWriteCSVs_AllOrNothing(t *testing.T) {
	dir := t.TempDir()
	train := filepath.Join(dir, "train.csv")
	require.NoError(t, os.WriteFile(train, []byte("old"), 0o644))

	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := WriteCSVs(
		CSVFile{Path: train, Frame: sampleFrame()},
		CSVFile{Path: filepath.Join(blocker, "test.csv"), Frame: sampleFrame()},
	)
	require.Error(t, err)

	data, err := os.ReadFile(train)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp files are cleaned up")

	test := filepath.Join(dir, "test.csv")
	require.NoError(t, WriteCSVs(
		CSVFile{Path: train, Frame: sampleFrame()},
		CSVFile{Path: test, Frame: sampleFrame()},
	))
	for _, path := range []string{train, test} {
		back, err := ReadCSV(path)
		require.NoError(t, err)
		assert.Equal(t, sampleFrame().Rows, back.Rows)
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"duplicate column", "a,a\n1,2\n"},
		{"non numeric", "a,b\n1,x\n"},
		{"ragged row", "a,b\n1,2,3\n"},
		{"blank column", "a,\n1,2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestRead_QuotedHeader(t *testing.T) {
	fr, err := Read(strings.NewReader("\"Time\",\"V1\",\"Class\"\n0,-1.3598071336738,\"0\"\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Time", "V1", "Class"}, fr.Columns)
	assert.Equal(t, 0.0, fr.Rows[0][2])
}

func TestWrite_Format(t *testing.T) {
	var buf bytes.Buffer
	fr := &Frame{Columns: []string{"a", "b"}, Rows: [][]float64{{172792, 0.5}}}
	require.NoError(t, Write(&buf, fr))
	assert.Equal(t, "a,b\n172792,0.5\n", buf.String())
}

func TestSynthesize(t *testing.T) {
	fr, err := Synthesize(SynthOptions{Rows: 500, Fraud: 25, Features: 4, Seed: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"Time", "V1", "V2", "V3", "V4", "Amount", "Class"}, fr.Columns)
	assert.Equal(t, 500, fr.Len())

	counts, err := fr.ClassCounts("Class")
	require.NoError(t, err)
	assert.Equal(t, 25, counts[1])
	assert.Equal(t, 475, counts[0])

	again, err := Synthesize(SynthOptions{Rows: 500, Fraud: 25, Features: 4, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, fr.Rows, again.Rows, "same seed must reproduce the table")

	_, err = Synthesize(SynthOptions{Rows: 10, Fraud: 11, Features: 2})
	assert.Error(t, err)
	_, err = Synthesize(SynthOptions{Rows: 10, Fraud: 1, Features: 0})
	assert.Error(t, err)
}

func TestDownloader_Download(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/creditcard.csv":
			_, _ = w.Write([]byte("Time,V1,Amount,Class\n0,1.5,10,0\n1,-2,20,1\n"))
		case "/garbage.csv":
			_, _ = w.Write([]byte("<html>oops</html>\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	d := NewDownloader(5 * time.Second)
	dir := t.TempDir()

	t.Run("success", func(t *testing.T) {
		dst := filepath.Join(dir, "raw", "creditcard.csv")
		fr, err := d.Download(context.Background(), server.URL+"/creditcard.csv", dst)
		require.NoError(t, err)
		assert.Equal(t, 2, fr.Len())
		_, err = os.Stat(dst)
		assert.NoError(t, err)
	})

	t.Run("http error", func(t *testing.T) {
		dst := filepath.Join(dir, "missing.csv")
		_, err := d.Download(context.Background(), server.URL+"/missing.csv", dst)
		require.Error(t, err)
		_, statErr := os.Stat(dst)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("invalid content", func(t *testing.T) {
		dst := filepath.Join(dir, "garbage.csv")
		_, err := d.Download(context.Background(), server.URL+"/garbage.csv", dst)
		require.Error(t, err)
		_, statErr := os.Stat(dst)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("empty url", func(t *testing.T) {
		_, err := d.Download(context.Background(), "", filepath.Join(dir, "x.csv"))
		assert.Error(t, err)
	})
}
