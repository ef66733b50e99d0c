package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"fraud-pipeline/internal/common"

	"github.com/rs/zerolog/log"
)

// ReadCSV loads a headered numeric CSV file.
func ReadCSV(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	fr, err := Read(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Debug().
		Str("path", path).
		Int("rows", fr.Len()).
		Int("columns", len(fr.Columns)).
		Msg("CSV loaded")
	return fr, nil
}

// Read parses a headered numeric CSV stream. Every cell must parse as a float.
func Read(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty CSV: missing header")
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, col := range header {
		col = strings.TrimSpace(col)
		if col == "" {
			return nil, fmt.Errorf("empty column name at position %d", i)
		}
		if seen[col] {
			return nil, fmt.Errorf("duplicate column %q", col)
		}
		seen[col] = true
		columns[i] = col
	}

	fr := New(columns)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		row := make([]float64, len(record))
		for i, cell := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: invalid number %q", line, columns[i], cell)
			}
			row[i] = v
		}
		fr.Rows = append(fr.Rows, row)
	}
	return fr, nil
}

// WriteCSV atomically writes the frame with a header row.
func WriteCSV(path string, fr *Frame) error {
	return WriteCSVs(CSVFile{Path: path, Frame: fr})
}

// CSVFile pairs a destination with the frame written there.
type CSVFile struct {
	Path  string
	Frame *Frame
}

// WriteCSVs writes a set of frames that only make sense together: either all
// of them replace their destinations or none does.
func WriteCSVs(files ...CSVFile) error {
	writes := make([]common.FileWrite, len(files))
	for i, f := range files {
		fr := f.Frame
		writes[i] = common.FileWrite{Path: f.Path, Write: func(w io.Writer) error {
			return Write(w, fr)
		}}
	}
	if err := common.WriteFilesAtomic(writes...); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}

	for _, f := range files {
		log.Debug().
			Str("path", f.Path).
			Int("rows", f.Frame.Len()).
			Msg("CSV written")
	}
	return nil
}

// Write encodes the frame as CSV using shortest round-trip float formatting.
func Write(w io.Writer, fr *Frame) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(fr.Columns); err != nil {
		return err
	}
	record := make([]string, len(fr.Columns))
	for _, row := range fr.Rows {
		for i, v := range row {
			record[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
