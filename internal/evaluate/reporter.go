package evaluate

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"fraud-pipeline/internal/common"

	"github.com/rs/zerolog/log"
)

// Report file names under the reports directory.
const (
	SummaryFile     = "evaluation_summary.txt"
	JSONFile        = "evaluation.json"
	PredictionsFile = "predictions.csv"
)

// Reporter writes evaluation reports
type Reporter struct {
	eval       *Evaluation
	outputPath string
}

// NewReporter creates a new reporter
func NewReporter(eval *Evaluation, outputPath string) *Reporter {
	return &Reporter{
		eval:       eval,
		outputPath: outputPath,
	}
}

// GenerateReport writes every report format.
func (r *Reporter) GenerateReport() error {
	if err := r.generateSummary(); err != nil {
		return err
	}
	if err := r.generateJSONReport(); err != nil {
		return err
	}
	return r.generatePredictions()
}

// generateSummary writes a human-readable summary
func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, SummaryFile)
	err := common.WriteFileAtomic(summaryPath, func(w io.Writer) error {
		r.WriteSummary(w)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	log.Info().Str("file", summaryPath).Msg("Summary report generated")
	return nil
}

// WriteSummary renders the summary text.
func (r *Reporter) WriteSummary(w io.Writer) {
	e := r.eval
	s := e.Scores

	fmt.Fprintf(w, "EVALUATION SUMMARY\n")
	fmt.Fprintf(w, "==================\n\n")
	fmt.Fprintf(w, "Model Version: %s\n", e.ModelVersion)
	if e.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", e.RunID)
	}
	if e.TestFile != "" {
		fmt.Fprintf(w, "Test File: %s\n", e.TestFile)
	}
	fmt.Fprintf(w, "Generated: %s\n\n", e.GeneratedAt.Format("2006-01-02 15:04:05"))

	fmt.Fprintf(w, "CONFUSION MATRIX (fraud positive)\n")
	fmt.Fprintf(w, "---------------------------------\n")
	fmt.Fprintf(w, "              pred legit  pred fraud\n")
	fmt.Fprintf(w, "actual legit  %10d  %10d\n", s.Confusion.TN, s.Confusion.FP)
	fmt.Fprintf(w, "actual fraud  %10d  %10d\n\n", s.Confusion.FN, s.Confusion.TP)

	fmt.Fprintf(w, "SCORES\n")
	fmt.Fprintf(w, "------\n")
	fmt.Fprintf(w, "Rows: %d\n", s.Support)
	fmt.Fprintf(w, "Accuracy: %.4f\n", s.Accuracy)
	fmt.Fprintf(w, "Precision: %.4f\n", s.Precision)
	fmt.Fprintf(w, "Recall: %.4f\n", s.Recall)
	fmt.Fprintf(w, "Specificity: %.4f\n", s.Specificity)
	fmt.Fprintf(w, "F1: %.4f\n", s.F1)
	fmt.Fprintf(w, "ROC-AUC: %.4f\n", s.ROCAUC)

	if e.Drift != nil {
		fmt.Fprintf(w, "\nTRAIN/TEST DRIFT\n")
		fmt.Fprintf(w, "----------------\n")
		fmt.Fprintf(w, "Overall: %s\n", e.Drift.Level)
		for _, f := range e.Drift.Drifted(DriftLow) {
			fmt.Fprintf(w, "%s: %s (KS %.4f, PSI %.4f, mean %.4f -> %.4f)\n",
				f.Feature, f.Level, f.KS, f.PSI, f.BaselineMean, f.CurrentMean)
		}
	}

	if len(e.Importance) > 0 {
		fmt.Fprintf(w, "\nPERMUTATION IMPORTANCE (ROC-AUC drop)\n")
		fmt.Fprintf(w, "-------------------------------------\n")
		for _, f := range e.Importance {
			fmt.Fprintf(w, "%s: %.4f ± %.4f\n", f.Feature, f.Importance, f.Std)
		}
	}
}

// generateJSONReport writes the full evaluation as JSON
func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, JSONFile)
	err := common.WriteFileAtomic(jsonPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r.eval)
	})
	if err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}
	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}

// generatePredictions writes one line per test row
func (r *Reporter) generatePredictions() error {
	csvPath := filepath.Join(r.outputPath, PredictionsFile)
	err := common.WriteFileAtomic(csvPath, func(w io.Writer) error {
		writer := csv.NewWriter(w)
		if err := writer.Write([]string{"row", "label", "predicted", "fraud_probability"}); err != nil {
			return err
		}
		for i := range r.eval.Labels {
			record := []string{
				strconv.Itoa(i),
				strconv.Itoa(r.eval.Labels[i]),
				strconv.Itoa(r.eval.Predicted[i]),
				strconv.FormatFloat(r.eval.FraudProb[i], 'g', -1, 64),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
		writer.Flush()
		return writer.Error()
	})
	if err != nil {
		return fmt.Errorf("failed to write predictions: %w", err)
	}
	log.Info().Str("file", csvPath).Msg("Prediction log generated")
	return nil
}
