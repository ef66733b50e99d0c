package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fraud-pipeline/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// maxRequestBytes caps a /predict body.
const maxRequestBytes = 8 << 20

// ModelServer provides HTTP API for model predictions
type ModelServer struct {
	predictor *Predictor
	manager   *ModelManager
	server    *http.Server
}

// PredictionRequest carries transactions either as named fields or as raw
// vectors in the model's feature order.
type PredictionRequest struct {
	Transactions []map[string]float64 `json:"transactions,omitempty"`
	Features     [][]float64          `json:"features,omitempty"`
	RequestID    string               `json:"request_id,omitempty"`
}

// PredictionResponse represents the prediction result
type PredictionResponse struct {
	Predictions  []Prediction `json:"predictions"`
	Threshold    float64      `json:"threshold"`
	RequestID    string       `json:"request_id,omitempty"`
	ModelVersion string       `json:"model_version"`
	Latency      float64      `json:"latency_ms"`
	Timestamp    time.Time    `json:"timestamp"`
}

// NewModelServer creates a new HTTP server for model serving. manager may be
// nil, which disables /model/activate. gatherer backs /metrics.
func NewModelServer(predictor *Predictor, manager *ModelManager, port int, gatherer prometheus.Gatherer) *ModelServer {
	ms := &ModelServer{
		predictor: predictor,
		manager:   manager,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/predict", ms.handlePredict)
	mux.HandleFunc("/health", ms.handleHealth)
	mux.HandleFunc("/model/info", ms.handleModelInfo)
	mux.HandleFunc("/model/activate", ms.handleActivate)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	ms.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return ms
}

// Handler exposes the router, mainly for tests.
func (ms *ModelServer) Handler() http.Handler {
	return ms.server.Handler
}

// Start begins serving HTTP requests
func (ms *ModelServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Msg("starting model server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (ms *ModelServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

func (ms *ModelServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()

	var req PredictionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	a := ms.predictor.Artifact()
	if a == nil {
		http.Error(w, "no model loaded", http.StatusServiceUnavailable)
		return
	}

	rows, err := requestRows(req, a.Features)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	preds, err := ms.predictor.PredictBatch(rows)
	if err != nil {
		log.Error().Err(err).Msg("prediction failed")
		http.Error(w, fmt.Sprintf("prediction failed: %v", err), http.StatusBadRequest)
		return
	}

	resp := PredictionResponse{
		Predictions:  preds,
		Threshold:    ms.predictor.Threshold(),
		RequestID:    req.RequestID,
		ModelVersion: a.Version,
		Latency:      float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:    time.Now(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// requestRows turns a request into raw rows in feature order.
func requestRows(req PredictionRequest, features []string) ([][]float64, error) {
	if len(req.Transactions) == 0 && len(req.Features) == 0 {
		return nil, errors.New("request must contain transactions or features")
	}
	if len(req.Transactions) > 0 && len(req.Features) > 0 {
		return nil, errors.New("request must not mix transactions and features")
	}
	if len(req.Features) > 0 {
		for i, x := range req.Features {
			if len(x) != len(features) {
				return nil, fmt.Errorf("features[%d] has %d values, expected %d", i, len(x), len(features))
			}
		}
		return req.Features, nil
	}

	rows := make([][]float64, len(req.Transactions))
	for i, tx := range req.Transactions {
		row := make([]float64, len(features))
		for j, f := range features {
			v, ok := tx[f]
			if !ok {
				return nil, fmt.Errorf("transactions[%d] is missing field %s", i, f)
			}
			row[j] = v
		}
		rows[i] = row
	}
	return rows, nil
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	a := ms.predictor.Artifact()
	if a == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"healthy": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy":       true,
		"model_version": a.Version,
	})
}

func (ms *ModelServer) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	a := ms.predictor.Artifact()
	if a == nil {
		http.Error(w, "no model loaded", http.StatusServiceUnavailable)
		return
	}
	info := map[string]interface{}{
		"version":      a.Version,
		"run_id":       a.RunID,
		"created_at":   a.CreatedAt,
		"features":     a.Features,
		"target":       a.Target,
		"voting":       a.Model.Voting,
		"train_rows":   a.TrainRows,
		"class_counts": a.ClassCounts,
		"scaled":       a.Scaler != nil,
	}
	writeJSON(w, http.StatusOK, info)
}

// handleActivate switches the active model version and reloads it.
func (ms *ModelServer) handleActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ms.manager == nil {
		http.Error(w, "model registry not configured", http.StatusNotImplemented)
		return
	}
	version := r.URL.Query().Get("version")
	if version == "" {
		http.Error(w, "version is required", http.StatusBadRequest)
		return
	}

	if err := ms.activate(version); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active": version})
}

func (ms *ModelServer) activate(version string) error {
	versions, err := ms.manager.ListVersions()
	if err != nil {
		return err
	}
	for _, v := range versions {
		if v.Version != version {
			continue
		}
		if err := ms.predictor.Reload(v.Path); err != nil {
			return err
		}
		return ms.manager.ActivateVersion(version)
	}
	return fmt.Errorf("model version %s: %w", version, storage.ErrNotFound)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
