package ml

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"fraud-pipeline/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, p *Predictor, mm *ModelManager) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "fraud_test_total", Help: "test"}))
	srv := httptest.NewServer(NewModelServer(p, mm, 0, reg).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_PredictTransactions(t *testing.T) {
	srv := newTestServer(t, NewPredictorFromArtifact(testArtifact(t), 0.5, nil), nil)

	resp := postJSON(t, srv.URL+"/predict", PredictionRequest{
		RequestID: "req-1",
		Transactions: []map[string]float64{
			{"f1": 8, "f2": 8, "f3": 0},
			{"f1": 12, "f2": 12, "f3": 0, "ignored": 5},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out PredictionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "req-1", out.RequestID)
	assert.Equal(t, 0.5, out.Threshold)
	assert.Equal(t, "20260101-000000-abcdef01", out.ModelVersion)
	require.Len(t, out.Predictions, 2)
	assert.Equal(t, 0, out.Predictions[0].Label)
	assert.Equal(t, 1, out.Predictions[1].Label)
	assert.True(t, out.Predictions[1].Flagged)
}

func TestServer_PredictFeatures(t *testing.T) {
	srv := newTestServer(t, NewPredictorFromArtifact(testArtifact(t), 0.5, nil), nil)

	resp := postJSON(t, srv.URL+"/predict", PredictionRequest{Features: [][]float64{{12, 12, 0}}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out PredictionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Predictions, 1)
	assert.Equal(t, 1, out.Predictions[0].Label)
}

func TestServer_PredictBadRequests(t *testing.T) {
	srv := newTestServer(t, NewPredictorFromArtifact(testArtifact(t), 0.5, nil), nil)

	tests := []struct {
		name string
		body interface{}
	}{
		{"empty", PredictionRequest{}},
		{"mixed", PredictionRequest{Features: [][]float64{{1, 2, 3}}, Transactions: []map[string]float64{{"f1": 1}}}},
		{"short vector", PredictionRequest{Features: [][]float64{{1, 2}}}},
		{"missing field", PredictionRequest{Transactions: []map[string]float64{{"f1": 1, "f2": 2}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/predict", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp, err := http.Post(srv.URL+"/predict", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/predict")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_HealthInfoMetrics(t *testing.T) {
	srv := newTestServer(t, NewPredictorFromArtifact(testArtifact(t), 0.5, nil), nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/model/info")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var info map[string]interface{}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&info))
	assert.Equal(t, "hard", info["voting"])
	assert.Equal(t, true, info["scaled"])

	resp3, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)
}

func TestServer_NoModel(t *testing.T) {
	srv := newTestServer(t, NewPredictorFromArtifact(nil, 0.5, nil), nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	r := postJSON(t, srv.URL+"/predict", PredictionRequest{Features: [][]float64{{1, 2, 3}}})
	assert.Equal(t, http.StatusServiceUnavailable, r.StatusCode)

	r = postJSON(t, srv.URL+"/model/activate?version=x", nil)
	assert.Equal(t, http.StatusNotImplemented, r.StatusCode)
}

func TestServer_Activate(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.New(filepath.Join(dir, "db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	mm := NewModelManager(store)

	a := testArtifact(t)
	path1 := filepath.Join(dir, "v1.zst")
	require.NoError(t, SaveArtifact(path1, a))
	a.Version = "v2"
	path2 := filepath.Join(dir, "v2.zst")
	require.NoError(t, SaveArtifact(path2, a))

	_, err = mm.AddVersion("v1", path1, "", storage.ModelMetrics{})
	require.NoError(t, err)
	_, err = mm.AddVersion("v2", path2, "", storage.ModelMetrics{})
	require.NoError(t, err)
	require.NoError(t, mm.ActivateVersion("v1"))

	p, err := NewPredictor(path1, 0.5)
	require.NoError(t, err)
	srv := newTestServer(t, p, mm)

	r := postJSON(t, srv.URL+"/model/activate?version=v2", nil)
	assert.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, "v2", p.Artifact().Version)
	current, err := mm.GetCurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, "v2", current.Version)

	r = postJSON(t, srv.URL+"/model/activate?version=nope", nil)
	assert.Equal(t, http.StatusNotFound, r.StatusCode)

	r = postJSON(t, srv.URL+"/model/activate", nil)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}
