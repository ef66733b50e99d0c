package main

import (
	"path/filepath"
	"testing"

	"fraud-pipeline/internal/cfg"
	"fraud-pipeline/internal/ml"
	"fraud-pipeline/internal/pipeline"
	"fraud-pipeline/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppCommands(t *testing.T) {
	app := newApp()
	var names []string
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{
		"fetch", "generate", "split", "clean", "scale", "resample",
		"fit", "evaluate", "run", "predict", "serve", "models", "runs", "inspect",
	}, names)
}

func TestResolveModel(t *testing.T) {
	settings := cfg.Defaults()
	settings.DataRoot = t.TempDir()
	layout := pipeline.NewLayout(&settings)

	path, err := resolveModel("/explicit.zst", nil, layout)
	require.NoError(t, err)
	assert.Equal(t, "/explicit.zst", path)

	path, err = resolveModel("", nil, layout)
	require.NoError(t, err)
	assert.Equal(t, layout.ModelPath(), path)

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	mm := ml.NewModelManager(store)

	path, err = resolveModel("", mm, layout)
	require.NoError(t, err)
	assert.Equal(t, layout.ModelPath(), path)

	versionPath := filepath.Join(settings.DataRoot, "v1.zst")
	_, err = mm.AddVersion("20260101-000000-aaaaaaaa", versionPath, "run", storage.ModelMetrics{})
	require.NoError(t, err)
	require.NoError(t, mm.ActivateVersion("20260101-000000-aaaaaaaa"))

	path, err = resolveModel("", mm, layout)
	require.NoError(t, err)
	assert.Equal(t, versionPath, path)
}
