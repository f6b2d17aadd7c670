package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, int64(100<<20), cfg.Ingest.MaxUploadBytes)
	assert.Equal(t, 100, cfg.Ingest.MinMeaningfulChars)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, "local", cfg.Ingest.Dispatch)
	assert.Equal(t, 30*time.Second, cfg.Stream.HeartbeatInterval)
	assert.Equal(t, time.Duration(0), cfg.Ingest.JobTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte("ingest:\n  chunk_size: 500\n  chunk_overlap: 50\nstream:\n  heartbeat_interval: 15s\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o600))
	t.Setenv("STUDYFORGE_INGEST_DISPATCH", "kafka")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Ingest.ChunkSize)
	assert.Equal(t, 50, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 15*time.Second, cfg.Stream.HeartbeatInterval)
	assert.Equal(t, "kafka", cfg.Ingest.Dispatch)
	assert.Equal(t, 20, cfg.Ingest.MinAlnumPerPage)
}

func TestValidateRejectsOverlapLargerThanChunk(t *testing.T) {
	cfg := Default()
	cfg.Ingest.ChunkOverlap = cfg.Ingest.ChunkSize

	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
