package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"MASTER_LIBRARY", "PROCESSED_DIR", "REDIS_ADDR", "QUEUE_EXTRACT",
		"LOCK_TTL_SECONDS", "EXTRACT_WORKERS", "CHUNK_WORKERS", "EMBED_WORKERS",
		"VECTOR_BACKEND", "DLQ_KAFKA_BROKERS",
	} {
		os.Unsetenv(k)
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "./library", cfg.LibraryDir)
	require.Equal(t, "extraction_jobs", cfg.QueueExtract)
	require.Equal(t, 1, cfg.ExtractWorkers)
	require.Equal(t, "memory", cfg.VectorBackend)
	require.Nil(t, cfg.DLQKafkaBrokers)
}

func TestLoadOverridesAndDLQBrokers(t *testing.T) {
	os.Setenv("EXTRACT_WORKERS", "3")
	os.Setenv("DLQ_KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	defer os.Unsetenv("EXTRACT_WORKERS")
	defer os.Unsetenv("DLQ_KAFKA_BROKERS")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 3, cfg.ExtractWorkers)
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.DLQKafkaBrokers)
}

func TestLoadRejectsZeroWorkerPool(t *testing.T) {
	os.Setenv("CHUNK_WORKERS", "0")
	defer os.Unsetenv("CHUNK_WORKERS")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_ConfigYAMLOverlayAppliesWhenEnvAbsent(t *testing.T) {
	for _, k := range []string{"MASTER_LIBRARY", "EMBED_WORKERS", "VECTOR_BACKEND"} {
		os.Unsetenv(k)
	}

	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(
		"masterLibrary: /srv/library\nembedWorkers: 4\nvectorBackend: qdrant\n",
	), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/srv/library", cfg.LibraryDir)
	require.Equal(t, 4, cfg.EmbedWorkers)
	require.Equal(t, "qdrant", cfg.VectorBackend)
}

func TestLoad_EnvVarOverridesConfigYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("masterLibrary: /srv/library\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	os.Setenv("MASTER_LIBRARY", "/env/library")
	defer os.Unsetenv("MASTER_LIBRARY")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/env/library", cfg.LibraryDir)
}
