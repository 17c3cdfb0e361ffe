package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/metamorph/pkg/config"
)

// writeConfig drops a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metamorph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validYAML = `
database:
  path: /data/metamorph.db
clustering:
  threshold: 0.5
subclustering:
  threshold: 0.9
embedding_types:
  - name: esm2
    description: ESM2 protein language model
    task_name: esm
    model_name: facebook/esm2_t33_650M_UR50D
    command: /opt/bin/esm2-embed
alignment_types:
  - name: CE-align
    task_name: cealign
    command: /opt/bin/cealign
  - name: FATCAT
    task_name: fatcat
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "/data/metamorph.db", cfg.Database.Path)
	assert.Equal(t, 0.5, cfg.Clustering.Threshold)
	assert.Equal(t, 0.9, cfg.Subclustering.Threshold)
	require.Len(t, cfg.AlignmentTypes, 2)
	assert.Equal(t, "cealign", cfg.AlignmentTypes[0].TaskName)

	require.Len(t, cfg.EmbeddingTypes, 1)
	assert.Equal(t, "esm", cfg.EmbeddingTypes[0].TaskName)
	assert.Equal(t, "facebook/esm2_t33_650M_UR50D", cfg.EmbeddingTypes[0].ModelName)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Clustering.KmerLength)
	assert.Equal(t, 4, cfg.Queue.Workers)
	require.NotNil(t, cfg.Queue.MaxRetries)
	assert.Equal(t, 3, *cfg.Queue.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Queue.TaskTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Queue.StaleTimeout)
	assert.Equal(t, 2*time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, "accession", cfg.Accession.Column)
}

func TestLoadExplicitZeroMaxRetries(t *testing.T) {
	body := `
database:
  path: /data/metamorph.db
queue:
  max_retries: 0
alignment_types:
  - name: CE-align
    task_name: cealign
`
	cfg, err := config.Load(writeConfig(t, body))
	require.NoError(t, err)
	require.NotNil(t, cfg.Queue.MaxRetries)
	assert.Zero(t, *cfg.Queue.MaxRetries, "an explicit zero budget must not fall back to the default")
}

func TestLoadRejectsNegativeMaxRetries(t *testing.T) {
	body := `
database:
  path: /data/metamorph.db
queue:
  max_retries: -1
alignment_types:
  - name: CE-align
    task_name: cealign
`
	_, err := config.Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.max_retries")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("METAMORPH_DB_PATH", "/tmp/override.db")
	t.Setenv("METAMORPH_LOG_LEVEL", "debug")

	cfg, err := config.Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingDatabasePath(t *testing.T) {
	body := `
alignment_types:
  - name: CE-align
    task_name: cealign
`
	_, err := config.Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestLoadMissingAlignmentTypes(t *testing.T) {
	body := `
database:
  path: /data/metamorph.db
`
	_, err := config.Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alignment type")
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	body := `
database:
  path: /data/metamorph.db
clustering:
  threshold: 1.5
alignment_types:
  - name: CE-align
    task_name: cealign
`
	_, err := config.Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clustering.threshold")
}

func TestLoadRejectsDuplicateTaskName(t *testing.T) {
	body := `
database:
  path: /data/metamorph.db
alignment_types:
  - name: CE-align
    task_name: cealign
  - name: CE-align-again
    task_name: cealign
`
	_, err := config.Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate task_name")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	_, err := config.Load(writeConfig(t, "database: [not: a: mapping"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestAlignerCommands(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	cmds := cfg.AlignerCommands()
	assert.Equal(t, map[string]string{"cealign": "/opt/bin/cealign"}, cmds)
}
