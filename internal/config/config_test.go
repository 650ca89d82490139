package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join(cfg.DataDir, "events.db"), cfg.Store.Path)
}

func TestValidate_BackendRequirements(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Type = "postgres"
	assert.Error(t, cfg.Validate(), "postgres without a DSN")

	cfg.Store.DSN = "postgres://localhost/larder"
	assert.NoError(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Store.Type = "s3"
	assert.Error(t, cfg.Validate(), "s3 without a bucket")

	cfg.Store.S3.Bucket = "larder-events"
	assert.NoError(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Store.Type = "dynamo"
	assert.Error(t, cfg.Validate())
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/larder
server:
  addr: ":9090"
store:
  type: s3
  s3:
    bucket: larder-events
    region: eu-west-1
log:
  level: debug
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/larder", cfg.DataDir)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "s3", cfg.Store.Type)
	assert.Equal(t, "eu-west-1", cfg.Store.S3.Region)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unspecified fields keep their defaults.
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("LARDER_SERVER_ADDR", ":7070")
	t.Setenv("LARDER_STORE_TYPE", "postgres")
	t.Setenv("LARDER_STORE_DSN", "postgres://db/larder")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Store.Type)
	assert.Equal(t, "postgres://db/larder", cfg.Store.DSN)
	require.NoError(t, cfg.Validate())
}
