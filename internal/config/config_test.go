package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "catalog", cfg.CatalogDir)
	assert.Equal(t, "klaxon.db", cfg.SQLitePath)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, 30, cfg.Preview.TimeoutSecs)
	assert.Equal(t, 25, cfg.Preview.SampleCap)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "klaxon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
catalog_dir: /etc/klaxon/catalog
redis:
  addr: redis.internal:6380
  db: 3
preview:
  sample_cap: 5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/etc/klaxon/catalog", cfg.CatalogDir)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 5, cfg.Preview.SampleCap)
	// Untouched keys keep their defaults.
	assert.Equal(t, 30, cfg.Preview.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "klaxon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  addr: from-file:6379\n"), 0o644))

	t.Setenv("KLAXON_REDIS__ADDR", "from-env:6379")
	t.Setenv("KLAXON_CATALOG_DIR", "/env/catalog")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env:6379", cfg.Redis.Addr)
	assert.Equal(t, "/env/catalog", cfg.CatalogDir)
}

func TestLoadExplicitFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "klaxon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
