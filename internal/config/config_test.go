package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileJSONAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cforge.json")
	writeFile(t, path, `{"rename": {"prefix": "x_", "seed": 9}, "corpus": {"format": "sqlite", "output": "out.db"}}`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x_", cfg.Rename.Prefix)
	assert.Equal(t, uint64(9), cfg.Rename.Seed)
	assert.Equal(t, "sqlite", cfg.Corpus.Format)
	assert.Equal(t, DefaultTagStyle, cfg.Tag.Style)
	assert.Equal(t, DefaultCacheDir, cfg.Analysis.Cache.Dir)
	assert.True(t, cfg.CacheEnabled())
	assert.Equal(t, []string{"*.c", "**/*.c"}, cfg.Sources.Files)
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cforge.yaml")
	writeFile(t, path, `
sources:
  files: ["src/**/*.c"]
tag:
  style: both
analysis:
  maxParallelFiles: 2
  cache:
    enabled: false
logging:
  level: debug
  json: true
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/**/*.c"}, cfg.Sources.Files)
	assert.Equal(t, "both", cfg.Tag.Style)
	assert.Equal(t, 2, cfg.Analysis.MaxParallelFiles)
	assert.False(t, cfg.CacheEnabled())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
}

func TestLoadFileRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cforge.json")
	writeFile(t, path, `{"tag": {"style": "everything"}}`)
	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "tag.style")
}

func TestSaveRoundTripsThroughLoad(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"cforge.json", "cforge.yaml"} {
		path := filepath.Join(dir, name)
		cfg := DefaultConfig()
		cfg.Corpus.DeniedNames = []string{"main"}
		require.NoError(t, cfg.Save(path))

		loaded, err := LoadFile(path)
		require.NoError(t, err, name)
		assert.Equal(t, cfg, loaded, name)
	}
}

func TestLoadSearchesRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".cforge.json"), `{"corpus": {"minTokens": 3}}`)
	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Corpus.MinTokens)
}
