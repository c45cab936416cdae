package framework

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.String("log.level", "warn"))
}

func TestLoadOverridesOnlyNamedProperties(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("properties:\n  log.level: debug\n  retry.count: \"3\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.String("log.level", "info"))
	assert.Equal(t, "false", cfg.String("framework.uuid.persist", "true"))
	assert.Equal(t, 3, cfg.Int("retry.count", 0))
}

func TestTypedAccessorsFallBackOnParseFailure(t *testing.T) {
	cfg := Config{Properties: map[string]string{"n": "not-a-number", "b": "not-a-bool", "d": "not-a-duration"}}
	assert.Equal(t, 7, cfg.Int("n", 7))
	assert.True(t, cfg.Bool("b", true))
	assert.Equal(t, 5*time.Second, cfg.Duration("d", 5*time.Second))
}

func TestAsFrameworkPropertiesConverts(t *testing.T) {
	cfg := Config{Properties: map[string]string{"a": "1"}}
	props := cfg.AsFrameworkProperties()
	assert.Equal(t, "1", props["a"])
}
