package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "manim", cfg.Sandbox.ManimBinary)
	assert.Equal(t, 5, cfg.Refiner.MaxAttempts)
	assert.True(t, cfg.Refiner.EnableSpatial)
	assert.Contains(t, cfg.Linter.Rules, "F821")
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default().Refiner, cfg.Refiner)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".scenefix"), 0o755))
	yaml := `
refiner:
  max_attempts: 9
sandbox:
  manim_binary: /opt/manim/bin/manim
frame:
  half_width: 8.0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".scenefix", "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Refiner.MaxAttempts)
	assert.Equal(t, "/opt/manim/bin/manim", cfg.Sandbox.ManimBinary)
	assert.Equal(t, 8.0, cfg.Frame.HalfWidth)
	// Untouched fields keep defaults.
	assert.Equal(t, "ruff", cfg.Linter.Binary)
}

func TestLoadBadYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".scenefix"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".scenefix", "config.yaml"), []byte("{nope"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCENEFIX_API_KEY", "key-a")
	t.Setenv("GEMINI_API_KEY", "key-b")
	t.Setenv("SCENEFIX_TEXT_MODEL", "gemini-test")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "key-a", cfg.Model.APIKey, "SCENEFIX_API_KEY wins over GEMINI_API_KEY")
	assert.Equal(t, "gemini-test", cfg.Model.TextModel)
}

func TestGeminiKeyFallback(t *testing.T) {
	t.Setenv("SCENEFIX_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "key-b")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "key-b", cfg.Model.APIKey)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero attempts", func(c *Config) { c.Refiner.MaxAttempts = 0 }},
		{"zero concurrency", func(c *Config) { c.Sandbox.MaxConcurrentRuns = 0 }},
		{"bad frame", func(c *Config) { c.Frame.HalfWidth = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBackoffCaps(t *testing.T) {
	tm := DefaultTimeouts()
	assert.Equal(t, tm.RetryBackoffBase, tm.Backoff(0))
	assert.Equal(t, 2*tm.RetryBackoffBase, tm.Backoff(1))
	assert.LessOrEqual(t, tm.Backoff(20), tm.RetryBackoffMax)
	assert.Greater(t, tm.Backoff(20), time.Duration(0))
}
