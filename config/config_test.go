package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty prefix", func(c *Config) { c.Queues.Prefix = "" }},
		{"zero lock duration", func(c *Config) { c.Queues.LockDuration = 0 }},
		{"zero max deliver", func(c *Config) { c.Queues.MaxDeliver = 0 }},
		{"zero batch size", func(c *Config) { c.Pipeline.WriteBatchSize = 0 }},
		{"empty bucket", func(c *Config) { c.Pipeline.ArtifactBucket = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMergeOverlaysNonZeroValues(t *testing.T) {
	base := DefaultConfig()
	base.Merge(&Config{
		NATS:     NATSConfig{URL: "nats://prod:4222"},
		Queues:   QueueConfig{LockDuration: 10 * time.Minute},
		LogLevel: "debug",
	})

	assert.Equal(t, "nats://prod:4222", base.NATS.URL)
	assert.Equal(t, 10*time.Minute, base.Queues.LockDuration)
	assert.Equal(t, "debug", base.LogLevel)
	// Untouched values keep defaults.
	assert.Equal(t, "DOCWRITER", base.Queues.Prefix)
	assert.Equal(t, 10, base.Queues.MaxDeliver)
}

func TestLoaderLayering(t *testing.T) {
	dir := t.TempDir()

	userPath := filepath.Join(dir, "user.yaml")
	require.NoError(t, os.WriteFile(userPath, []byte("log_level: debug\nnats:\n  url: nats://user:4222\n"), 0o644))

	projectPath := filepath.Join(dir, "project.yaml")
	require.NoError(t, os.WriteFile(projectPath, []byte("nats:\n  url: nats://project:4222\n"), 0o644))

	loader := &Loader{UserPath: userPath, ProjectPath: projectPath, SkipEnv: true}
	cfg, err := loader.Load()
	require.NoError(t, err)

	// Project layer wins over user layer; user layer wins over defaults.
	assert.Equal(t, "nats://project:4222", cfg.NATS.URL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoaderMissingFilesAreFine(t *testing.T) {
	dir := t.TempDir()
	loader := &Loader{
		UserPath:    filepath.Join(dir, "absent.yaml"),
		ProjectPath: filepath.Join(dir, "also-absent.yaml"),
		SkipEnv:     true,
	}
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Queues.Prefix, cfg.Queues.Prefix)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DOCWRITER_NATS_URL", "nats://env:4222")
	t.Setenv("DOCWRITER_LOCK_DURATION", "2m")
	t.Setenv("DOCWRITER_WRITE_BATCH_SIZE", "4")
	t.Setenv("DOCWRITER_LOG_LEVEL", "warn")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, 2*time.Minute, cfg.Queues.LockDuration)
	assert.Equal(t, 4, cfg.Pipeline.WriteBatchSize)
	assert.Equal(t, "warn", cfg.LogLevel)
}
