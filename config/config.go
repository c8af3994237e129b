// Package config provides layered configuration for the docwriter service.
// Values resolve in order: defaults, user config file, project config file,
// then environment variables. Later layers win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration.
type Config struct {
	NATS     NATSConfig     `yaml:"nats"`
	Queues   QueueConfig    `yaml:"queues"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Models   ModelsConfig   `yaml:"models"`
	Diagrams DiagramConfig  `yaml:"diagrams"`
	Flags    FlagsConfig    `yaml:"flags"`
	LogLevel string         `yaml:"log_level"`
	HTTPAddr string         `yaml:"http_addr"` // metrics/health listener
}

// NATSConfig configures the connection to the coordination substrate.
type NATSConfig struct {
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"` // run an in-process server
	StoreDir string `yaml:"store_dir,omitempty"`
}

// QueueConfig configures stage queue behavior.
type QueueConfig struct {
	Prefix       string        `yaml:"prefix"`
	LockDuration time.Duration `yaml:"lock_duration"`
	MaxDeliver   int           `yaml:"max_deliver"`
}

// PipelineConfig holds stage-level knobs.
type PipelineConfig struct {
	WriteBatchSize      int    `yaml:"write_batch_size"`
	DefaultLengthPages  int    `yaml:"default_length_pages"`
	DefaultReviewCycles int    `yaml:"default_review_cycles"`
	MaxTransientRetries int    `yaml:"max_transient_retries"`
	StreamDrafts        bool   `yaml:"stream_drafts"`
	ArtifactBucket      string `yaml:"artifact_bucket"`
	PandocPath          string `yaml:"pandoc_path,omitempty"` // empty disables PDF/DOCX export
}

// ModelsConfig points at the model registry definition.
type ModelsConfig struct {
	Path string `yaml:"path"`
}

// DiagramConfig configures PlantUML rendering.
type DiagramConfig struct {
	ServerURL string        `yaml:"server_url"`
	Timeout   time.Duration `yaml:"timeout"`
	SVG       bool          `yaml:"svg"`
}

// FlagsConfig points at the feature flags file.
type FlagsConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Queues: QueueConfig{
			Prefix:       "DOCWRITER",
			LockDuration: 5 * time.Minute,
			MaxDeliver:   10,
		},
		Pipeline: PipelineConfig{
			WriteBatchSize:      1,
			DefaultLengthPages:  80,
			DefaultReviewCycles: 2,
			MaxTransientRetries: 3,
			ArtifactBucket:      "docwriter-artifacts",
		},
		Models: ModelsConfig{
			Path: "models.yaml",
		},
		Diagrams: DiagramConfig{
			ServerURL: "http://localhost:8080",
			Timeout:   60 * time.Second,
		},
		Flags: FlagsConfig{
			Path: "flags.yaml",
		},
		LogLevel: "info",
		HTTPAddr: ":9090",
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.NATS.URL == "" && !c.NATS.Embedded {
		return fmt.Errorf("nats.url is required unless nats.embedded is set")
	}
	if c.Queues.Prefix == "" {
		return fmt.Errorf("queues.prefix is required")
	}
	if c.Queues.LockDuration <= 0 {
		return fmt.Errorf("queues.lock_duration must be positive")
	}
	if c.Queues.MaxDeliver < 1 {
		return fmt.Errorf("queues.max_deliver must be at least 1")
	}
	if c.Pipeline.WriteBatchSize < 1 {
		return fmt.Errorf("pipeline.write_batch_size must be at least 1")
	}
	if c.Pipeline.ArtifactBucket == "" {
		return fmt.Errorf("pipeline.artifact_bucket is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	return nil
}

// Merge overlays non-zero values from other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Embedded {
		c.NATS.Embedded = true
	}
	if other.NATS.StoreDir != "" {
		c.NATS.StoreDir = other.NATS.StoreDir
	}
	if other.Queues.Prefix != "" {
		c.Queues.Prefix = other.Queues.Prefix
	}
	if other.Queues.LockDuration > 0 {
		c.Queues.LockDuration = other.Queues.LockDuration
	}
	if other.Queues.MaxDeliver > 0 {
		c.Queues.MaxDeliver = other.Queues.MaxDeliver
	}
	if other.Pipeline.WriteBatchSize > 0 {
		c.Pipeline.WriteBatchSize = other.Pipeline.WriteBatchSize
	}
	if other.Pipeline.DefaultLengthPages > 0 {
		c.Pipeline.DefaultLengthPages = other.Pipeline.DefaultLengthPages
	}
	if other.Pipeline.DefaultReviewCycles > 0 {
		c.Pipeline.DefaultReviewCycles = other.Pipeline.DefaultReviewCycles
	}
	if other.Pipeline.MaxTransientRetries > 0 {
		c.Pipeline.MaxTransientRetries = other.Pipeline.MaxTransientRetries
	}
	if other.Pipeline.StreamDrafts {
		c.Pipeline.StreamDrafts = true
	}
	if other.Pipeline.ArtifactBucket != "" {
		c.Pipeline.ArtifactBucket = other.Pipeline.ArtifactBucket
	}
	if other.Pipeline.PandocPath != "" {
		c.Pipeline.PandocPath = other.Pipeline.PandocPath
	}
	if other.Models.Path != "" {
		c.Models.Path = other.Models.Path
	}
	if other.Diagrams.ServerURL != "" {
		c.Diagrams.ServerURL = other.Diagrams.ServerURL
	}
	if other.Diagrams.Timeout > 0 {
		c.Diagrams.Timeout = other.Diagrams.Timeout
	}
	if other.Diagrams.SVG {
		c.Diagrams.SVG = true
	}
	if other.Flags.Path != "" {
		c.Flags.Path = other.Flags.Path
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.HTTPAddr != "" {
		c.HTTPAddr = other.HTTPAddr
	}
}

// ApplyEnv overlays recognized environment variables onto c.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DOCWRITER_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("DOCWRITER_NATS_EMBEDDED"); v != "" {
		c.NATS.Embedded = parseBool(v)
	}
	if v := os.Getenv("DOCWRITER_QUEUE_PREFIX"); v != "" {
		c.Queues.Prefix = v
	}
	if v := os.Getenv("DOCWRITER_LOCK_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Queues.LockDuration = d
		}
	}
	if v := os.Getenv("DOCWRITER_MAX_DELIVER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queues.MaxDeliver = n
		}
	}
	if v := os.Getenv("DOCWRITER_WRITE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.WriteBatchSize = n
		}
	}
	if v := os.Getenv("DOCWRITER_DEFAULT_LENGTH_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.DefaultLengthPages = n
		}
	}
	if v := os.Getenv("DOCWRITER_REVIEW_CYCLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.DefaultReviewCycles = n
		}
	}
	if v := os.Getenv("DOCWRITER_STREAM"); v != "" {
		c.Pipeline.StreamDrafts = parseBool(v)
	}
	if v := os.Getenv("DOCWRITER_ARTIFACT_BUCKET"); v != "" {
		c.Pipeline.ArtifactBucket = v
	}
	if v := os.Getenv("DOCWRITER_PANDOC_PATH"); v != "" {
		c.Pipeline.PandocPath = v
	}
	if v := os.Getenv("DOCWRITER_MODELS_PATH"); v != "" {
		c.Models.Path = v
	}
	if v := os.Getenv("PLANTUML_SERVER_URL"); v != "" {
		c.Diagrams.ServerURL = v
	}
	if v := os.Getenv("DOCWRITER_FLAGS_PATH"); v != "" {
		c.Flags.Path = v
	}
	if v := os.Getenv("DOCWRITER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("DOCWRITER_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
