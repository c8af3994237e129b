package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader resolves configuration from layered sources.
type Loader struct {
	// UserPath overrides the per-user config location. Empty uses
	// $HOME/.config/docwriter/config.yaml.
	UserPath string

	// ProjectPath overrides the project config location. Empty uses
	// ./docwriter.yaml.
	ProjectPath string

	// SkipEnv disables the environment layer, for tests.
	SkipEnv bool
}

// Load resolves the effective configuration: defaults, then user file,
// then project file, then environment. Missing files are not errors;
// unreadable or malformed files are.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	userPath := l.UserPath
	if userPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			userPath = filepath.Join(home, ".config", "docwriter", "config.yaml")
		}
	}
	if userPath != "" {
		layer, err := loadFile(userPath)
		if err != nil {
			return nil, fmt.Errorf("load user config %s: %w", userPath, err)
		}
		cfg.Merge(layer)
	}

	projectPath := l.ProjectPath
	if projectPath == "" {
		projectPath = "docwriter.yaml"
	}
	layer, err := loadFile(projectPath)
	if err != nil {
		return nil, fmt.Errorf("load project config %s: %w", projectPath, err)
	}
	cfg.Merge(layer)

	if !l.SkipEnv {
		cfg.ApplyEnv()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFile parses a YAML config file. A missing file returns (nil, nil).
func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &cfg, nil
}
