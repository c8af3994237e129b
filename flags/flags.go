// Package flags provides feature flags for the optional review flavors,
// loaded from a YAML file and reloaded live on file changes.
package flags

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Flags gates the optional review flavors. The general review always
// runs and has no flag.
type Flags struct {
	ReviewStyle    bool `yaml:"review_style_enabled"`
	ReviewCohesion bool `yaml:"review_cohesion_enabled"`
	ReviewSummary  bool `yaml:"review_summary_enabled"`
}

// Store serves the current flags and watches the backing file for
// changes. Environment variables override the file on every load.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current Flags

	watcher *fsnotify.Watcher
}

// NewStore loads the flags file and returns a store. A missing file is
// not an error; defaults (all flavors off) apply until the file appears.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger.With("component", "flags")}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the flags as of the last successful load.
func (s *Store) Current() Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) reload() error {
	var f Flags
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("parse flags file %s: %w", s.path, err)
		}
	case os.IsNotExist(err):
		// defaults
	default:
		return fmt.Errorf("read flags file %s: %w", s.path, err)
	}

	applyEnv(&f)

	s.mu.Lock()
	s.current = f
	s.mu.Unlock()
	return nil
}

func applyEnv(f *Flags) {
	if v, ok := envBool("DOCWRITER_REVIEW_STYLE_ENABLED"); ok {
		f.ReviewStyle = v
	}
	if v, ok := envBool("DOCWRITER_REVIEW_COHESION_ENABLED"); ok {
		f.ReviewCohesion = v
	}
	if v, ok := envBool("DOCWRITER_REVIEW_SUMMARY_ENABLED"); ok {
		f.ReviewSummary = v
	}
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Watch reloads the flags whenever the backing file changes, until ctx is
// cancelled. The directory is watched rather than the file so editors
// that replace the file atomically still trigger a reload.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create flags watcher: %w", err)
	}
	s.watcher = watcher

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch flags dir %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := s.reload(); err != nil {
					s.logger.Warn("Flags reload failed, keeping previous values", "error", err)
					continue
				}
				s.logger.Info("Flags reloaded", "flags", s.Current())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Flags watcher error", "error", err)
			}
		}
	}()
	return nil
}
