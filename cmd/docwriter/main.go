// Package main provides the docwriter binary: the pipeline service plus
// a small operator CLI for admitting jobs and inspecting their progress.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/c360studio/docwriter/llm/providers"

	"github.com/c360studio/docwriter/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "docwriter"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "docwriter",
		Short: "Long-form document generation pipeline",
		Long: `Docwriter turns a topic and a short intake interview into a
long-form technical document: planned, written section by section,
reviewed, verified, illustrated, and assembled.

All coordination runs over NATS JetStream: stage queues, the artifact
store, and job status. One process runs every stage worker; more
processes scale horizontally.`,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(&configPath, &logLevel))
	cmd.AddCommand(admitCmd(&configPath))
	cmd.AddCommand(answersCmd(&configPath))
	cmd.AddCommand(statusCmd(&configPath))
	cmd.AddCommand(timelineCmd(&configPath))
	cmd.AddCommand(listCmd(&configPath))
	cmd.AddCommand(fetchCmd(&configPath))
	cmd.AddCommand(resumeCmd(&configPath))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// loadConfig layers defaults, config files, and environment.
func loadConfig(configPath, logLevel string) (*config.Config, error) {
	loader := &config.Loader{ProjectPath: configPath}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
