package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/c360studio/docwriter/broker"
	"github.com/c360studio/docwriter/config"
	"github.com/c360studio/docwriter/diagram"
	"github.com/c360studio/docwriter/export"
	"github.com/c360studio/docwriter/flags"
	"github.com/c360studio/docwriter/llm"
	"github.com/c360studio/docwriter/metrics"
	"github.com/c360studio/docwriter/model"
	"github.com/c360studio/docwriter/stages"
	"github.com/c360studio/docwriter/status"
	"github.com/c360studio/docwriter/store"
	"github.com/c360studio/docwriter/worker"
)

func serveCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline workers and status recorder",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *logLevel)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	logger := newLogger(cfg.LogLevel)
	ctx := context.Background()

	natsURL := cfg.NATS.URL
	if cfg.NATS.Embedded {
		srv, err := broker.StartEmbeddedServer(cfg.NATS.StoreDir)
		if err != nil {
			return err
		}
		defer srv.Shutdown()
		natsURL = srv.ClientURL()
		logger.Info("Embedded NATS server running", "url", natsURL)
	}

	nc, err := nats.Connect(natsURL,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	qb, err := broker.NewJetStreamBroker(ctx, js, cfg.Queues.Prefix,
		broker.WithLockDuration(cfg.Queues.LockDuration),
		broker.WithMaxDeliver(cfg.Queues.MaxDeliver),
		broker.WithDurable(status.QueueName, "status-writer"),
		broker.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create broker: %w", err)
	}

	objects, err := store.NewJetStreamObjectStore(ctx, js, cfg.Pipeline.ArtifactBucket)
	if err != nil {
		return fmt.Errorf("create object store: %w", err)
	}
	statusStore, err := store.NewJetStreamStatusStore(ctx, js)
	if err != nil {
		return fmt.Errorf("create status store: %w", err)
	}

	modelCfg, err := model.LoadConfig(cfg.Models.Path)
	if err != nil {
		return fmt.Errorf("load model config: %w", err)
	}
	registry := model.NewRegistry(modelCfg)
	client := llm.NewClient(registry, llm.WithLogger(logger))

	flagStore, err := flags.NewStore(cfg.Flags.Path, logger)
	if err != nil {
		return fmt.Errorf("load feature flags: %w", err)
	}
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if err := flagStore.Watch(watchCtx); err != nil {
		logger.Warn("Feature flag watching unavailable, flags load once", "error", err)
	}

	var renderer diagram.Renderer
	if cfg.Diagrams.ServerURL != "" {
		renderer = diagram.NewHTTPRenderer(cfg.Diagrams.ServerURL,
			diagram.WithRendererHTTPClient(&http.Client{Timeout: cfg.Diagrams.Timeout}),
			diagram.WithRendererLogger(logger))
	}

	var converter export.Converter = export.NoConverter{}
	if cfg.Pipeline.PandocPath != "" {
		converter = export.NewCommandConverter(cfg.Pipeline.PandocPath)
	}

	deps := &stages.Deps{
		Broker:         qb,
		Objects:        objects,
		Status:         statusStore,
		LLM:            client,
		Flags:          flagStore,
		Renderer:       renderer,
		Converter:      converter,
		Logger:         logger,
		WriteBatchSize: cfg.Pipeline.WriteBatchSize,
		RenderSVG:      cfg.Diagrams.SVG,
	}

	publisher := status.NewPublisher(qb, logger)
	recorder := status.NewRecorder(qb, statusStore, logger)
	if err := recorder.Start(ctx); err != nil {
		return fmt.Errorf("start status recorder: %w", err)
	}
	defer recorder.Stop()

	pool := worker.NewPool(qb, deps, publisher, logger,
		worker.WithLockDuration(cfg.Queues.LockDuration),
		worker.WithMaxDeliver(cfg.Queues.MaxDeliver))
	if err := pool.Start(ctx); err != nil {
		return err
	}
	defer pool.Stop()

	httpSrv := serveHTTP(cfg.HTTPAddr, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("Docwriter ready",
		"version", Version,
		"nats", natsURL,
		"http", cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("Shutting down", "signal", s)
	return nil
}

// serveHTTP exposes metrics and a liveness probe.
func serveHTTP(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP listener failed", "error", err)
		}
	}()
	return srv
}
