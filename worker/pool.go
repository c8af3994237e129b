package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/docwriter/broker"
	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/stages"
	"github.com/c360studio/docwriter/status"
)

// Pool runs one Runner per pipeline stage.
type Pool struct {
	runners []*Runner
	logger  *slog.Logger
}

// NewPool builds runners for every stage handler.
func NewPool(b broker.Broker, deps *stages.Deps, publisher *status.Publisher, logger *slog.Logger, opts ...RunnerOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{logger: logger}
	handlers := stages.Handlers()
	for _, stage := range docjob.Stages() {
		handler, ok := handlers[stage]
		if !ok {
			continue
		}
		p.runners = append(p.runners, NewRunner(stage, handler, b, deps, publisher, logger, opts...))
	}
	return p
}

// Start starts every runner; the first failure stops the ones already
// started.
func (p *Pool) Start(ctx context.Context) error {
	for i, r := range p.runners {
		if err := r.Start(ctx); err != nil {
			for _, started := range p.runners[:i] {
				started.Stop()
			}
			return fmt.Errorf("start %s worker: %w", r.stage, err)
		}
	}
	p.logger.Info("Worker pool started", "stages", len(p.runners))
	return nil
}

// Stop stops every runner, waiting for in-flight messages.
func (p *Pool) Stop() {
	for _, r := range p.runners {
		r.Stop()
	}
	p.logger.Info("Worker pool stopped")
}
