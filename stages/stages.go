// Package stages implements the pipeline stage handlers. A handler does
// the work for one leased message and returns the messages to enqueue
// next; lease mechanics, status events, and retry classification live in
// the worker runner.
package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/docwriter/broker"
	"github.com/c360studio/docwriter/diagram"
	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/export"
	"github.com/c360studio/docwriter/flags"
	"github.com/c360studio/docwriter/llm"
	"github.com/c360studio/docwriter/store"
)

// Deps carries the shared dependencies every handler draws from.
type Deps struct {
	Broker    broker.Broker
	Objects   store.ObjectStore
	Status    store.StatusStore
	LLM       llm.Client
	Flags     *flags.Store
	Renderer  diagram.Renderer
	Converter export.Converter
	Logger    *slog.Logger

	// WriteBatchSize groups up to N ready sections into one write
	// message. Minimum 1.
	WriteBatchSize int

	// RenderSVG renders an SVG alongside each PNG.
	RenderSVG bool
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Deps) converter() export.Converter {
	if d.Converter == nil {
		return export.NoConverter{}
	}
	return d.Converter
}

func (d *Deps) flags() flags.Flags {
	if d.Flags == nil {
		return flags.Flags{}
	}
	return d.Flags.Current()
}

func (d *Deps) batchSize() int {
	if d.WriteBatchSize < 1 {
		return 1
	}
	return d.WriteBatchSize
}

// Result is a successful handler outcome.
type Result struct {
	// Details feed the DONE status event and the stage metrics blob.
	Details docjob.EventDetails

	// Next holds the messages to enqueue before the input is acked.
	Next []Enqueue

	// Events holds extra status events beyond START/DONE (INTAKE_READY,
	// FINALIZE_DONE, ...).
	Events []docjob.StatusEvent
}

// Enqueue is one follow-up message.
type Enqueue struct {
	Queue string
	Msg   docjob.StageMessage
}

// Handler processes one message for one stage.
type Handler func(ctx context.Context, deps *Deps, msg *docjob.StageMessage) (*Result, error)

// QueueFor returns the queue name for a stage.
func QueueFor(stage docjob.Stage) string {
	return string(stage)
}

// Handlers returns the handler for every pipeline stage.
func Handlers() map[docjob.Stage]Handler {
	return map[docjob.Stage]Handler{
		docjob.StagePlanIntake:    PlanIntake,
		docjob.StageIntakeResume:  IntakeResume,
		docjob.StagePlan:          Plan,
		docjob.StageWrite:         Write,
		docjob.StageReview:        Review,
		docjob.StageVerify:        Verify,
		docjob.StageRewrite:       Rewrite,
		docjob.StageDiagramPrep:   DiagramPrep,
		docjob.StageDiagramRender: DiagramRender,
		docjob.StageFinalize:      Finalize,
	}
}

// permanentError marks a failure retrying cannot fix: the message must
// dead-letter, not requeue.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error as non-retryable.
func Permanent(err error) error {
	return &permanentError{err: err}
}

// IsPermanent reports whether the failure must dead-letter. Fatal LLM
// errors and invalid plans are permanent by construction.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe) || llm.IsFatal(err) || errors.Is(err, docjob.ErrInvalidPlan)
}

// notReadyError marks a message whose inputs have not appeared yet: the
// message abandons quietly and retries after backoff.
type notReadyError struct {
	reason string
}

func (e *notReadyError) Error() string { return "not ready: " + e.reason }

// NotReady signals that a dependency has not materialized yet.
func NotReady(format string, args ...any) error {
	return &notReadyError{reason: fmt.Sprintf(format, args...)}
}

// IsNotReady reports whether the failure is a dependency wait.
func IsNotReady(err error) bool {
	var nr *notReadyError
	return errors.As(err, &nr)
}

// getJSON reads and unmarshals an object store artifact.
func getJSON(ctx context.Context, objects store.ObjectStore, key string, target any) error {
	data, err := objects.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return Permanent(fmt.Errorf("corrupt artifact %s: %w", key, err))
	}
	return nil
}

// putJSON marshals and writes an object store artifact with stable
// indented formatting.
func putJSON(ctx context.Context, objects store.ObjectStore, key string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", key, err)
	}
	return objects.Put(ctx, key, data)
}

// loadPlan fetches the job's plan; a missing plan means the message
// outran the plan stage and should wait.
func loadPlan(ctx context.Context, deps *Deps, paths store.JobPaths) (*docjob.Plan, error) {
	var plan docjob.Plan
	if err := getJSON(ctx, deps.Objects, paths.Plan(), &plan); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotReady("plan not written yet")
		}
		return nil, err
	}
	return &plan, nil
}

// loadDrafts fetches every section draft. Missing drafts wait.
func loadDrafts(ctx context.Context, deps *Deps, paths store.JobPaths, plan *docjob.Plan) (map[string]string, error) {
	drafts := make(map[string]string, len(plan.Sections))
	for _, sec := range plan.Sections {
		data, err := deps.Objects.Get(ctx, paths.Draft(sec.ID))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, NotReady("draft for section %s not written yet", sec.ID)
			}
			return nil, err
		}
		drafts[sec.ID] = string(data)
	}
	return drafts, nil
}

// sectionList round-trips a section id list through a message input.
func sectionList(ids []string) string {
	return strings.Join(ids, ",")
}

func parseSectionList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
