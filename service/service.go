// Package service exposes the kernel operations the HTTP layer calls:
// job admission, answer submission, status reads, and artifact access.
// Every operation enforces that callers only touch their own jobs.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/c360studio/docwriter/broker"
	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/stages"
	"github.com/c360studio/docwriter/status"
	"github.com/c360studio/docwriter/store"
)

// ErrNotAuthorized is returned when a caller reaches for a job or
// artifact outside their owner prefix.
var ErrNotAuthorized = errors.New("not authorized")

// ErrNotFailed is returned by ResumeFailed for jobs that are not in the
// failed state.
var ErrNotFailed = errors.New("job is not in a failed state")

// Service is the kernel's front door.
type Service struct {
	broker    broker.Broker
	objects   store.ObjectStore
	status    store.StatusStore
	publisher *status.Publisher
	logger    *slog.Logger
}

// New creates a service over the shared substrate.
func New(b broker.Broker, objects store.ObjectStore, st store.StatusStore, publisher *status.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		broker:    b,
		objects:   objects,
		status:    st,
		publisher: publisher,
		logger:    logger.With("component", "service"),
	}
}

// AdmitJob validates the parameters, records the job, and starts the
// pipeline. Each call creates a new job.
func (s *Service) AdmitJob(ctx context.Context, ownerID string, params docjob.JobParams) (*docjob.Job, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job parameters: %w", err)
	}

	job := docjob.NewJob(ownerID, params)
	if err := s.status.PutJob(ctx, job); err != nil {
		return nil, fmt.Errorf("record job: %w", err)
	}

	msg := docjob.StageMessage{
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		Stage:   docjob.StagePlanIntake,
		TraceID: uuid.New().String(),
	}
	s.publisher.Publish(ctx, &docjob.StatusEvent{
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		Stage:   docjob.StagePlanIntake,
		Phase:   docjob.PhaseEnqueued,
		Message: fmt.Sprintf("job admitted: %s", params.Topic),
		Details: docjob.EventDetails{RequestedCycles: job.Cycles.Requested},
		TraceID: msg.TraceID,
	})
	if err := s.enqueue(ctx, &msg); err != nil {
		return nil, err
	}

	s.logger.Info("Job admitted",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"topic", params.Topic,
		"cycles", job.Cycles.Requested)
	return job, nil
}

// ownedJob is the ownership gate every per-job operation passes through:
// the row lookup is scoped to the caller's owner id, so a job that is not
// the caller's looks identical to one that does not exist.
func (s *Service) ownedJob(ctx context.Context, ownerID, jobID string) (*docjob.Job, error) {
	job, err := s.status.GetJob(ctx, ownerID, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, err
	}
	return job, nil
}

// SubmitAnswers stores the intake answers and wakes the pipeline.
// Idempotent: resubmitting the same answers converges on the same
// context artifact.
func (s *Service) SubmitAnswers(ctx context.Context, ownerID, jobID string, answers map[string]string) error {
	job, err := s.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return err
	}

	paths := store.NewJobPaths(job.OwnerID, job.ID)
	data, err := json.MarshalIndent(answers, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	if err := s.objects.Put(ctx, paths.Answers(), data); err != nil {
		return fmt.Errorf("store answers: %w", err)
	}

	return s.enqueue(ctx, &docjob.StageMessage{
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		Stage:   docjob.StageIntakeResume,
		TraceID: uuid.New().String(),
	})
}

// StatusView is the caller-facing status snapshot.
type StatusView struct {
	JobID           string          `json:"job_id"`
	State           docjob.JobState `json:"state"`
	Stage           docjob.Stage    `json:"stage,omitempty"`
	Cycle           int             `json:"cycle,omitempty"`
	CyclesRequested int             `json:"cycles_requested"`
	CyclesCompleted int             `json:"cycles_completed"`
	Message         string          `json:"message,omitempty"`
	Artifact        string          `json:"artifact,omitempty"`
	HasError        bool            `json:"has_error"`
	LastError       string          `json:"last_error,omitempty"`
}

// GetStatus returns the job's current state plus the latest timeline
// message.
func (s *Service) GetStatus(ctx context.Context, ownerID, jobID string) (*StatusView, error) {
	job, err := s.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	view := &StatusView{
		JobID:           job.ID,
		State:           job.State,
		Stage:           job.Stage,
		CyclesRequested: job.Cycles.Requested,
		CyclesCompleted: job.Cycles.Completed,
		HasError:        job.Error != "",
		LastError:       job.Error,
	}

	timeline, err := s.status.Timeline(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if len(timeline) > 0 {
		last := timeline[len(timeline)-1]
		view.Message = last.Message
		view.Artifact = last.Details.Artifact
		view.Cycle = last.Details.CycleIndex
	}
	return view, nil
}

// GetTimeline returns the job's event history, oldest first.
func (s *Service) GetTimeline(ctx context.Context, ownerID, jobID string) ([]docjob.StatusEvent, error) {
	if _, err := s.ownedJob(ctx, ownerID, jobID); err != nil {
		return nil, err
	}
	return s.status.Timeline(ctx, ownerID, jobID)
}

// ListDocuments returns the owner's document index rows, newest first.
func (s *Service) ListDocuments(ctx context.Context, ownerID string) ([]store.DocumentEntry, error) {
	return s.status.ListDocuments(ctx, ownerID)
}

// FetchArtifact returns one artifact by its path relative to the job
// root, with a content type. The path is resolved and checked against
// the owner prefix before any read.
func (s *Service) FetchArtifact(ctx context.Context, ownerID, jobID, relativePath string) ([]byte, string, error) {
	if _, err := s.ownedJob(ctx, ownerID, jobID); err != nil {
		return nil, "", err
	}
	paths := store.NewJobPaths(ownerID, jobID)

	cleaned := path.Clean("/" + relativePath)[1:]
	key := paths.Root() + cleaned
	if cleaned == "" || !paths.Owns(key) {
		return nil, "", ErrNotAuthorized
	}

	data, err := s.objects.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return data, contentTypeFor(cleaned), nil
}

// FetchDiagramArchive returns the job's bundled diagram assets.
func (s *Service) FetchDiagramArchive(ctx context.Context, ownerID, jobID string) ([]byte, error) {
	if _, err := s.ownedJob(ctx, ownerID, jobID); err != nil {
		return nil, err
	}
	paths := store.NewJobPaths(ownerID, jobID)
	return s.objects.Get(ctx, paths.DiagramArchive())
}

// ResumeFailed re-enqueues the stage a failed job died on. Stage
// handlers are idempotent, so finished work is skipped and the pipeline
// continues from where it stopped.
func (s *Service) ResumeFailed(ctx context.Context, ownerID, jobID string) error {
	job, err := s.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return err
	}
	if job.State != docjob.StateFailed {
		return fmt.Errorf("%w: %s", ErrNotFailed, job.State)
	}

	stage := job.Stage
	cycle := 0
	timeline, err := s.status.Timeline(ctx, ownerID, jobID)
	if err != nil {
		return err
	}
	for i := len(timeline) - 1; i >= 0; i-- {
		ev := timeline[i]
		if ev.Stage == stage && (ev.Phase == docjob.PhaseFailed || ev.Phase == docjob.PhaseDeadLettered) {
			cycle = ev.Details.CycleIndex
			break
		}
	}

	// A failed render resumes through diagram-prep: it rebuilds the
	// manifest and refans the render messages, and the finalize kickoff
	// counter still fires at most once.
	if stage == docjob.StageDiagramRender {
		stage = docjob.StageDiagramPrep
		cycle = 0
	}

	msg := docjob.StageMessage{
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		Stage:   stage,
		Cycle:   cycle,
		TraceID: uuid.New().String(),
	}
	s.publisher.Publish(ctx, &docjob.StatusEvent{
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		Stage:   stage,
		Phase:   docjob.PhaseEnqueued,
		Message: fmt.Sprintf("resumed after failure at %s", status.StageLabel(job.Stage)),
		Details: docjob.EventDetails{CycleIndex: cycle},
		TraceID: msg.TraceID,
	})
	if err := s.enqueue(ctx, &msg); err != nil {
		return err
	}
	s.logger.Info("Failed job resumed", "job_id", job.ID, "stage", stage, "cycle", cycle)
	return nil
}

func (s *Service) enqueue(ctx context.Context, msg *docjob.StageMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	queue := stages.QueueFor(msg.Stage)
	if err := s.broker.EnsureQueue(ctx, queue); err != nil {
		return fmt.Errorf("ensure queue %s: %w", queue, err)
	}
	if err := s.broker.Enqueue(ctx, queue, data); err != nil {
		return fmt.Errorf("enqueue %s: %w", queue, err)
	}
	return nil
}

func contentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".svg":
		return "image/svg+xml"
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".zip":
		return "application/zip"
	case ".puml", ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
