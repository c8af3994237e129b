// Package store provides durable state for document jobs: the blob store
// holding job artifacts, the status store holding job rows, timelines, the
// document index, and the atomic counters coordinating fan-in. Production
// implementations run on JetStream object store and key-value buckets;
// in-memory implementations back tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/c360studio/docwriter/docjob"
)

// ErrNotFound is returned when a key, job, or artifact does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a compare-and-swap write lost the race.
// Callers reload, re-merge, and retry.
var ErrConflict = errors.New("conflict: revision changed")

// ObjectStore holds job artifacts under the jobs/{owner}/{job}/ layout.
type ObjectStore interface {
	// Put writes an artifact, overwriting any existing one. Artifact
	// names are stable per (stage, cycle) so redelivered work converges
	// instead of duplicating.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads an artifact. Returns ErrNotFound when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether an artifact is present.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns keys under the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// DocumentEntry is one row of the per-owner document index.
type DocumentEntry struct {
	JobID     string          `json:"job_id"`
	OwnerID   string          `json:"owner_id"`
	Title     string          `json:"title,omitempty"`
	State     docjob.JobState `json:"state"`
	Artifacts []string        `json:"artifacts,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TimelineCap bounds the events kept per job; oldest are dropped first.
const TimelineCap = 10000

// StatusStore holds job rows, timelines, the document index, memory
// snapshots, and fan-in counters.
type StatusStore interface {
	// PutJob upserts the latest job row.
	PutJob(ctx context.Context, job *docjob.Job) error

	// GetJob fetches a job row. Returns ErrNotFound when absent.
	GetJob(ctx context.Context, ownerID, jobID string) (*docjob.Job, error)

	// AppendTimeline appends an event, deduplicating by event identity
	// so redelivered status messages record once.
	AppendTimeline(ctx context.Context, ev *docjob.StatusEvent) error

	// Timeline returns a job's events in append order.
	Timeline(ctx context.Context, ownerID, jobID string) ([]docjob.StatusEvent, error)

	// PutDocument upserts the document index row for a job.
	PutDocument(ctx context.Context, entry *DocumentEntry) error

	// GetDocument fetches one index row. Returns ErrNotFound when absent.
	GetDocument(ctx context.Context, ownerID, jobID string) (*DocumentEntry, error)

	// ListDocuments returns the owner's index rows, newest first.
	ListDocuments(ctx context.Context, ownerID string) ([]DocumentEntry, error)

	// Increment atomically bumps a named counter and returns the new
	// value. Counters start at zero.
	Increment(ctx context.Context, name string) (int, error)

	// GetMemory returns the job's memory snapshot and its revision.
	// A job with no memory yet returns an empty snapshot at revision 0.
	GetMemory(ctx context.Context, ownerID, jobID string) (*docjob.Memory, uint64, error)

	// PutMemory writes the memory snapshot if the revision still
	// matches; otherwise ErrConflict.
	PutMemory(ctx context.Context, ownerID, jobID string, mem *docjob.Memory, rev uint64) (uint64, error)
}
