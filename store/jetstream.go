package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/docwriter/docjob"
)

// KV bucket names.
const (
	bucketStatus    = "DOCWRITER_STATUS"
	bucketTimeline  = "DOCWRITER_TIMELINE"
	bucketDocuments = "DOCWRITER_DOCUMENTS"
	bucketCounters  = "DOCWRITER_COUNTERS"
	bucketMemory    = "DOCWRITER_MEMORY"
)

// JetStreamObjectStore implements ObjectStore on a JetStream object bucket.
type JetStreamObjectStore struct {
	obs jetstream.ObjectStore
}

// NewJetStreamObjectStore opens or creates the artifact bucket.
func NewJetStreamObjectStore(ctx context.Context, js jetstream.JetStream, bucket string) (*JetStreamObjectStore, error) {
	obs, err := js.ObjectStore(ctx, bucket)
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, fmt.Errorf("open object bucket %s: %w", bucket, err)
		}
		obs, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "docwriter job artifacts",
		})
		if err != nil {
			return nil, fmt.Errorf("create object bucket %s: %w", bucket, err)
		}
	}
	return &JetStreamObjectStore{obs: obs}, nil
}

func (s *JetStreamObjectStore) Put(ctx context.Context, key string, data []byte) error {
	if _, err := s.obs.PutBytes(ctx, key, data); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *JetStreamObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.obs.GetBytes(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return data, nil
}

func (s *JetStreamObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.obs.GetInfo(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

func (s *JetStreamObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	infos, err := s.obs.List(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoObjectsFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list objects: %w", err)
	}
	var keys []string
	for _, info := range infos {
		if strings.HasPrefix(info.Name, prefix) && !info.Deleted {
			keys = append(keys, info.Name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// JetStreamStatusStore implements StatusStore on KV buckets.
type JetStreamStatusStore struct {
	status    jetstream.KeyValue
	timeline  jetstream.KeyValue
	documents jetstream.KeyValue
	counters  jetstream.KeyValue
	memory    jetstream.KeyValue
}

// NewJetStreamStatusStore opens or creates the status buckets.
func NewJetStreamStatusStore(ctx context.Context, js jetstream.JetStream) (*JetStreamStatusStore, error) {
	s := &JetStreamStatusStore{}
	for _, b := range []struct {
		name string
		dst  *jetstream.KeyValue
	}{
		{bucketStatus, &s.status},
		{bucketTimeline, &s.timeline},
		{bucketDocuments, &s.documents},
		{bucketCounters, &s.counters},
		{bucketMemory, &s.memory},
	} {
		kv, err := getOrCreateBucket(ctx, js, b.name)
		if err != nil {
			return nil, err
		}
		*b.dst = kv
	}
	return s, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("open kv bucket %s: %w", name, err)
	}
	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  name,
		History: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket %s: %w", name, err)
	}
	return kv, nil
}

// isWrongRevision reports whether a KV write failed the revision check.
func isWrongRevision(err error) bool {
	return err != nil && strings.Contains(err.Error(), "wrong last sequence")
}

func (s *JetStreamStatusStore) PutJob(ctx context.Context, job *docjob.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job row: %w", err)
	}
	if _, err := s.status.Put(ctx, statusKey(job.OwnerID, job.ID), data); err != nil {
		return fmt.Errorf("put job row: %w", err)
	}
	return nil
}

func (s *JetStreamStatusStore) GetJob(ctx context.Context, ownerID, jobID string) (*docjob.Job, error) {
	entry, err := s.status.Get(ctx, statusKey(ownerID, jobID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job row: %w", err)
	}
	var job docjob.Job
	if err := json.Unmarshal(entry.Value(), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job row: %w", err)
	}
	return &job, nil
}

// AppendTimeline appends one event with a CAS retry loop, deduplicating by
// event identity against the stored list.
func (s *JetStreamStatusStore) AppendTimeline(ctx context.Context, ev *docjob.StatusEvent) error {
	key := statusKey(ev.OwnerID, ev.JobID)
	id := ev.Identity()

	for {
		var events []docjob.StatusEvent
		var rev uint64

		entry, err := s.timeline.Get(ctx, key)
		switch {
		case err == nil:
			if err := json.Unmarshal(entry.Value(), &events); err != nil {
				return fmt.Errorf("unmarshal timeline: %w", err)
			}
			rev = entry.Revision()
		case errors.Is(err, jetstream.ErrKeyNotFound):
			// first event for this job
		default:
			return fmt.Errorf("get timeline: %w", err)
		}

		for i := len(events) - 1; i >= 0; i-- {
			if events[i].Identity() == id {
				return nil
			}
		}

		events = append(events, *ev)
		// Late events slot into ts order.
		sort.SliceStable(events, func(i, j int) bool { return events[i].TS.Before(events[j].TS) })
		if len(events) > TimelineCap {
			events = events[len(events)-TimelineCap:]
		}
		data, err := json.Marshal(events)
		if err != nil {
			return fmt.Errorf("marshal timeline: %w", err)
		}

		if rev == 0 {
			_, err = s.timeline.Create(ctx, key, data)
			if errors.Is(err, jetstream.ErrKeyExists) {
				continue
			}
		} else {
			_, err = s.timeline.Update(ctx, key, data, rev)
			if isWrongRevision(err) {
				continue
			}
		}
		if err != nil {
			return fmt.Errorf("write timeline: %w", err)
		}
		return nil
	}
}

func (s *JetStreamStatusStore) Timeline(ctx context.Context, ownerID, jobID string) ([]docjob.StatusEvent, error) {
	entry, err := s.timeline.Get(ctx, statusKey(ownerID, jobID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get timeline: %w", err)
	}
	var events []docjob.StatusEvent
	if err := json.Unmarshal(entry.Value(), &events); err != nil {
		return nil, fmt.Errorf("unmarshal timeline: %w", err)
	}
	return events, nil
}

func (s *JetStreamStatusStore) PutDocument(ctx context.Context, docEntry *DocumentEntry) error {
	data, err := json.Marshal(docEntry)
	if err != nil {
		return fmt.Errorf("marshal document entry: %w", err)
	}
	if _, err := s.documents.Put(ctx, statusKey(docEntry.OwnerID, docEntry.JobID), data); err != nil {
		return fmt.Errorf("put document entry: %w", err)
	}
	return nil
}

func (s *JetStreamStatusStore) GetDocument(ctx context.Context, ownerID, jobID string) (*DocumentEntry, error) {
	entry, err := s.documents.Get(ctx, statusKey(ownerID, jobID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document entry: %w", err)
	}
	var doc DocumentEntry
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document entry: %w", err)
	}
	return &doc, nil
}

func (s *JetStreamStatusStore) ListDocuments(ctx context.Context, ownerID string) ([]DocumentEntry, error) {
	lister, err := s.documents.ListKeysFiltered(ctx, ownerID+".*")
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list document keys: %w", err)
	}

	var out []DocumentEntry
	for key := range lister.Keys() {
		entry, err := s.documents.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get document entry %s: %w", key, err)
		}
		var doc DocumentEntry
		if err := json.Unmarshal(entry.Value(), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal document entry %s: %w", key, err)
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Increment bumps a counter with a CAS loop over KV revisions.
func (s *JetStreamStatusStore) Increment(ctx context.Context, name string) (int, error) {
	for {
		entry, err := s.counters.Get(ctx, name)
		if err != nil {
			if !errors.Is(err, jetstream.ErrKeyNotFound) {
				return 0, fmt.Errorf("get counter %s: %w", name, err)
			}
			_, err = s.counters.Create(ctx, name, []byte("1"))
			if errors.Is(err, jetstream.ErrKeyExists) {
				continue
			}
			if err != nil {
				return 0, fmt.Errorf("create counter %s: %w", name, err)
			}
			return 1, nil
		}

		var val int
		if err := json.Unmarshal(entry.Value(), &val); err != nil {
			return 0, fmt.Errorf("parse counter %s: %w", name, err)
		}
		val++
		_, err = s.counters.Update(ctx, name, []byte(fmt.Sprintf("%d", val)), entry.Revision())
		if isWrongRevision(err) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("update counter %s: %w", name, err)
		}
		return val, nil
	}
}

func (s *JetStreamStatusStore) GetMemory(ctx context.Context, ownerID, jobID string) (*docjob.Memory, uint64, error) {
	entry, err := s.memory.Get(ctx, statusKey(ownerID, jobID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return docjob.NewMemory(), 0, nil
		}
		return nil, 0, fmt.Errorf("get memory: %w", err)
	}
	var mem docjob.Memory
	if err := json.Unmarshal(entry.Value(), &mem); err != nil {
		return nil, 0, fmt.Errorf("unmarshal memory: %w", err)
	}
	return &mem, entry.Revision(), nil
}

func (s *JetStreamStatusStore) PutMemory(ctx context.Context, ownerID, jobID string, mem *docjob.Memory, rev uint64) (uint64, error) {
	data, err := json.Marshal(mem)
	if err != nil {
		return 0, fmt.Errorf("marshal memory: %w", err)
	}
	key := statusKey(ownerID, jobID)

	if rev == 0 {
		newRev, err := s.memory.Create(ctx, key, data)
		if errors.Is(err, jetstream.ErrKeyExists) {
			return 0, ErrConflict
		}
		if err != nil {
			return 0, fmt.Errorf("create memory: %w", err)
		}
		return newRev, nil
	}

	newRev, err := s.memory.Update(ctx, key, data, rev)
	if isWrongRevision(err) {
		return 0, ErrConflict
	}
	if err != nil {
		return 0, fmt.Errorf("update memory: %w", err)
	}
	return newRev, nil
}
