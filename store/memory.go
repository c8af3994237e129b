package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/c360studio/docwriter/docjob"
)

// MemoryObjectStore is an in-process ObjectStore for tests.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryObjectStore creates an empty object store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte)}
}

func (s *MemoryObjectStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[key] = cp
	return nil
}

func (s *MemoryObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *MemoryObjectStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemoryObjectStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// MemoryStatusStore is an in-process StatusStore for tests.
type MemoryStatusStore struct {
	mu        sync.Mutex
	jobs      map[string][]byte // owner.job -> job row
	timelines map[string][]docjob.StatusEvent
	seen      map[string]map[string]bool // timeline identity dedupe
	documents map[string][]byte          // owner.job -> index entry
	counters  map[string]int
	memories  map[string]*memorySlot
}

type memorySlot struct {
	data []byte
	rev  uint64
}

// NewMemoryStatusStore creates an empty status store.
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{
		jobs:      make(map[string][]byte),
		timelines: make(map[string][]docjob.StatusEvent),
		seen:      make(map[string]map[string]bool),
		documents: make(map[string][]byte),
		counters:  make(map[string]int),
		memories:  make(map[string]*memorySlot),
	}
}

func statusKey(ownerID, jobID string) string { return ownerID + "." + jobID }

func (s *MemoryStatusStore) PutJob(_ context.Context, job *docjob.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[statusKey(job.OwnerID, job.ID)] = data
	return nil
}

func (s *MemoryStatusStore) GetJob(_ context.Context, ownerID, jobID string) (*docjob.Job, error) {
	s.mu.Lock()
	data, ok := s.jobs[statusKey(ownerID, jobID)]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	var job docjob.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *MemoryStatusStore) AppendTimeline(_ context.Context, ev *docjob.StatusEvent) error {
	key := statusKey(ev.OwnerID, ev.JobID)
	id := ev.Identity()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] == nil {
		s.seen[key] = make(map[string]bool)
	}
	if s.seen[key][id] {
		return nil
	}
	s.seen[key][id] = true

	tl := append(s.timelines[key], *ev)
	// Late events slot into ts order.
	sort.SliceStable(tl, func(i, j int) bool { return tl[i].TS.Before(tl[j].TS) })
	if len(tl) > TimelineCap {
		tl = tl[len(tl)-TimelineCap:]
	}
	s.timelines[key] = tl
	return nil
}

func (s *MemoryStatusStore) Timeline(_ context.Context, ownerID, jobID string) ([]docjob.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl := s.timelines[statusKey(ownerID, jobID)]
	out := make([]docjob.StatusEvent, len(tl))
	copy(out, tl)
	return out, nil
}

func (s *MemoryStatusStore) PutDocument(_ context.Context, entry *DocumentEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[statusKey(entry.OwnerID, entry.JobID)] = data
	return nil
}

func (s *MemoryStatusStore) GetDocument(_ context.Context, ownerID, jobID string) (*DocumentEntry, error) {
	s.mu.Lock()
	data, ok := s.documents[statusKey(ownerID, jobID)]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	var entry DocumentEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *MemoryStatusStore) ListDocuments(_ context.Context, ownerID string) ([]DocumentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DocumentEntry
	for k, data := range s.documents {
		if !strings.HasPrefix(k, ownerID+".") {
			continue
		}
		var entry DocumentEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStatusStore) Increment(_ context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
	return s.counters[name], nil
}

func (s *MemoryStatusStore) GetMemory(_ context.Context, ownerID, jobID string) (*docjob.Memory, uint64, error) {
	s.mu.Lock()
	slot, ok := s.memories[statusKey(ownerID, jobID)]
	s.mu.Unlock()
	if !ok {
		return docjob.NewMemory(), 0, nil
	}
	var mem docjob.Memory
	if err := json.Unmarshal(slot.data, &mem); err != nil {
		return nil, 0, err
	}
	return &mem, slot.rev, nil
}

func (s *MemoryStatusStore) PutMemory(_ context.Context, ownerID, jobID string, mem *docjob.Memory, rev uint64) (uint64, error) {
	data, err := json.Marshal(mem)
	if err != nil {
		return 0, err
	}
	key := statusKey(ownerID, jobID)

	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.memories[key]
	if !ok {
		if rev != 0 {
			return 0, ErrConflict
		}
		s.memories[key] = &memorySlot{data: data, rev: 1}
		return 1, nil
	}
	if slot.rev != rev {
		return 0, ErrConflict
	}
	slot.data = data
	slot.rev++
	return slot.rev, nil
}
