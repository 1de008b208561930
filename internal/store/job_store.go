package store

import (
	"fmt"
	"sync"
	"time"

	"adforge/internal/models"
)

// MemoryJobStore is the in-memory JobStore. The mutex makes every transition a
// compare-and-set on the job's current status, so duplicate dispatch of the
// same job is a no-op rather than a race.
type MemoryJobStore struct {
	mu        sync.RWMutex
	jobs      []models.Job
	index     map[string]int
	observers []Observer
	now       func() time.Time
}

// Option configures a MemoryJobStore.
type Option func(*MemoryJobStore)

// WithObserver registers an observer for applied transitions.
func WithObserver(o Observer) Option {
	return func(s *MemoryJobStore) {
		s.observers = append(s.observers, o)
	}
}

// WithClock overrides the clock used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryJobStore) {
		s.now = now
	}
}

// NewMemoryJobStore creates an empty store.
func NewMemoryJobStore(opts ...Option) *MemoryJobStore {
	s := &MemoryJobStore{
		index: make(map[string]int),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddObserver registers an observer after construction.
func (s *MemoryJobStore) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Seed creates one pending job per prompt, in input order. The store must be
// empty; callers clear it explicitly between campaigns.
func (s *MemoryJobStore) Seed(prompts []string, now time.Time) ([]models.Job, error) {
	if len(prompts) == 0 {
		return nil, ErrNoPrompts
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.jobs) > 0 {
		return nil, ErrStoreNotEmpty
	}

	stamp := now.UnixMilli()
	jobs := make([]models.Job, len(prompts))
	index := make(map[string]int, len(prompts))
	for i, p := range prompts {
		id := fmt.Sprintf("shot-%d-%d", i, stamp)
		jobs[i] = models.Job{
			ID:        id,
			Index:     i,
			Prompt:    p,
			Status:    models.JobStatusPending,
			UpdatedAt: now,
		}
		index[id] = i
	}
	s.jobs = jobs
	s.index = index

	out := make([]models.Job, len(jobs))
	copy(out, jobs)
	return out, nil
}

// ApplyTransition moves job id to status `to` and merges patch, but only if its
// current status is in `from`. It returns false, without error, when the job
// is unknown or its status does not match.
//
// Entering completed requires an artifact; any other target clears it.
func (s *MemoryJobStore) ApplyTransition(id string, from []models.JobStatus, to models.JobStatus, patch Patch) bool {
	if to == models.JobStatusCompleted && patch.Artifact == nil {
		return false
	}

	s.mu.Lock()
	i, ok := s.index[id]
	if !ok || !statusIn(s.jobs[i].Status, from) {
		s.mu.Unlock()
		return false
	}

	job := &s.jobs[i]
	prev := job.Status
	job.Status = to
	job.UpdatedAt = s.now()

	switch to {
	case models.JobStatusCompleted:
		job.Artifact = patch.Artifact
		job.Error = ""
	case models.JobStatusGenerating:
		job.Artifact = nil
		job.Attempts++
	case models.JobStatusFailed:
		job.Artifact = nil
		job.Error = patch.Error
	default:
		job.Artifact = nil
		job.Error = ""
	}

	ev := Transition{Job: *job, From: prev, To: to, Counts: s.countsLocked()}
	observers := s.observers
	s.mu.Unlock()

	for _, o := range observers {
		o(ev)
	}
	return true
}

// Snapshot returns a copy of the ordered jobs.
func (s *MemoryJobStore) Snapshot() []models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Get returns a copy of a single job.
func (s *MemoryJobStore) Get(id string) (models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.jobs[i], nil
}

// Counts returns the per-status projection.
func (s *MemoryJobStore) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countsLocked()
}

// Len returns the number of seeded jobs.
func (s *MemoryJobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Clear empties the store so it can be seeded again.
func (s *MemoryJobStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = nil
	s.index = make(map[string]int)
}

func (s *MemoryJobStore) countsLocked() Counts {
	c := Counts{Total: len(s.jobs)}
	for _, j := range s.jobs {
		switch j.Status {
		case models.JobStatusPending:
			c.Pending++
		case models.JobStatusGenerating:
			c.Generating++
		case models.JobStatusCompleted:
			c.Completed++
		case models.JobStatusFailed:
			c.Failed++
		}
	}
	return c
}

func statusIn(s models.JobStatus, set []models.JobStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

var _ JobStore = (*MemoryJobStore)(nil)
