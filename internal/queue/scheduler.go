package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"adforge/internal/models"
	"adforge/internal/services"
	"adforge/internal/store"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of jobs generated at the same time when no
// limit is configured.
const DefaultConcurrency = 3

var errNoArtifact = errors.New("generator returned no artifact")

// BatchObserver is told the store indices of every batch before it is dispatched.
type BatchObserver func(indices []int)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDrainedHook sets the function called when a drain finds no pending job.
// It runs while the scheduler still holds its guard, so a Trigger issued from
// inside the hook returns false; the scheduler re-checks afterwards instead.
func WithDrainedHook(fn func()) Option {
	return func(s *Scheduler) {
		s.onDrained = fn
	}
}

// WithBatchObserver registers a BatchObserver.
func WithBatchObserver(fn BatchObserver) Option {
	return func(s *Scheduler) {
		s.onBatch = fn
	}
}

// Scheduler drains pending jobs from a JobStore in fixed-size batches. Only one
// drain runs at a time; jobs inside a batch are generated concurrently and the
// whole batch settles before the next one is taken.
type Scheduler struct {
	store     store.JobStore
	generator services.ImageSynthesizer
	limit     int
	onDrained func()
	onBatch   BatchObserver

	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a scheduler. A limit below 1 falls back to DefaultConcurrency.
func New(st store.JobStore, gen services.ImageSynthesizer, limit int, opts ...Option) *Scheduler {
	if limit < 1 {
		limit = DefaultConcurrency
	}
	s := &Scheduler{store: st, generator: gen, limit: limit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limit returns the batch size.
func (s *Scheduler) Limit() int { return s.limit }

// Running reports whether a drain currently holds the guard.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Trigger starts a background drain unless one is already active. It reports
// whether a new drain was started.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	return true
}

// Drain runs the queue on the calling goroutine until nothing is pending. It
// returns false without doing anything if another drain is active.
func (s *Scheduler) Drain(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.loop(ctx)
	return true
}

// Wait blocks until every drain started by Trigger has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// loop must be entered with the guard held. After a drain releases the guard it
// checks for jobs that were re-queued while it was concluding, so a retry is
// never stranded in pending.
func (s *Scheduler) loop(ctx context.Context) {
	for {
		s.drain(ctx)
		s.running.Store(false)

		if ctx.Err() != nil || len(store.PendingIndices(s.store.Snapshot())) == 0 {
			return
		}
		if !s.running.CompareAndSwap(false, true) {
			return // another Trigger took over
		}
		log.Debug("Jobs re-queued while the scheduler was finishing, draining again")
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	for {
		if err := ctx.Err(); err != nil {
			log.Infof("Queue stopped before starting a new batch: %v", err)
			return
		}

		jobs := s.store.Snapshot()
		pending := store.PendingIndices(jobs)
		if len(pending) == 0 {
			if s.onDrained != nil {
				s.onDrained()
			}
			return
		}
		if len(pending) > s.limit {
			pending = pending[:s.limit]
		}

		batch := make([]models.Job, 0, len(pending))
		indices := make([]int, 0, len(pending))
		for _, i := range pending {
			job := jobs[i]
			if !s.store.ApplyTransition(job.ID, []models.JobStatus{models.JobStatusPending}, models.JobStatusGenerating, store.Patch{}) {
				continue
			}
			batch = append(batch, job)
			indices = append(indices, job.Index)
		}
		if len(batch) == 0 {
			continue
		}
		if s.onBatch != nil {
			s.onBatch(indices)
		}
		log.WithField("jobs", indices).Debug("Dispatching batch")

		s.runBatch(ctx, batch)
	}
}

// runBatch generates every job of the batch concurrently and waits for all of
// them. A failing job never cancels its siblings, and cancelling ctx only stops
// the next batch: calls already in flight keep its values but not its
// cancellation, so they settle normally.
func (s *Scheduler) runBatch(ctx context.Context, batch []models.Job) {
	ctx = context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, job := range batch {
		job := job
		g.Go(func() error {
			s.generate(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) generate(ctx context.Context, job models.Job) {
	logger := log.WithFields(log.Fields{"job_id": job.ID, "index": job.Index})

	art, err := s.generator.SynthesizeImage(ctx, job.Prompt)
	if err == nil && art == nil {
		err = errNoArtifact
	}
	if err != nil {
		logger.Warnf("Shot generation failed: %v", err)
		s.store.ApplyTransition(job.ID, []models.JobStatus{models.JobStatusGenerating}, models.JobStatusFailed, store.Patch{Error: err.Error()})
		return
	}

	if !s.store.ApplyTransition(job.ID, []models.JobStatus{models.JobStatusGenerating}, models.JobStatusCompleted, store.Patch{Artifact: art}) {
		logger.Debug("Discarding result for a job that is no longer generating")
		return
	}
	logger.Debugf("Shot generated (%d bytes)", art.Size())
}
