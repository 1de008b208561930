package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"adforge/internal/models"
	"adforge/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockGenerator is a testify mock for services.ImageSynthesizer.
type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) SynthesizeImage(ctx context.Context, prompt string) (*models.Artifact, error) {
	args := m.Called(ctx, prompt)
	art, _ := args.Get(0).(*models.Artifact)
	return art, args.Error(1)
}

// funcGenerator adapts a function to services.ImageSynthesizer.
type funcGenerator func(ctx context.Context, prompt string) (*models.Artifact, error)

func (f funcGenerator) SynthesizeImage(ctx context.Context, prompt string) (*models.Artifact, error) {
	return f(ctx, prompt)
}

func okArtifact() *models.Artifact {
	return &models.Artifact{MIMEType: "image/png", Data: []byte{0x89}}
}

func prompts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%d", i)
	}
	return out
}

func seeded(t *testing.T, n int, opts ...store.Option) *store.MemoryJobStore {
	t.Helper()
	st := store.NewMemoryJobStore(opts...)
	_, err := st.Seed(prompts(n), time.Now())
	require.NoError(t, err)
	return st
}

func TestScheduler_DrainsInIndexOrderWithFailure(t *testing.T) {
	st := seeded(t, 5)
	gen := new(mockGenerator)
	gen.On("SynthesizeImage", mock.Anything, "p1").Return(nil, errors.New("quota exceeded")).Once()
	gen.On("SynthesizeImage", mock.Anything, mock.Anything).Return(okArtifact(), nil)

	var batches [][]int
	var drained int
	s := New(st, gen, 2,
		WithBatchObserver(func(idx []int) { batches = append(batches, idx) }),
		WithDrainedHook(func() { drained++ }),
	)

	require.True(t, s.Drain(context.Background()))

	assert.Equal(t, [][]int{{0, 1}, {2, 3}, {4}}, batches)
	assert.Equal(t, 1, drained)

	jobs := st.Snapshot()
	for i, j := range jobs {
		if i == 1 {
			assert.Equal(t, models.JobStatusFailed, j.Status)
			assert.Equal(t, "quota exceeded", j.Error)
			assert.Nil(t, j.Artifact)
			continue
		}
		assert.Equal(t, models.JobStatusCompleted, j.Status, "job %d", i)
		assert.NotNil(t, j.Artifact)
	}
	assert.Equal(t, store.Counts{Total: 5, Completed: 4, Failed: 1}, st.Counts())
	gen.AssertNumberOfCalls(t, "SynthesizeImage", 5)
}

func TestScheduler_RespectsConcurrencyLimitAndTransitions(t *testing.T) {
	var maxGenerating atomic.Int64
	var illegal atomic.Int64
	st := seeded(t, 30, store.WithObserver(func(tr store.Transition) {
		if g := int64(tr.Counts.Generating); g > maxGenerating.Load() {
			maxGenerating.Store(g)
		}
		if tr.From == models.JobStatusPending && tr.To.IsTerminal() {
			illegal.Add(1)
		}
	}))

	var inFlight, peak atomic.Int64
	gen := funcGenerator(func(ctx context.Context, prompt string) (*models.Artifact, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return okArtifact(), nil
	})

	s := New(st, gen, 3)
	require.True(t, s.Drain(context.Background()))

	assert.LessOrEqual(t, maxGenerating.Load(), int64(3))
	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.Zero(t, illegal.Load())
	c := st.Counts()
	assert.True(t, c.Settled())
	assert.Equal(t, 30, c.Completed)
}

func TestScheduler_BatchWaitsForSlowestJob(t *testing.T) {
	st := seeded(t, 4)
	release := make(chan struct{})
	var started atomic.Int64
	gen := funcGenerator(func(ctx context.Context, prompt string) (*models.Artifact, error) {
		started.Add(1)
		if prompt == "p0" {
			<-release
		}
		return okArtifact(), nil
	})

	s := New(st, gen, 2)
	require.True(t, s.Trigger(context.Background()))

	require.Eventually(t, func() bool { return st.Counts().Completed == 1 }, time.Second, time.Millisecond)
	// The second batch must not start while p0 is still generating.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(2), started.Load())

	close(release)
	s.Wait()
	assert.Equal(t, 4, st.Counts().Completed)
}

func TestScheduler_TriggerIsSingleFlight(t *testing.T) {
	st := seeded(t, 3)
	release := make(chan struct{})
	var calls atomic.Int64
	gen := funcGenerator(func(ctx context.Context, prompt string) (*models.Artifact, error) {
		calls.Add(1)
		<-release
		return okArtifact(), nil
	})

	s := New(st, gen, 3)
	ctx := context.Background()
	require.True(t, s.Trigger(ctx))
	assert.True(t, s.Running())
	assert.False(t, s.Trigger(ctx))
	assert.False(t, s.Drain(ctx))

	close(release)
	s.Wait()
	assert.False(t, s.Running())
	assert.Equal(t, int64(3), calls.Load(), "each job generated exactly once")
}

func TestScheduler_RequeueWhileConcludingIsPickedUp(t *testing.T) {
	st := seeded(t, 2)
	gen := new(mockGenerator)
	gen.On("SynthesizeImage", mock.Anything, "p0").Return(nil, errors.New("boom")).Once()
	gen.On("SynthesizeImage", mock.Anything, mock.Anything).Return(okArtifact(), nil)

	var s *Scheduler
	var drained int
	retried := false
	s = New(st, gen, 3, WithDrainedHook(func() {
		drained++
		if retried {
			return
		}
		retried = true
		failed := st.Snapshot()[0]
		require.True(t, st.ApplyTransition(failed.ID, []models.JobStatus{models.JobStatusFailed}, models.JobStatusPending, store.Patch{}))
		assert.False(t, s.Trigger(context.Background()), "guard is still held while concluding")
	}))

	require.True(t, s.Drain(context.Background()))

	assert.Equal(t, 2, drained)
	assert.Equal(t, models.JobStatusCompleted, st.Snapshot()[0].Status)
	assert.Equal(t, 2, st.Snapshot()[0].Attempts)
	assert.Equal(t, 2, st.Counts().Completed)
}

func TestScheduler_CanceledContextStartsNoBatch(t *testing.T) {
	st := seeded(t, 3)
	gen := new(mockGenerator)
	drained := false
	s := New(st, gen, 3, WithDrainedHook(func() { drained = true }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.True(t, s.Drain(ctx))

	assert.False(t, drained)
	assert.Equal(t, 3, st.Counts().Pending)
	gen.AssertNotCalled(t, "SynthesizeImage", mock.Anything, mock.Anything)
}

func TestScheduler_InFlightBatchSettlesOnCancel(t *testing.T) {
	st := seeded(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	gen := funcGenerator(func(ctx context.Context, prompt string) (*models.Artifact, error) {
		once.Do(cancel)
		return okArtifact(), nil
	})

	s := New(st, gen, 2)
	require.True(t, s.Drain(ctx))

	c := st.Counts()
	assert.Equal(t, 2, c.Completed, "the started batch finishes")
	assert.Equal(t, 2, c.Pending, "no new batch after cancellation")
	assert.Zero(t, c.Generating)
}

func TestScheduler_CancelDoesNotAbortInFlightCalls(t *testing.T) {
	st := seeded(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	gen := funcGenerator(func(ctx context.Context, prompt string) (*models.Artifact, error) {
		started.Done()
		select {
		case <-release:
			return okArtifact(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	s := New(st, gen, 2)
	require.True(t, s.Trigger(ctx))
	started.Wait()
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)
	s.Wait()

	jobs := st.Snapshot()
	for _, j := range jobs[:2] {
		assert.Equal(t, models.JobStatusCompleted, j.Status, "job %d", j.Index)
		assert.Empty(t, j.Error)
	}
	c := st.Counts()
	assert.Equal(t, 2, c.Pending, "no new batch after cancellation")
	assert.Zero(t, c.Failed)
}

func TestScheduler_NilArtifactFailsJob(t *testing.T) {
	st := seeded(t, 1)
	gen := funcGenerator(func(ctx context.Context, prompt string) (*models.Artifact, error) {
		return nil, nil
	})
	New(st, gen, 1).Drain(context.Background())

	job := st.Snapshot()[0]
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, errNoArtifact.Error(), job.Error)
}

func TestNew_DefaultLimit(t *testing.T) {
	assert.Equal(t, DefaultConcurrency, New(store.NewMemoryJobStore(), nil, 0).Limit())
}

func TestScheduler_EmptyStoreCallsDrainedHook(t *testing.T) {
	called := false
	s := New(store.NewMemoryJobStore(), new(mockGenerator), 3, WithDrainedHook(func() { called = true }))
	require.True(t, s.Drain(context.Background()))
	assert.True(t, called)
}
