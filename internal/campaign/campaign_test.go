package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"adforge/internal/models"
	"adforge/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")

func refImages(n int) []models.ReferenceImage {
	out := make([]models.ReferenceImage, n)
	for i := range out {
		out[i] = models.ReferenceImage{Name: fmt.Sprintf("ref%d.png", i), Data: pngBytes}
	}
	return out
}

type fakeSynthesizer struct {
	shots int
	err   error
	got   string
}

func (f *fakeSynthesizer) SynthesizeScenario(ctx context.Context, images []models.ReferenceImage, guidance string) (*models.Scenario, error) {
	f.got = guidance
	if f.err != nil {
		return nil, f.err
	}
	prompts := make([]string, f.shots)
	for i := range prompts {
		prompts[i] = fmt.Sprintf("p%d", i)
	}
	return &models.Scenario{Title: "T", Concept: "C", TargetAudience: "A", MarketingHook: "H", ImagePrompts: prompts}, nil
}

// fakeGenerator fails each prompt in failOnce exactly once and blocks prompts
// in block until their channel is closed or ctx is done.
type fakeGenerator struct {
	mu       sync.Mutex
	failOnce map[string]bool
	block    map[string]chan struct{}
	calls    map[string]int
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		failOnce: map[string]bool{},
		block:    map[string]chan struct{}{},
		calls:    map[string]int{},
	}
}

func (g *fakeGenerator) SynthesizeImage(ctx context.Context, prompt string) (*models.Artifact, error) {
	g.mu.Lock()
	g.calls[prompt]++
	fail := g.failOnce[prompt]
	delete(g.failOnce, prompt)
	ch := g.block[prompt]
	g.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("render failed for " + prompt)
	}
	return &models.Artifact{MIMEType: "image/png", Data: []byte(prompt)}, nil
}

func (g *fakeGenerator) callsFor(prompt string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[prompt]
}

func newTestController(t *testing.T, synth *fakeSynthesizer, gen *fakeGenerator) *Controller {
	t.Helper()
	c := New(Options{
		Store:       store.NewMemoryJobStore(),
		Synthesizer: synth,
		Generator:   gen,
		Concurrency: 3,
	})
	t.Cleanup(c.Close)
	return c
}

func waitSettled(t *testing.T, c *Controller) models.RunState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := c.Wait(ctx)
	require.NoError(t, err)
	return state
}

func TestController_FullCampaign(t *testing.T) {
	synth := &fakeSynthesizer{shots: 30}
	c := newTestController(t, synth, newFakeGenerator())

	require.NoError(t, c.Submit(context.Background(), refImages(2), "  moody  "))
	assert.Equal(t, "moody", synth.got)

	jobs := c.Snapshot()
	require.Len(t, jobs, 30)
	for i, j := range jobs {
		assert.Equal(t, fmt.Sprintf("p%d", i), j.Prompt)
		assert.Equal(t, i, j.Index)
	}

	assert.Equal(t, models.RunStateComplete, waitSettled(t, c))
	st := c.Status()
	assert.NotEmpty(t, st.RunID)
	assert.Equal(t, 30, st.Counts.Completed)
	assert.Equal(t, 1.0, st.Progress)
	assert.Equal(t, 2, st.Images)
	require.NotNil(t, st.Scenario)
	assert.Equal(t, "T", st.Scenario.Title)
	for _, j := range c.Snapshot() {
		assert.Equal(t, models.JobStatusCompleted, j.Status)
		assert.NotNil(t, j.Artifact)
	}
}

func TestController_AnalysisFailure(t *testing.T) {
	c := newTestController(t, &fakeSynthesizer{err: errors.New("model overloaded")}, newFakeGenerator())

	err := c.Submit(context.Background(), refImages(1), "")
	require.Error(t, err)

	st := c.Status()
	assert.Equal(t, models.RunStateError, st.State)
	assert.Contains(t, st.Error, "model overloaded")
	assert.Zero(t, st.Counts.Total)
	assert.Nil(t, st.Scenario)

	n, err := c.RetryFailed()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.RunStateError, c.State())

	require.NoError(t, c.Reset())
	assert.Equal(t, models.RunStateIdle, c.State())
	assert.Empty(t, c.Status().Error)
}

func TestController_IntakeValidation(t *testing.T) {
	c := New(Options{
		Store:       store.NewMemoryJobStore(),
		Synthesizer: &fakeSynthesizer{shots: 1},
		Generator:   newFakeGenerator(),
		Limits:      IntakeLimits{MaxImages: 2, MaxImageBytes: 64},
	})
	t.Cleanup(c.Close)

	tests := []struct {
		name    string
		images  []models.ReferenceImage
		wantErr error
	}{
		{"none", nil, models.ErrNoImages},
		{"too many", refImages(3), models.ErrTooManyImages},
		{"not an image", []models.ReferenceImage{{Name: "notes.txt", Data: []byte("hello there")}}, models.ErrNotAnImage},
		{"too large", []models.ReferenceImage{{Name: "big.png", Data: append(append([]byte{}, pngBytes...), make([]byte, 64)...)}}, models.ErrImageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Intake(tt.images, "")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, models.RunStateIdle, c.State())
			assert.Zero(t, c.Status().Images)
		})
	}

	require.NoError(t, c.Intake([]models.ReferenceImage{{Name: "a.png", MIMEType: "text/plain", Data: pngBytes}}, ""))
	assert.Equal(t, 1, c.Status().Images)
}

func TestValidateMaterial_DetectsMIMEFromContent(t *testing.T) {
	m, err := ValidateMaterial([]models.ReferenceImage{
		{Name: "a", Data: pngBytes},
		{Data: []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")},
	}, " keep it warm ", IntakeLimits{})
	require.NoError(t, err)
	assert.Equal(t, "image/png", m.Images[0].MIMEType)
	assert.Equal(t, "image/jpeg", m.Images[1].MIMEType)
	assert.Equal(t, "image 2", m.Images[1].Name)
	assert.Equal(t, "keep it warm", m.Guidance)
}

func TestController_StartRequiresMaterialAndIdle(t *testing.T) {
	c := newTestController(t, &fakeSynthesizer{shots: 2}, newFakeGenerator())
	assert.ErrorIs(t, c.Start(context.Background()), models.ErrNoMaterial)

	require.NoError(t, c.Submit(context.Background(), refImages(1), ""))
	waitSettled(t, c)

	assert.ErrorIs(t, c.Start(context.Background()), models.ErrInvalidState)
	assert.ErrorIs(t, c.Intake(refImages(1), ""), models.ErrInvalidState, "uploads are rejected outside idle")
}

func TestController_RetryOneIsolation(t *testing.T) {
	gen := newFakeGenerator()
	gen.failOnce["p3"] = true
	c := newTestController(t, &fakeSynthesizer{shots: 30}, gen)

	require.NoError(t, c.Submit(context.Background(), refImages(1), ""))
	require.Equal(t, models.RunStateComplete, waitSettled(t, c))
	assert.Equal(t, store.Counts{Total: 30, Completed: 29, Failed: 1}, c.Status().Counts)

	failed := c.Snapshot()[3]
	require.Equal(t, models.JobStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "render failed")

	require.NoError(t, c.RetryJob(failed.ID))
	assert.Equal(t, models.RunStateComplete, waitSettled(t, c))

	for i, j := range c.Snapshot() {
		assert.Equal(t, models.JobStatusCompleted, j.Status, "job %d", i)
		if i == 3 {
			assert.Equal(t, 2, j.Attempts)
			assert.Empty(t, j.Error)
		} else {
			assert.Equal(t, 1, j.Attempts, "job %d must not be regenerated", i)
		}
	}
	assert.Equal(t, 2, gen.callsFor("p3"))
	assert.Equal(t, 1, gen.callsFor("p4"))
}

func TestController_RetryCompletedJob(t *testing.T) {
	gen := newFakeGenerator()
	c := newTestController(t, &fakeSynthesizer{shots: 3}, gen)
	require.NoError(t, c.Submit(context.Background(), refImages(1), ""))
	waitSettled(t, c)

	target := c.Snapshot()[0]
	require.NoError(t, c.RetryJob(target.ID))
	assert.Equal(t, models.RunStateComplete, waitSettled(t, c))

	j, err := c.Job(target.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, j.Attempts)
	assert.Equal(t, models.JobStatusCompleted, j.Status)
}

func TestController_RetryErrors(t *testing.T) {
	c := newTestController(t, &fakeSynthesizer{shots: 2}, newFakeGenerator())
	assert.ErrorIs(t, c.RetryJob("shot-0-1"), models.ErrInvalidState)
	_, err := c.RetryFailed()
	assert.ErrorIs(t, err, models.ErrInvalidState)

	require.NoError(t, c.Submit(context.Background(), refImages(1), ""))
	waitSettled(t, c)
	assert.ErrorIs(t, c.RetryJob("shot-99-1"), models.ErrJobNotFound)
	_, err = c.Job("shot-99-1")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestController_RetryFailed(t *testing.T) {
	gen := newFakeGenerator()
	gen.failOnce["p1"] = true
	gen.failOnce["p4"] = true
	c := newTestController(t, &fakeSynthesizer{shots: 6}, gen)

	require.NoError(t, c.Submit(context.Background(), refImages(1), ""))
	waitSettled(t, c)
	assert.Equal(t, 2, c.Status().Counts.Failed)

	n, err := c.RetryFailed()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, models.RunStateComplete, waitSettled(t, c))

	st := c.Status()
	assert.Equal(t, 6, st.Counts.Completed)
	for i, j := range c.Snapshot() {
		want := 1
		if i == 1 || i == 4 {
			want = 2
		}
		assert.Equal(t, want, j.Attempts, "job %d", i)
	}

	n, err = c.RetryFailed()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.RunStateComplete, c.State(), "nothing re-queued, state unchanged")
}

func TestController_ResetRefusedWhileGenerating(t *testing.T) {
	gen := newFakeGenerator()
	release := make(chan struct{})
	gen.block["p0"] = release
	c := newTestController(t, &fakeSynthesizer{shots: 2}, gen)

	require.NoError(t, c.Submit(context.Background(), refImages(1), ""))
	assert.Equal(t, models.RunStateGenerating, c.State())
	assert.ErrorIs(t, c.Reset(), models.ErrBusy)

	close(release)
	require.Equal(t, models.RunStateComplete, waitSettled(t, c))

	require.NoError(t, c.Reset())
	st := c.Status()
	assert.Equal(t, models.RunStateIdle, st.State)
	assert.Zero(t, st.Counts.Total)
	assert.Nil(t, st.Scenario)
	assert.Zero(t, st.Images)
	assert.Empty(t, st.RunID)
	assert.NoError(t, c.Reset(), "reset from idle is a no-op")

	// A fresh campaign can run after reset.
	require.NoError(t, c.Submit(context.Background(), refImages(1), ""))
	assert.Equal(t, models.RunStateComplete, waitSettled(t, c))
	assert.Equal(t, 2, c.Status().Counts.Completed)
}

func TestController_RetryWhileGenerating(t *testing.T) {
	gen := newFakeGenerator()
	release := make(chan struct{})
	gen.block["p1"] = release
	c := New(Options{
		Store:       store.NewMemoryJobStore(),
		Synthesizer: &fakeSynthesizer{shots: 2},
		Generator:   gen,
		Concurrency: 2,
	})
	t.Cleanup(c.Close)

	require.NoError(t, c.Submit(context.Background(), refImages(1), ""))
	require.Eventually(t, func() bool {
		return c.Snapshot()[0].Status == models.JobStatusCompleted
	}, time.Second, time.Millisecond)

	first := c.Snapshot()[0]
	require.NoError(t, c.RetryJob(first.ID))
	assert.Equal(t, models.RunStateGenerating, c.State())

	close(release)
	assert.Equal(t, models.RunStateComplete, waitSettled(t, c))
	j, err := c.Job(first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, j.Status)
	assert.Equal(t, 2, j.Attempts)
}

func TestController_WaitHonoursContext(t *testing.T) {
	gen := newFakeGenerator()
	release := make(chan struct{})
	gen.block["p0"] = release
	c := newTestController(t, &fakeSynthesizer{shots: 1}, gen)
	require.NoError(t, c.Submit(context.Background(), refImages(1), ""))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	state, err := c.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.RunStateGenerating, state)
	close(release)
}

func TestController_StartAsync(t *testing.T) {
	c := newTestController(t, &fakeSynthesizer{shots: 4}, newFakeGenerator())
	require.NoError(t, c.Intake(refImages(1), ""))

	require.NoError(t, c.StartAsync())
	assert.NotEqual(t, models.RunStateIdle, c.State(), "leaves idle before returning")
	assert.ErrorIs(t, c.StartAsync(), models.ErrInvalidState)

	assert.Equal(t, models.RunStateComplete, waitSettled(t, c))
	assert.Equal(t, 4, c.Status().Counts.Completed)
}

func TestController_StartAsyncFailureSurfacesInStatus(t *testing.T) {
	c := newTestController(t, &fakeSynthesizer{err: errors.New("bad gateway")}, newFakeGenerator())
	require.NoError(t, c.Intake(refImages(1), ""))
	require.NoError(t, c.StartAsync())

	assert.Equal(t, models.RunStateError, waitSettled(t, c))
	assert.Contains(t, c.Status().Error, "bad gateway")
}

func TestController_CloseLetsInFlightShotsSettle(t *testing.T) {
	gen := newFakeGenerator()
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		gen.block[fmt.Sprintf("p%d", i)] = release
	}
	c := New(Options{
		Store:       store.NewMemoryJobStore(),
		Synthesizer: &fakeSynthesizer{shots: 5},
		Generator:   gen,
		Concurrency: 3,
	})

	require.NoError(t, c.Submit(context.Background(), refImages(1), ""))
	require.Eventually(t, func() bool { return c.Status().Counts.Generating == 3 }, 2*time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the batch settled")
	}

	jobs := c.Snapshot()
	for _, j := range jobs[:3] {
		assert.Equal(t, models.JobStatusCompleted, j.Status, "in-flight job %d", j.Index)
		assert.Empty(t, j.Error)
	}
	for _, j := range jobs[3:] {
		assert.Equal(t, models.JobStatusPending, j.Status, "job %d is not started after Close", j.Index)
	}
}

func TestController_ConcurrentSubmitAsyncStartsOneCampaign(t *testing.T) {
	synth := &fakeSynthesizer{shots: 3}
	c := newTestController(t, synth, newFakeGenerator())

	guidance := []string{"first", "second"}
	errs := make([]error, len(guidance))
	var wg sync.WaitGroup
	for i, g := range guidance {
		wg.Add(1)
		go func(i int, g string) {
			defer wg.Done()
			errs[i] = c.SubmitAsync(refImages(i+1), g)
		}(i, g)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "only one submission may start")
			winner = i
			continue
		}
		assert.ErrorIs(t, err, models.ErrInvalidState)
	}
	require.NotEqual(t, -1, winner)

	assert.Equal(t, models.RunStateComplete, waitSettled(t, c))
	st := c.Status()
	assert.Equal(t, guidance[winner], st.Guidance)
	assert.Equal(t, winner+1, st.Images)
	assert.Equal(t, guidance[winner], synth.got)
}

func TestController_SubmitAsyncRejectsInvalidMaterial(t *testing.T) {
	c := newTestController(t, &fakeSynthesizer{shots: 3}, newFakeGenerator())

	err := c.SubmitAsync(nil, "")
	assert.ErrorIs(t, err, models.ErrNoImages)
	assert.Equal(t, models.RunStateIdle, c.State())
	assert.Empty(t, c.Status().RunID)
}
