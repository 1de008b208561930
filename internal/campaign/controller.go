package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"adforge/internal/models"
	"adforge/internal/queue"
	"adforge/internal/services"
	"adforge/internal/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Options configures a Controller.
type Options struct {
	Store       store.JobStore
	Synthesizer services.ScenarioSynthesizer
	Generator   services.ImageSynthesizer
	Concurrency int
	Limits      IntakeLimits
	OnBatch     queue.BatchObserver
}

// Status is a point-in-time view of the campaign.
type Status struct {
	RunID    string           `json:"runId,omitempty"`
	State    models.RunState  `json:"state"`
	Error    string           `json:"error,omitempty"`
	Scenario *models.Scenario `json:"scenario,omitempty"`
	Counts   store.Counts     `json:"counts"`
	Progress float64          `json:"progress"`
	Images   int              `json:"referenceImages"`
	Guidance string           `json:"guidance,omitempty"`
}

// Controller owns the single campaign of the process: its run state, the
// accepted material, the scenario and the job queue.
//
//	idle -> analyzing -> generating -> complete
//	             \-> error            ^    |
//	                      retry ------+----/
//
// Reset returns complete and error to idle.
type Controller struct {
	mu       sync.Mutex
	state    models.RunState
	lastErr  string
	runID    string
	scenario *models.Scenario
	material *models.Material
	changed  chan struct{}

	store       store.JobStore
	synthesizer services.ScenarioSynthesizer
	scheduler   *queue.Scheduler
	limits      IntakeLimits
	now         func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an idle controller. The store is expected to be empty.
func New(opts Options) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		state:       models.RunStateIdle,
		changed:     make(chan struct{}),
		store:       opts.Store,
		synthesizer: opts.Synthesizer,
		limits:      opts.Limits.withDefaults(),
		now:         time.Now,
		baseCtx:     ctx,
		cancel:      cancel,
	}
	schedOpts := []queue.Option{queue.WithDrainedHook(c.onDrained)}
	if opts.OnBatch != nil {
		schedOpts = append(schedOpts, queue.WithBatchObserver(opts.OnBatch))
	}
	c.scheduler = queue.New(opts.Store, opts.Generator, opts.Concurrency, schedOpts...)
	return c
}

// Intake validates and stores the reference material. It is only accepted
// while idle; a rejection leaves the controller unchanged.
func (c *Controller) Intake(images []models.ReferenceImage, guidance string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intakeLocked(images, guidance)
}

func (c *Controller) intakeLocked(images []models.ReferenceImage, guidance string) error {
	if c.state != models.RunStateIdle {
		return fmt.Errorf("%w: uploads are only accepted while idle (state %s)", models.ErrInvalidState, c.state)
	}
	material, err := ValidateMaterial(images, guidance, c.limits)
	if err != nil {
		return err
	}
	c.material = &material
	log.Infof("Accepted %d reference image(s)", len(material.Images))
	return nil
}

// Start analyzes the accepted material and, on success, seeds the queue and
// starts generating. It blocks for the duration of the analysis and returns
// its error, which also moves the controller to the error state.
func (c *Controller) Start(ctx context.Context) error {
	material, logger, err := c.begin()
	if err != nil {
		return err
	}
	return c.analyze(ctx, material, logger)
}

// StartAsync moves to analyzing like Start but runs the analysis in the
// background. Only the state check is reported; analysis failures surface
// through Status.
func (c *Controller) StartAsync() error {
	material, logger, err := c.begin()
	if err != nil {
		return err
	}
	c.analyzeAsync(material, logger)
	return nil
}

// SubmitAsync is Intake followed by StartAsync under a single lock, so
// concurrent submissions cannot start a campaign with each other's material.
func (c *Controller) SubmitAsync(images []models.ReferenceImage, guidance string) error {
	c.mu.Lock()
	err := c.intakeLocked(images, guidance)
	var material models.Material
	var logger *log.Entry
	if err == nil {
		material, logger, err = c.beginLocked()
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.analyzeAsync(material, logger)
	return nil
}

func (c *Controller) analyzeAsync(material models.Material, logger *log.Entry) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.analyze(c.baseCtx, material, logger)
	}()
}

func (c *Controller) begin() (models.Material, *log.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beginLocked()
}

func (c *Controller) beginLocked() (models.Material, *log.Entry, error) {
	if c.state != models.RunStateIdle {
		return models.Material{}, nil, fmt.Errorf("%w: cannot start from state %s", models.ErrInvalidState, c.state)
	}
	if c.material == nil {
		return models.Material{}, nil, models.ErrNoMaterial
	}
	c.runID = uuid.NewString()
	c.setStateLocked(models.RunStateAnalyzing, "")

	logger := log.WithField("run_id", c.runID)
	logger.Infof("Analyzing %d reference image(s)", len(c.material.Images))
	return *c.material, logger, nil
}

func (c *Controller) analyze(ctx context.Context, material models.Material, logger *log.Entry) error {
	sc, err := c.synthesizer.SynthesizeScenario(ctx, material.Images, material.Guidance)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		logger.Errorf("Scenario synthesis failed: %v", err)
		c.setStateLocked(models.RunStateError, fmt.Sprintf("scenario synthesis failed: %v", err))
		return err
	}

	c.store.Clear()
	if _, err := c.store.Seed(sc.ImagePrompts, c.now()); err != nil {
		logger.Errorf("Could not seed jobs: %v", err)
		c.setStateLocked(models.RunStateError, fmt.Sprintf("could not queue shots: %v", err))
		return err
	}
	c.scenario = sc
	logger.Infof("Scenario %q ready, generating %d shots", sc.Title, len(sc.ImagePrompts))

	c.setStateLocked(models.RunStateGenerating, "")
	c.scheduler.Trigger(c.baseCtx)
	return nil
}

// Submit is Intake followed by Start.
func (c *Controller) Submit(ctx context.Context, images []models.ReferenceImage, guidance string) error {
	if err := c.Intake(images, guidance); err != nil {
		return err
	}
	return c.Start(ctx)
}

// RetryJob re-queues one failed or completed job. Retrying a job that is
// pending or generating is a no-op.
func (c *Controller) RetryJob(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkRetryableLocked(); err != nil {
		return err
	}
	if _, err := c.store.Get(id); err != nil {
		return fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
	}
	if !c.store.ApplyTransition(id, []models.JobStatus{models.JobStatusFailed, models.JobStatusCompleted}, models.JobStatusPending, store.Patch{}) {
		return nil
	}
	log.WithFields(log.Fields{"run_id": c.runID, "job_id": id}).Info("Job re-queued")
	c.rearmLocked()
	return nil
}

// RetryFailed re-queues every failed job and returns how many were re-queued.
// Completed jobs are left alone.
func (c *Controller) RetryFailed() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkRetryableLocked(); err != nil {
		return 0, err
	}
	n := 0
	for _, j := range c.store.Snapshot() {
		if j.Status != models.JobStatusFailed {
			continue
		}
		if c.store.ApplyTransition(j.ID, []models.JobStatus{models.JobStatusFailed}, models.JobStatusPending, store.Patch{}) {
			n++
		}
	}
	if n > 0 {
		log.WithField("run_id", c.runID).Infof("Re-queued %d failed job(s)", n)
		c.rearmLocked()
	}
	return n, nil
}

// Reset discards the campaign and returns to idle. It is refused while a
// remote call is in progress.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case models.RunStateIdle:
		return nil
	case models.RunStateAnalyzing, models.RunStateGenerating:
		return fmt.Errorf("%w: cannot reset while %s", models.ErrBusy, c.state)
	}
	c.store.Clear()
	c.scenario = nil
	c.material = nil
	c.runID = ""
	c.setStateLocked(models.RunStateIdle, "")
	return nil
}

// Status returns the current campaign status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := c.store.Counts()
	st := Status{
		RunID:    c.runID,
		State:    c.state,
		Error:    c.lastErr,
		Scenario: c.scenario,
		Counts:   counts,
		Progress: counts.Progress(),
	}
	if c.material != nil {
		st.Images = len(c.material.Images)
		st.Guidance = c.material.Guidance
	}
	return st
}

// Limits returns the intake limits with defaults applied.
func (c *Controller) Limits() IntakeLimits {
	return c.limits
}

// State returns the current run state.
func (c *Controller) State() models.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the ordered jobs.
func (c *Controller) Snapshot() []models.Job {
	return c.store.Snapshot()
}

// Job returns a single job by ID.
func (c *Controller) Job(id string) (models.Job, error) {
	j, err := c.store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Job{}, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
	}
	return j, err
}

// Wait blocks until the controller is neither analyzing nor generating, or ctx
// is done. It returns the state it observed last.
func (c *Controller) Wait(ctx context.Context) (models.RunState, error) {
	for {
		c.mu.Lock()
		state, ch := c.state, c.changed
		c.mu.Unlock()

		if !state.IsBusy() {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-ch:
		}
	}
}

// Close cancels background analysis, stops the queue from starting new
// batches and waits for the current one to settle.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
	c.scheduler.Wait()
}

// onDrained runs when the scheduler finds nothing pending.
func (c *Controller) onDrained() {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := c.store.Counts()
	if c.state != models.RunStateGenerating || !counts.Settled() {
		return
	}
	log.WithField("run_id", c.runID).Infof("Campaign finished: %d completed, %d failed", counts.Completed, counts.Failed)
	c.setStateLocked(models.RunStateComplete, "")
}

func (c *Controller) checkRetryableLocked() error {
	switch c.state {
	case models.RunStateGenerating, models.RunStateComplete, models.RunStateError:
		return nil
	}
	return fmt.Errorf("%w: cannot retry while %s", models.ErrInvalidState, c.state)
}

func (c *Controller) rearmLocked() {
	if c.state != models.RunStateGenerating {
		c.setStateLocked(models.RunStateGenerating, "")
	}
	c.scheduler.Trigger(c.baseCtx)
}

func (c *Controller) setStateLocked(s models.RunState, errMsg string) {
	if c.state == s && c.lastErr == errMsg {
		return
	}
	log.WithFields(log.Fields{"run_id": c.runID, "from": c.state, "to": s}).Debug("Run state changed")
	c.state = s
	c.lastErr = errMsg
	close(c.changed)
	c.changed = make(chan struct{})
}
