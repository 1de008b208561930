package services

import (
	"context"
	"errors"
	"time"

	"adforge/internal/models"

	log "github.com/sirupsen/logrus"
)

// ResilientClient adds per-call timeouts and backoff retries to a
// GenerationClient. Callers still see a single call that succeeds or fails.
type ResilientClient struct {
	GenerationClient
	strategy        RetryStrategy
	scenarioTimeout time.Duration
	imageTimeout    time.Duration
	sleep           func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps c. A nil strategy disables retries; zero timeouts disable the
// per-call deadline.
func WithRetry(c GenerationClient, strategy RetryStrategy, scenarioTimeout, imageTimeout time.Duration) *ResilientClient {
	return &ResilientClient{
		GenerationClient: c,
		strategy:         strategy,
		scenarioTimeout:  scenarioTimeout,
		imageTimeout:     imageTimeout,
		sleep:            sleepCtx,
	}
}

func (r *ResilientClient) SynthesizeScenario(ctx context.Context, images []models.ReferenceImage, guidance string) (*models.Scenario, error) {
	var sc *models.Scenario
	err := r.do(ctx, "scenario", r.scenarioTimeout, func(callCtx context.Context) error {
		var err error
		sc, err = r.GenerationClient.SynthesizeScenario(callCtx, images, guidance)
		return err
	})
	return sc, err
}

func (r *ResilientClient) SynthesizeImage(ctx context.Context, prompt string) (*models.Artifact, error) {
	var art *models.Artifact
	err := r.do(ctx, "image", r.imageTimeout, func(callCtx context.Context) error {
		var err error
		art, err = r.GenerationClient.SynthesizeImage(callCtx, prompt)
		return err
	})
	return art, err
}

func (r *ResilientClient) do(ctx context.Context, op string, timeout time.Duration, call func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := call(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) || r.strategy == nil {
			return err
		}
		backoff := r.strategy.NextBackoff(attempt)
		if backoff < 0 {
			return err
		}
		log.WithFields(log.Fields{"op": op, "attempt": attempt + 1, "backoff_ms": backoff}).
			Warnf("Generation call failed, retrying: %v", err)
		if err := r.sleep(ctx, time.Duration(backoff)*time.Millisecond); err != nil {
			return err
		}
	}
}

// retryable reports whether another attempt could plausibly succeed.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrProviderDisabled), errors.Is(err, ErrModelNotFound), errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
