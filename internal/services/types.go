package services

import (
	"context"
	"errors"

	"adforge/internal/models"
)

// ProviderStatus reports whether a provider can serve requests.
type ProviderStatus int

const (
	ProviderStatusUnknown  ProviderStatus = iota // Default zero value
	ProviderStatusActive                         // Provider is operational
	ProviderStatusDisabled                       // Provider is not configured
)

var (
	ErrProviderDisabled = errors.New("generation provider is not initialized (missing API key)")
	ErrModelNotFound    = errors.New("model not found or not available for this key")
	ErrDecode           = errors.New("could not decode model response")
	ErrScenarioShape    = errors.New("scenario does not have the expected shape")
	ErrNoImageData      = errors.New("response contains no image data")
)

// ScenarioSynthesizer turns reference images and guidance into a campaign scenario.
type ScenarioSynthesizer interface {
	SynthesizeScenario(ctx context.Context, images []models.ReferenceImage, guidance string) (*models.Scenario, error)
}

// ImageSynthesizer renders a single shot prompt.
type ImageSynthesizer interface {
	SynthesizeImage(ctx context.Context, prompt string) (*models.Artifact, error)
}

// GenerationClient is the remote generative model as seen by the campaign.
type GenerationClient interface {
	ScenarioSynthesizer
	ImageSynthesizer
	Name() string
	Status() ProviderStatus
	Close() error
}

// RetryStrategy decides how long to wait before the next attempt.
type RetryStrategy interface {
	NextBackoff(attempt int) int64 // ms, negative to stop
}

// SimpleRetryStrategy provides basic exponential backoff.
type SimpleRetryStrategy struct {
	MaxAttempts int
	BaseDelayMs int64
}

// NextBackoff calculates the next backoff duration in milliseconds.
func (s *SimpleRetryStrategy) NextBackoff(attempt int) int64 {
	if s.MaxAttempts <= 0 { // If MaxAttempts is 0 or negative, don't retry
		return -1
	}
	if attempt >= s.MaxAttempts {
		return -1 // Stop retrying
	}
	// Simple exponential backoff: BaseDelay * 2^attempt, capped at 30 seconds
	backoff := s.BaseDelayMs * (1 << attempt)
	maxDelay := int64(30000)
	if backoff > maxDelay {
		backoff = maxDelay
	}
	return backoff
}
