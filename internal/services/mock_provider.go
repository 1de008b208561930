package services

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync/atomic"
	"time"

	"adforge/internal/models"
)

// MockProvider is a deterministic offline GenerationClient. It builds a
// scenario from the guidance and renders solid colour PNG frames derived from
// each prompt. FailEvery > 0 makes every FailEvery-th image call fail.
type MockProvider struct {
	Shots     int
	FailEvery int
	Delay     time.Duration

	calls atomic.Int64
}

// NewMockProvider creates a mock provider producing shots prompts.
func NewMockProvider(shots, failEvery int, delay time.Duration) *MockProvider {
	return &MockProvider{Shots: shots, FailEvery: failEvery, Delay: delay}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Status() ProviderStatus { return ProviderStatusActive }

func (m *MockProvider) Close() error { return nil }

func (m *MockProvider) SynthesizeScenario(ctx context.Context, images []models.ReferenceImage, guidance string) (*models.Scenario, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	guidance = strings.TrimSpace(guidance)
	if guidance == "" {
		guidance = DefaultGuidance
	}
	prompts := make([]string, m.Shots)
	for i := range prompts {
		prompts[i] = fmt.Sprintf("Shot %02d of %d: cinematic frame, %s", i+1, m.Shots, guidance)
	}
	return &models.Scenario{
		Title:          "Offline Campaign",
		Concept:        fmt.Sprintf("A %d shot short film built from %d reference images.", m.Shots, len(images)),
		TargetAudience: "Everyone testing the pipeline",
		MarketingHook:  "Rendered without a network.",
		ImagePrompts:   prompts,
	}, nil
}

func (m *MockProvider) SynthesizeImage(ctx context.Context, prompt string) (*models.Artifact, error) {
	n := m.calls.Add(1)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.FailEvery > 0 && n%int64(m.FailEvery) == 0 {
		return nil, fmt.Errorf("mock: simulated failure on call %d", n)
	}
	data, err := solidPNG(prompt)
	if err != nil {
		return nil, err
	}
	return &models.Artifact{MIMEType: "image/png", Data: data}, nil
}

// Calls returns the number of image calls made so far.
func (m *MockProvider) Calls() int64 { return m.calls.Load() }

func (m *MockProvider) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func solidPNG(prompt string) ([]byte, error) {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	sum := h.Sum32()
	c := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, 64, 36))
	for y := 0; y < 36; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("mock: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

var _ GenerationClient = (*MockProvider)(nil)
