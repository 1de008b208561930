package app

import (
	"context"
	"fmt"
	"time"

	"adforge/internal/campaign"
	"adforge/internal/config"
	"adforge/internal/costtracker"
	"adforge/internal/export"
	"adforge/internal/services"
	"adforge/internal/store"

	log "github.com/sirupsen/logrus"
)

// App holds the wired components shared by every command.
type App struct {
	Config      *config.Config
	CostTracker costtracker.CostTracker
	Client      services.GenerationClient
	Store       *store.MemoryJobStore
	Controller  *campaign.Controller
	Exporter    export.Writer
}

// Option customises NewApp.
type Option func(*options)

type options struct {
	client services.GenerationClient
}

// WithClient replaces the configured provider. The client is still wrapped
// with the configured retry policy.
func WithClient(c services.GenerationClient) Option {
	return func(o *options) {
		o.client = c
	}
}

// NewApp validates cfg and builds the application.
func NewApp(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &App{Config: cfg, CostTracker: costtracker.New()}

	if err := app.initClient(ctx, o.client); err != nil {
		return nil, err
	}
	app.initCampaign()

	log.Debug("Application initialization complete.")
	return app, nil
}

// --- Private Helper Methods ---

func (a *App) initClient(ctx context.Context, override services.GenerationClient) error {
	cfg := a.Config

	client := override
	if client == nil {
		var err error
		client, err = newProvider(ctx, cfg, a.CostTracker)
		if err != nil {
			return err
		}
	}
	if client.Status() != services.ProviderStatusActive {
		log.Warnf("Generation provider %q is not active; campaigns will fail until it is configured.", client.Name())
	}

	retry := &services.SimpleRetryStrategy{MaxAttempts: cfg.Generation.MaxRetries, BaseDelayMs: cfg.Generation.BaseDelayMs}
	a.Client = services.WithRetry(client, retry, cfg.Generation.ScenarioTimeout, cfg.Generation.ImageTimeout)
	return nil
}

func (a *App) initCampaign() {
	cfg := a.Config
	a.Store = store.NewMemoryJobStore()
	a.Controller = campaign.New(campaign.Options{
		Store:       a.Store,
		Synthesizer: a.Client,
		Generator:   a.Client,
		Concurrency: cfg.Campaign.Concurrency,
		Limits: campaign.IntakeLimits{
			MaxImages:     cfg.Intake.MaxImages,
			MaxImageBytes: cfg.Intake.MaxImageBytes,
		},
	})
}

// newProvider builds the configured generation provider.
func newProvider(ctx context.Context, cfg *config.Config, costs costtracker.CostTracker) (services.GenerationClient, error) {
	promptContent, err := config.LoadPromptContent(cfg.Generation.PromptTemplate)
	if err != nil {
		log.Warnf("Failed to load scenario prompt: %v. Falling back to the built-in prompt.", err)
		promptContent = ""
	}
	prompt, err := services.NewScenarioPrompt(promptContent, cfg.Campaign.ShotCount)
	if err != nil {
		return nil, fmt.Errorf("init scenario prompt: %w", err)
	}

	switch cfg.Generation.Provider {
	case "gemini":
		p, err := services.NewGeminiProvider(ctx, services.GeminiOptions{
			APIKey:        cfg.Gemini.APIKey,
			ScenarioModel: cfg.Gemini.ScenarioModel,
			ImageModel:    cfg.Gemini.ImageModel,
			Prompt:        prompt,
			Costs:         costs,
			Pricing:       cfg.Pricing["gemini"],
		})
		if err != nil {
			return nil, fmt.Errorf("init gemini provider: %w", err)
		}
		return p, nil
	case "openai":
		p, err := services.NewOpenAIProvider(services.OpenAIOptions{
			APIKey:        cfg.OpenAI.APIKey,
			ScenarioModel: cfg.OpenAI.ScenarioModel,
			ImageModel:    cfg.OpenAI.ImageModel,
			ImageSize:     cfg.OpenAI.ImageSize,
			Prompt:        prompt,
			Costs:         costs,
			Pricing:       cfg.Pricing["openai"],
		})
		if err != nil {
			return nil, fmt.Errorf("init openai provider: %w", err)
		}
		return p, nil
	case "mock":
		return services.NewMockProvider(prompt.Shots(), cfg.Mock.FailEvery, cfg.Mock.Delay), nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", cfg.Generation.Provider)
	}
}

// Close stops the queue and releases the provider.
func (a *App) Close() {
	shutdown := make(chan struct{})
	go func() {
		a.Controller.Close()
		close(shutdown)
	}()
	select {
	case <-shutdown:
	case <-time.After(a.Config.Generation.ImageTimeout + 5*time.Second):
		log.Warn("Timed out waiting for in-flight shots to settle")
	}
	if err := a.Client.Close(); err != nil {
		log.Errorf("Error closing generation client: %v", err)
	}
}
