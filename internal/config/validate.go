package config

import (
	"errors"
	"fmt"
)

// Validate checks the fields each enabled feature depends on.
func (c *Config) Validate() error {
	// Campaign
	if c.Campaign.ShotCount <= 0 {
		return errors.New("campaign.shot_count must be a positive integer")
	}
	if c.Campaign.Concurrency <= 0 {
		return errors.New("campaign.concurrency must be a positive integer")
	}

	// Intake
	if c.Intake.MaxImages <= 0 {
		return errors.New("intake.max_images must be a positive integer")
	}
	if c.Intake.MaxImageBytes <= 0 {
		return errors.New("intake.max_image_bytes must be positive")
	}

	// Generation
	if c.Generation.ScenarioTimeout <= 0 || c.Generation.ImageTimeout <= 0 {
		return errors.New("generation timeouts must be positive")
	}
	if c.Generation.MaxRetries < 0 {
		return errors.New("generation.max_retries must not be negative")
	}

	switch c.Generation.Provider {
	case "gemini":
		if c.Gemini.APIKey == "" {
			return errors.New("gemini.api_key (or GEMINI_API_KEY) is required when generation.provider is gemini")
		}
		if c.Gemini.ScenarioModel == "" || c.Gemini.ImageModel == "" {
			return errors.New("gemini.scenario_model and gemini.image_model are required")
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			return errors.New("openai.api_key (or OPENAI_API_KEY) is required when generation.provider is openai")
		}
		if c.OpenAI.ScenarioModel == "" || c.OpenAI.ImageModel == "" {
			return errors.New("openai.scenario_model and openai.image_model are required")
		}
	case "mock":
		if c.Mock.FailEvery < 0 {
			return errors.New("mock.fail_every must not be negative")
		}
	default:
		return fmt.Errorf("unknown generation.provider %q (want gemini, openai or mock)", c.Generation.Provider)
	}

	// Pricing (optional, but if present, must be valid)
	for provider, models := range c.Pricing {
		for model, price := range models {
			if price.InputPerToken < 0 || price.OutputPerToken < 0 || price.PerImage < 0 {
				return fmt.Errorf("pricing for provider '%s', model '%s' has a negative cost", provider, model)
			}
		}
	}

	return nil
}
