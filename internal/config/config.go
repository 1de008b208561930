package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PricingInfo holds cost details for a specific model. Image models are billed
// per generated image, text models per token.
type PricingInfo struct {
	InputPerToken  float64 `mapstructure:"input_per_token"`
	OutputPerToken float64 `mapstructure:"output_per_token"`
	PerImage       float64 `mapstructure:"per_image"`
}

type Config struct {
	Campaign struct {
		ShotCount   int `mapstructure:"shot_count"`  // prompts requested from the scenario model
		Concurrency int `mapstructure:"concurrency"` // images generated per batch
	} `mapstructure:"campaign"`

	Intake struct {
		MaxImages     int   `mapstructure:"max_images"`
		MaxImageBytes int64 `mapstructure:"max_image_bytes"`
	} `mapstructure:"intake"`

	Generation struct {
		Provider        string        `mapstructure:"provider"` // "gemini", "openai" or "mock"
		ScenarioTimeout time.Duration `mapstructure:"scenario_timeout"`
		ImageTimeout    time.Duration `mapstructure:"image_timeout"`
		MaxRetries      int           `mapstructure:"max_retries"`
		BaseDelayMs     int64         `mapstructure:"base_delay_ms"`
		PromptTemplate  string        `mapstructure:"prompt_template"` // path to a scenario prompt template
	} `mapstructure:"generation"`

	Gemini struct {
		APIKey        string `mapstructure:"api_key"`
		ScenarioModel string `mapstructure:"scenario_model"`
		ImageModel    string `mapstructure:"image_model"`
	} `mapstructure:"gemini"`

	OpenAI struct {
		APIKey        string `mapstructure:"api_key"`
		ScenarioModel string `mapstructure:"scenario_model"`
		ImageModel    string `mapstructure:"image_model"`
		ImageSize     string `mapstructure:"image_size"`
	} `mapstructure:"openai"`

	Mock struct {
		FailEvery int           `mapstructure:"fail_every"` // fail every nth image call, 0 never
		Delay     time.Duration `mapstructure:"delay"`
	} `mapstructure:"mock"`

	Output struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"output"`

	Server struct {
		Addr string `mapstructure:"addr"`
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	// Pricing: map[provider][model] = PricingInfo
	Pricing map[string]map[string]PricingInfo `mapstructure:"pricing"`
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("campaign.shot_count", 30)
	v.SetDefault("campaign.concurrency", 3)

	v.SetDefault("intake.max_images", 10)
	v.SetDefault("intake.max_image_bytes", 5*1024*1024)

	v.SetDefault("generation.provider", "gemini")
	v.SetDefault("generation.scenario_timeout", 3*time.Minute)
	v.SetDefault("generation.image_timeout", 2*time.Minute)
	v.SetDefault("generation.max_retries", 2)
	v.SetDefault("generation.base_delay_ms", 500)

	v.SetDefault("gemini.scenario_model", "gemini-2.5-pro")
	v.SetDefault("gemini.image_model", "gemini-2.5-flash-image")

	v.SetDefault("openai.scenario_model", "gpt-4o")
	v.SetDefault("openai.image_model", "dall-e-3")
	v.SetDefault("openai.image_size", "1792x1024")

	v.SetDefault("output.dir", "campaign-output")
	v.SetDefault("server.addr", "localhost")
	v.SetDefault("server.port", "8080")
	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from the working directory (optional) and the
// environment. ADFORGE_GENERATION_PROVIDER style variables override file values;
// GEMINI_API_KEY and OPENAI_API_KEY are bound directly.
func LoadConfig() (*Config, error) {
	return load(viper.New(), ".")
}

// Defaults returns the built-in configuration with environment overrides but
// without reading any config file.
func Defaults() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper, paths ...string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	SetDefaults(v)

	// --- Environment Variable Binding ---
	v.SetEnvPrefix("ADFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("gemini.api_key", "ADFORGE_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	v.BindEnv("openai.api_key", "ADFORGE_OPENAI_API_KEY", "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env vars still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	return &config, nil
}
