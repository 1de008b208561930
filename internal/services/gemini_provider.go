package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"adforge/internal/config"
	"adforge/internal/costtracker"
	"adforge/internal/models"

	"github.com/google/generative-ai-go/genai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// contentGenerator is the part of *genai.GenerativeModel the provider uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiProvider implements GenerationClient using the Google Gemini API: a
// text model with a JSON response schema for scenarios and an image model
// returning inline image blobs.
type GeminiProvider struct {
	client        *genai.Client
	scenario      contentGenerator
	image         contentGenerator
	scenarioModel string
	imageModel    string
	prompt        *ScenarioPrompt
	costs         costtracker.CostTracker
	pricing       map[string]config.PricingInfo
}

// GeminiOptions configures NewGeminiProvider.
type GeminiOptions struct {
	APIKey        string
	ScenarioModel string
	ImageModel    string
	Prompt        *ScenarioPrompt
	Costs         costtracker.CostTracker
	Pricing       map[string]config.PricingInfo
}

// NewGeminiProvider creates a Gemini backed generation client. A missing API
// key yields a disabled provider rather than an error.
func NewGeminiProvider(ctx context.Context, opts GeminiOptions) (*GeminiProvider, error) {
	if opts.Prompt == nil {
		return nil, errors.New("gemini provider requires a scenario prompt")
	}
	p := &GeminiProvider{
		scenarioModel: opts.ScenarioModel,
		imageModel:    opts.ImageModel,
		prompt:        opts.Prompt,
		costs:         opts.Costs,
		pricing:       opts.Pricing,
	}
	if opts.APIKey == "" {
		log.Warn("Gemini API key not provided. Gemini provider will be disabled.")
		return p, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	scenario := client.GenerativeModel(opts.ScenarioModel)
	scenario.ResponseMIMEType = "application/json"
	scenario.ResponseSchema = scenarioSchema()

	p.client = client
	p.scenario = scenario
	p.image = client.GenerativeModel(opts.ImageModel)

	log.Infof("Gemini provider initialized (scenario model %s, image model %s)", opts.ScenarioModel, opts.ImageModel)
	return p, nil
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string { return "gemini" }

// SynthesizeScenario sends the reference images plus the rendered instruction
// and decodes the JSON scenario from the response.
func (p *GeminiProvider) SynthesizeScenario(ctx context.Context, images []models.ReferenceImage, guidance string) (*models.Scenario, error) {
	if p.scenario == nil {
		return nil, ErrProviderDisabled
	}
	text, err := p.prompt.Render(guidance)
	if err != nil {
		return nil, err
	}

	parts := make([]genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, genai.Blob{MIMEType: img.MIMEType, Data: img.Data})
	}
	parts = append(parts, genai.Text(text))

	resp, err := p.scenario.GenerateContent(ctx, parts...)
	p.recordUsage(ctx, "scenario", p.scenarioModel, resp, err)
	if err != nil {
		return nil, p.wrapError(p.scenarioModel, err)
	}

	raw, err := geminiResponseText(resp)
	if err != nil {
		return nil, err
	}
	return DecodeScenario(raw, p.prompt.Shots())
}

// SynthesizeImage renders one prompt with the image model.
func (p *GeminiProvider) SynthesizeImage(ctx context.Context, prompt string) (*models.Artifact, error) {
	if p.image == nil {
		return nil, ErrProviderDisabled
	}
	resp, err := p.image.GenerateContent(ctx, genai.Text(prompt))
	p.recordUsage(ctx, "image", p.imageModel, resp, err)
	if err != nil {
		return nil, p.wrapError(p.imageModel, err)
	}
	return geminiResponseImage(resp)
}

// Status returns the operational status of the provider.
func (p *GeminiProvider) Status() ProviderStatus {
	if p.scenario == nil || p.image == nil {
		return ProviderStatusDisabled
	}
	return ProviderStatusActive
}

// Close cleans up the Gemini client resources.
func (p *GeminiProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func (p *GeminiProvider) wrapError(model string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s: %v", ErrModelNotFound, model, err)
	}
	return fmt.Errorf("Gemini API error (%s): %w", model, err)
}

func (p *GeminiProvider) recordUsage(ctx context.Context, op, model string, resp *genai.GenerateContentResponse, callErr error) {
	if p.costs == nil {
		return
	}
	ev := costtracker.CostEvent{
		Timestamp: time.Now(),
		Operation: op,
		Provider:  p.Name(),
		Model:     model,
		Failed:    callErr != nil,
	}
	if resp != nil && resp.UsageMetadata != nil {
		ev.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		ev.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if callErr == nil && op == "image" {
		ev.Images = 1
	}
	if price, ok := p.pricing[model]; ok {
		ev.AmountUSD = float64(ev.InputTokens)*price.InputPerToken +
			float64(ev.OutputTokens)*price.OutputPerToken +
			float64(ev.Images)*price.PerImage
	}
	if err := p.costs.RecordCost(ctx, ev); err != nil {
		log.Errorf("Failed to record AI usage for %s: %v", op, err)
	}
}

// geminiResponseText concatenates the text parts of the first candidate that
// has content.
func geminiResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", ErrDecode)
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var b strings.Builder
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			return b.String(), nil
		}
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return "", fmt.Errorf("%w: prompt blocked (%s)", ErrDecode, resp.PromptFeedback.BlockReason)
	}
	return "", fmt.Errorf("%w: no text in response", ErrDecode)
}

// geminiResponseImage returns the first inline image blob of any candidate.
func geminiResponseImage(resp *genai.GenerateContentResponse) (*models.Artifact, error) {
	if resp == nil {
		return nil, ErrNoImageData
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if blob, ok := part.(genai.Blob); ok && strings.HasPrefix(blob.MIMEType, "image/") {
				return imageArtifact(blob.MIMEType, blob.Data)
			}
		}
	}
	return nil, ErrNoImageData
}

func scenarioSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":          {Type: genai.TypeString, Description: "Eye-catching title of the ad campaign."},
			"concept":        {Type: genai.TypeString, Description: "Detailed description of the ad concept and its emotional line."},
			"targetAudience": {Type: genai.TypeString, Description: "Primary target audience."},
			"marketingHook":  {Type: genai.TypeString, Description: "Main marketing hook or slogan."},
			"imagePrompts": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "Continuous, cinematic and emotional image prompts, one per shot.",
			},
		},
		Required: []string{"title", "concept", "targetAudience", "marketingHook", "imagePrompts"},
	}
}

var _ GenerationClient = (*GeminiProvider)(nil)
