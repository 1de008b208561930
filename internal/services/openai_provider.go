package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"adforge/internal/config"
	"adforge/internal/costtracker"
	"adforge/internal/models"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

// openAIAPI defines the minimal interface of *openai.Client used here.
type openAIAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error)
}

// OpenAIProvider implements GenerationClient using a vision chat model for the
// scenario and the images endpoint for shots.
type OpenAIProvider struct {
	client        openAIAPI
	scenarioModel string
	imageModel    string
	imageSize     string
	prompt        *ScenarioPrompt
	costs         costtracker.CostTracker
	pricing       map[string]config.PricingInfo
}

// OpenAIOptions configures NewOpenAIProvider.
type OpenAIOptions struct {
	APIKey        string
	ScenarioModel string
	ImageModel    string
	ImageSize     string
	Prompt        *ScenarioPrompt
	Costs         costtracker.CostTracker
	Pricing       map[string]config.PricingInfo
}

// NewOpenAIProvider creates an OpenAI backed generation client. A missing API
// key yields a disabled provider.
func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	if opts.Prompt == nil {
		return nil, errors.New("openai provider requires a scenario prompt")
	}
	p := &OpenAIProvider{
		scenarioModel: opts.ScenarioModel,
		imageModel:    opts.ImageModel,
		imageSize:     opts.ImageSize,
		prompt:        opts.Prompt,
		costs:         opts.Costs,
		pricing:       opts.Pricing,
	}
	if opts.APIKey == "" {
		log.Warn("OpenAI API key not provided. OpenAI provider will be disabled.")
		return p, nil
	}
	p.client = openai.NewClient(opts.APIKey)
	log.Infof("OpenAI provider initialized (scenario model %s, image model %s)", opts.ScenarioModel, opts.ImageModel)
	return p, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) SynthesizeScenario(ctx context.Context, images []models.ReferenceImage, guidance string) (*models.Scenario, error) {
	if p.client == nil {
		return nil, ErrProviderDisabled
	}
	text, err := p.prompt.Render(guidance)
	if err != nil {
		return nil, err
	}

	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(img.MIMEType, img.Data),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          p.scenarioModel,
		Messages:       []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, MultiContent: parts}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	p.record(ctx, costtracker.CostEvent{
		Operation:    "scenario",
		Model:        p.scenarioModel,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Failed:       err != nil,
	})
	if err != nil {
		return nil, p.wrapError(p.scenarioModel, err)
	}

	raw, err := openAIResponseText(resp)
	if err != nil {
		return nil, err
	}
	return DecodeScenario(raw, p.prompt.Shots())
}

func (p *OpenAIProvider) SynthesizeImage(ctx context.Context, prompt string) (*models.Artifact, error) {
	if p.client == nil {
		return nil, ErrProviderDisabled
	}
	resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          p.imageModel,
		N:              1,
		Size:           p.imageSize,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	ev := costtracker.CostEvent{Operation: "image", Model: p.imageModel, Failed: err != nil}
	if err == nil {
		ev.Images = len(resp.Data)
	}
	p.record(ctx, ev)
	if err != nil {
		return nil, p.wrapError(p.imageModel, err)
	}

	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, ErrNoImageData
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 payload: %v", ErrNoImageData, err)
	}
	return imageArtifact(http.DetectContentType(data), data)
}

// Status returns the operational status of the provider.
func (p *OpenAIProvider) Status() ProviderStatus {
	if p.client == nil {
		return ProviderStatusDisabled
	}
	return ProviderStatusActive
}

// Close is a no-op; the OpenAI client holds no long lived resources.
func (p *OpenAIProvider) Close() error { return nil }

func (p *OpenAIProvider) wrapError(model string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s: %v", ErrModelNotFound, model, err)
	}
	return fmt.Errorf("OpenAI API error (%s): %w", model, err)
}

func (p *OpenAIProvider) record(ctx context.Context, ev costtracker.CostEvent) {
	if p.costs == nil {
		return
	}
	ev.Timestamp = time.Now()
	ev.Provider = p.Name()
	if price, ok := p.pricing[ev.Model]; ok {
		ev.AmountUSD = float64(ev.InputTokens)*price.InputPerToken +
			float64(ev.OutputTokens)*price.OutputPerToken +
			float64(ev.Images)*price.PerImage
	}
	if err := p.costs.RecordCost(ctx, ev); err != nil {
		log.Errorf("Failed to record AI usage for %s: %v", ev.Operation, err)
	}
}

// openAIResponseText reads the first choice's content, falling back to its
// text parts.
func openAIResponseText(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrDecode)
	}
	msg := resp.Choices[0].Message
	if msg.Content != "" {
		return msg.Content, nil
	}
	var b strings.Builder
	for _, part := range msg.MultiContent {
		if part.Type == openai.ChatMessagePartTypeText {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: no text in response", ErrDecode)
	}
	return b.String(), nil
}

func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

var _ GenerationClient = (*OpenAIProvider)(nil)
