package services

import (
	"fmt"
	"strings"
	"text/template"
)

// DefaultGuidance is used when the user leaves the campaign vision empty.
const DefaultGuidance = "Build a scenario with depth, where the emotions of the people shown in the images come alive."

const defaultScenarioTemplate = `You are a world-class creative director specialising in emotional storytelling and precise cinematic mise-en-scene.

User guidance: "{{.Guidance}}"

1. Deep analysis: understand the essence of the product in the uploaded images and find the fundamental human emotion it can convey.

2. Emotional arc: the {{.Shots}} images are not a list of ad visuals. Together they form one short film with a beginning, development, turn and resolution,
   for example: everyday lack or boredom -> chance discovery -> first encounter with the product -> immersion -> inner change -> afterglow.

3. Write {{.Shots}} cinematic sequence prompts (most important):
   - Continuity: every prompt follows visually and emotionally from the previous one. Avoid abrupt jumps.
   - Micro-expressions: prefer "a faint smile spreading at the corner of the mouth" over "smiling"; describe trembling fingertips, welling eyes.
   - Direction: extreme close-ups (eyes, lips, hands), dreamy shallow focus, chiaroscuro lighting, first-person framing.
   - Describe lighting, texture and lens effects concretely so an image model can render a high resolution cinematic frame.

Goal: someone looking at the {{.Shots}} images in order should feel the character's emotional journey and the product's value without any dialogue.

Respond with JSON only, using exactly these fields: title, concept, targetAudience, marketingHook, imagePrompts (an array of exactly {{.Shots}} strings).`

// ScenarioPrompt renders the instruction sent with the reference images.
type ScenarioPrompt struct {
	tmpl  *template.Template
	shots int
}

// NewScenarioPrompt parses templateText, falling back to the built-in template
// when it is blank. The template sees .Guidance and .Shots.
func NewScenarioPrompt(templateText string, shots int) (*ScenarioPrompt, error) {
	if strings.TrimSpace(templateText) == "" {
		templateText = defaultScenarioTemplate
	}
	tmpl, err := template.New("scenario").Option("missingkey=error").Parse(templateText)
	if err != nil {
		return nil, fmt.Errorf("parse scenario prompt template: %w", err)
	}
	return &ScenarioPrompt{tmpl: tmpl, shots: shots}, nil
}

// Shots is the number of prompts the scenario must contain.
func (p *ScenarioPrompt) Shots() int { return p.shots }

// Render produces the prompt text for the given guidance.
func (p *ScenarioPrompt) Render(guidance string) (string, error) {
	guidance = strings.TrimSpace(guidance)
	if guidance == "" {
		guidance = DefaultGuidance
	}
	var b strings.Builder
	err := p.tmpl.Execute(&b, struct {
		Guidance string
		Shots    int
	}{Guidance: guidance, Shots: p.shots})
	if err != nil {
		return "", fmt.Errorf("render scenario prompt: %w", err)
	}
	return b.String(), nil
}
