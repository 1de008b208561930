package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"adforge/internal/models"
)

// DecodeScenario parses the model's text into a Scenario. It tries, in order,
// the raw text as JSON and then the body of a ```json fenced block. Anything
// else is ErrDecode; a parsed scenario that is incomplete is ErrScenarioShape.
func DecodeScenario(raw string, shots int) (*models.Scenario, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty response text", ErrDecode)
	}

	candidates := []string{raw}
	if fenced, ok := fencedBody(raw); ok {
		candidates = append(candidates, fenced)
	}

	var lastErr error
	for _, c := range candidates {
		var sc models.Scenario
		// Unmarshal rejects trailing text after the object.
		if err := json.Unmarshal([]byte(c), &sc); err != nil {
			lastErr = err
			continue
		}
		if err := ValidateScenario(&sc, shots); err != nil {
			return nil, err
		}
		return &sc, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrDecode, lastErr)
}

// ValidateScenario checks every field is present and that exactly shots
// non-empty prompts were returned.
func ValidateScenario(sc *models.Scenario, shots int) error {
	var missing []string
	if strings.TrimSpace(sc.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(sc.Concept) == "" {
		missing = append(missing, "concept")
	}
	if strings.TrimSpace(sc.TargetAudience) == "" {
		missing = append(missing, "targetAudience")
	}
	if strings.TrimSpace(sc.MarketingHook) == "" {
		missing = append(missing, "marketingHook")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrScenarioShape, strings.Join(missing, ", "))
	}
	if len(sc.ImagePrompts) != shots {
		return fmt.Errorf("%w: got %d image prompts, want %d", ErrScenarioShape, len(sc.ImagePrompts), shots)
	}
	for i, p := range sc.ImagePrompts {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: image prompt %d is empty", ErrScenarioShape, i)
		}
	}
	return nil
}

// fencedBody extracts the content of the first markdown code fence.
func fencedBody(raw string) (string, bool) {
	start := strings.Index(raw, "```")
	if start < 0 {
		return "", false
	}
	rest := raw[start+3:]
	// Drop the info string (e.g. "json") up to the end of the line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		rest = strings.TrimPrefix(rest, "json")
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// imageArtifact wraps raw bytes with a MIME type, rejecting empty payloads.
func imageArtifact(mimeType string, data []byte) (*models.Artifact, error) {
	if len(data) == 0 {
		return nil, ErrNoImageData
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: unexpected MIME type %q", ErrNoImageData, mimeType)
	}
	return &models.Artifact{MIMEType: mimeType, Data: bytes.Clone(data)}, nil
}
