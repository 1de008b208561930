package models

import (
	"time"
)

// Artifact is the rendered output of a completed job.
type Artifact struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"-"`
}

// Size returns the payload length in bytes.
func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// Job is one unit of single-image generation work. Prompt never changes after
// creation and Artifact is non-nil only while Status is completed.
type Job struct {
	ID        string    `json:"id"`
	Index     int       `json:"index"`
	Prompt    string    `json:"prompt"`
	Artifact  *Artifact `json:"artifact,omitempty"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"` // last failure message, cleared on retry
	UpdatedAt time.Time `json:"updatedAt"`
}

// Scenario is the synthesized campaign narrative. It is immutable once received.
type Scenario struct {
	Title          string   `json:"title"`
	Concept        string   `json:"concept"`
	TargetAudience string   `json:"targetAudience"`
	MarketingHook  string   `json:"marketingHook"`
	ImagePrompts   []string `json:"imagePrompts"`
}

// ReferenceImage is one user supplied product image.
type ReferenceImage struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Material is the accepted intake for one campaign: images plus optional guidance.
type Material struct {
	Images   []ReferenceImage
	Guidance string
}
