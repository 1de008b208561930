package store

import (
	"time"

	"adforge/internal/models"
)

// --- Job Store ---

// JobStore is the ordered collection of generation jobs for one campaign.
// ApplyTransition is the only way a job's status or artifact changes.
type JobStore interface {
	Seed(prompts []string, now time.Time) ([]models.Job, error)
	ApplyTransition(id string, from []models.JobStatus, to models.JobStatus, patch Patch) bool
	Snapshot() []models.Job
	Get(id string) (models.Job, error)
	Counts() Counts
	Len() int
	Clear()
}

// Patch carries the fields merged into a job by a successful transition.
type Patch struct {
	Artifact *models.Artifact
	Error    string
}

// Transition is emitted to observers after every applied transition. Counts
// is computed under the same lock as the transition itself.
type Transition struct {
	Job    models.Job
	From   models.JobStatus
	To     models.JobStatus
	Counts Counts
}

// Observer receives applied transitions. It runs outside the store lock.
type Observer func(Transition)

// Counts is the derived per-status projection of the store.
type Counts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Generating int `json:"generating"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Progress is the completion ratio completed/total, 0 for an empty store.
func (c Counts) Progress() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Completed) / float64(c.Total)
}

// Settled reports whether no job is pending or generating.
func (c Counts) Settled() bool {
	return c.Pending == 0 && c.Generating == 0
}

// PendingIndices returns the indices of pending jobs in store order.
func PendingIndices(jobs []models.Job) []int {
	var idx []int
	for i, j := range jobs {
		if j.Status == models.JobStatusPending {
			idx = append(idx, i)
		}
	}
	return idx
}
