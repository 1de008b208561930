package models

/*
Job and campaign status constants for use throughout the codebase.
Centralizing these avoids magic strings in the queue, the controller and the API.
*/

// JobStatus is the lifecycle status of a single shot generation job.
type JobStatus string

// Job status constants
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusGenerating JobStatus = "generating"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status ends a generation attempt.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// RunState is the single process-wide state of the active campaign.
type RunState string

// Campaign run states
const (
	RunStateIdle       RunState = "idle"
	RunStateAnalyzing  RunState = "analyzing"
	RunStateGenerating RunState = "generating"
	RunStateComplete   RunState = "complete"
	RunStateError      RunState = "error"
)

// IsBusy reports whether a remote call is driving the state forward.
func (s RunState) IsBusy() bool {
	return s == RunStateAnalyzing || s == RunStateGenerating
}
