package model

import "encoding/json"

type JobStatus string

const (
	JobStatusClarifying   JobStatus = "clarifying"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusComplete     JobStatus = "complete"
	JobStatusError        JobStatus = "error"
	JobStatusFailed       JobStatus = "failed"
	JobStatusConfirmRerun JobStatus = "confirm_rerun"
)

// Terminal reports whether the pipeline will make no further progress on
// a job in this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusComplete, JobStatusError, JobStatusFailed:
		return true
	}
	return false
}

// Known reports whether s is one of the statuses the pipeline contract
// defines. Anything else is a validation failure at the adapter boundary.
func (s JobStatus) Known() bool {
	switch s {
	case JobStatusClarifying, JobStatusProcessing, JobStatusComplete,
		JobStatusError, JobStatusFailed, JobStatusConfirmRerun:
		return true
	}
	return false
}

// ClarificationOption is one selectable answer to a clarification.
type ClarificationOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Clarification is a backend-initiated pause requesting one human answer.
// A job has at most one unanswered clarification at a time.
type Clarification struct {
	Question      string                `json:"question"`
	Context       string                `json:"context,omitempty"`
	Options       []ClarificationOption `json:"options,omitempty"`
	AllowFreeText bool                  `json:"allowFreeText,omitempty"`
	Answer        string                `json:"answer,omitempty"`
}

// Answered reports whether the clarification has been resolved.
func (c *Clarification) Answered() bool { return c != nil && c.Answer != "" }

// Job is one run of the external analysis pipeline, identified once the
// backend accepts the first submission.
type Job struct {
	ID              string
	Status          JobStatus
	CurrentPhase    string
	CompletedPhases []string
	PhaseProgress   int
	Payload         json.RawMessage // present only when Status == complete
	Clarification   *Clarification
	// ResumeToken is echoed back on the next submission so the backend can
	// resume a clarifying job without server-side session memory. Captured
	// when a clarifying response arrives, cleared after one round trip.
	ResumeToken json.RawMessage
}

// InInitialReview reports whether the job is still in the pipeline's first
// review phase, used by progress display only.
func (j *Job) InInitialReview() bool {
	return j.CurrentPhase == "" || j.CurrentPhase == "review"
}
