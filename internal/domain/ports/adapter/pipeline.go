package adapter

import (
	"context"
	"encoding/json"

	"report-orchestrator/internal/domain/model"
)

// SubmitRequest carries one message to the pipeline. JobID is empty on the
// first submission; ResumeToken is echoed when answering a clarification.
type SubmitRequest struct {
	Message     string          `json:"message"`
	JobID       string          `json:"jobId,omitempty"`
	ResumeToken json.RawMessage `json:"resumeToken,omitempty"`
}

// SubmitResponse is the pipeline's reply to a submission.
type SubmitResponse struct {
	JobID         string               `json:"jobId"`
	Message       string               `json:"message,omitempty"`
	Status        model.JobStatus      `json:"status"`
	CurrentPhase  string               `json:"currentPhase,omitempty"`
	Title         string               `json:"title,omitempty"`
	Clarification *model.Clarification `json:"clarification,omitempty"`
	ResumeToken   json.RawMessage      `json:"resumeToken,omitempty"`
	Payload       json.RawMessage      `json:"payload,omitempty"`
}

// StatusResponse is one poll observation.
type StatusResponse struct {
	JobID           string          `json:"jobId"`
	Status          model.JobStatus `json:"status"`
	CurrentPhase    string          `json:"currentPhase,omitempty"`
	CompletedPhases []string        `json:"completedPhases,omitempty"`
	PhaseProgress   int             `json:"phaseProgress,omitempty"`
	Message         string          `json:"message,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// PipelineAdapter is the port for the remote analysis pipeline. The
// pipeline is an opaque multi-phase job runner; this core only submits
// work and observes status.
type PipelineAdapter interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)
	GetStatus(ctx context.Context, jobID string) (*StatusResponse, error)
	GetResult(ctx context.Context, jobID string) (json.RawMessage, error)
}
