package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid database execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Remote pipeline errors, classified from transport status codes.
	ErrPipelineNotFound   = errors.New("job not found on pipeline")
	ErrPipelineForbidden  = errors.New("pipeline access forbidden")
	ErrPipelineRateLimit  = errors.New("pipeline rate limit exceeded")
	ErrPipelineServer     = errors.New("pipeline server error")
	ErrPipelineTimeout    = errors.New("pipeline request timed out")
	ErrPipelineValidation = errors.New("pipeline response failed validation")

	// Orchestrator guard errors.
	ErrSendTooFast    = errors.New("message rejected by debounce window")
	ErrSendInFlight   = errors.New("a send is already in flight")
	ErrPromptTooLarge = errors.New("problem statement exceeds token budget")
	ErrNoActiveJob    = errors.New("no active job")

	// Poller terminal errors.
	ErrPollingExhausted = errors.New("polling stopped after repeated failures")
	ErrPollingTimedOut  = errors.New("polling exceeded total duration budget")
)
