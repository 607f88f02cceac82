package usecase

import (
	"errors"

	"report-orchestrator/internal/domain"
)

// SkipMessage is the canned answer submitted on the user's behalf when the
// clarification budget is spent or the user skips explicitly.
const SkipMessage = "Please proceed with your best engineering judgment; no further clarification is needed."

// User-facing strings. Network and validation errors never cross the
// orchestrator boundary as raw errors; they are converted here first.
const (
	msgTryAgain          = "The request timed out. Please try again."
	msgNotFound          = "This report is no longer available. Please start a new analysis."
	msgForbidden         = "You don't have access to this report."
	msgRateLimited       = "Too many requests. Please wait a moment and try again."
	msgServerError       = "The analysis service hit an internal error. Please try again shortly."
	msgGeneric           = "Something went wrong. Please try again."
	msgConnectionLost    = "Connection lost. Please refresh."
	msgPollTimeout       = "The analysis timed out. Please start a new report."
	msgAnalysisFailed    = "The analysis failed. Please start a new report."
	msgClarificationLoop = "The analysis could not proceed without more input. Please start a new report."
)

// userMessageFor classifies an error from the pipeline boundary into a safe
// user-facing string.
func userMessageFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrPipelineTimeout):
		return msgTryAgain
	case errors.Is(err, domain.ErrPipelineNotFound):
		return msgNotFound
	case errors.Is(err, domain.ErrPipelineForbidden):
		return msgForbidden
	case errors.Is(err, domain.ErrPipelineRateLimit):
		return msgRateLimited
	case errors.Is(err, domain.ErrPipelineServer):
		return msgServerError
	case errors.Is(err, domain.ErrPipelineValidation):
		return msgGeneric
	case errors.Is(err, domain.ErrPollingExhausted):
		return msgConnectionLost
	case errors.Is(err, domain.ErrPollingTimedOut):
		return msgPollTimeout
	default:
		return msgGeneric
	}
}
