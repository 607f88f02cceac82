package usecase

import (
	"encoding/json"

	"report-orchestrator/internal/domain/model"
	"report-orchestrator/internal/domain/ports/adapter"
)

// Actions are the only inputs to the reducer. User-originated actions are
// built by the orchestrator's public methods; the rest are dispatched by the
// effect layer with the polling-session id they were started under, so the
// dispatcher can drop anything stale before the reducer ever sees it.
type action interface{ isAction() }

// sendRequested carries a user message that passed the guard checks.
type sendRequested struct {
	msg model.Message
}

// answerSubmitted resolves the displayed clarification with the user's text.
type answerSubmitted struct {
	msg model.Message
}

// skipRequested forces the canned "proceed anyway" message.
type skipRequested struct{}

// submitSucceeded is the pipeline's reply to any submission. reply is a
// pre-built assistant message when the response carried text.
type submitSucceeded struct {
	resp    *adapter.SubmitResponse
	reply   *model.Message
	created bool // this response produced the job id
}

// submitFailed carries the user-facing failure text for a submission.
type submitFailed struct {
	userMsg string
}

// statusTick is one successful, non-terminal poll observation.
type statusTick struct {
	status *adapter.StatusResponse
}

// resultReady delivers the full payload fetched after a terminal complete.
type resultReady struct {
	jobID   string
	payload json.RawMessage
}

// pollFatal is emitted when polling stops for good: circuit breaker,
// total-duration timeout, or a terminal error status.
type pollFatal struct {
	userMsg string
	status  string // metric label: error, failed, timeout, connection_lost
}

// recordChanged is a push event from the store's change feed.
type recordChanged struct {
	rec *model.Conversation
}

// conversationSelected is the initial synchronous fetch of a selected job.
type conversationSelected struct {
	rec *model.Conversation
}

// conversationNotFound is the 404-on-selection special case.
type conversationNotFound struct{}

// titleGenerated applies a freshly generated (or user-chosen) title.
type titleGenerated struct {
	jobID string
	title string
}

// newConversation resets to the input phase.
type newConversation struct{}

// cancelRequested stops background activity without discarding the record.
type cancelRequested struct{}

func (sendRequested) isAction()         {}
func (answerSubmitted) isAction()       {}
func (skipRequested) isAction()         {}
func (submitSucceeded) isAction()       {}
func (submitFailed) isAction()          {}
func (statusTick) isAction()            {}
func (resultReady) isAction()           {}
func (pollFatal) isAction()             {}
func (recordChanged) isAction()         {}
func (conversationSelected) isAction()  {}
func (conversationNotFound) isAction()  {}
func (titleGenerated) isAction()        {}
func (newConversation) isAction()       {}
func (cancelRequested) isAction()       {}
