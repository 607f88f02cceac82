package usecase

import (
	"encoding/json"
	"time"

	"report-orchestrator/internal/domain/model"
)

// Snapshot is the read-only view handed to rendering code. It is a pure
// function of the latest accepted job state plus pending local actions;
// nothing in it is derived ad hoc from combinations of flags.
type Snapshot struct {
	UIPhase              model.UIPhase        `json:"uiPhase"`
	ActiveJobID          string               `json:"activeJobId,omitempty"`
	Messages             []model.Message      `json:"messages"`
	Result               json.RawMessage      `json:"result,omitempty"`
	CurrentPhase         string               `json:"currentPhase,omitempty"`
	CompletedPhases      []string             `json:"completedPhases,omitempty"`
	PhaseProgress        int                  `json:"phaseProgress,omitempty"`
	PendingClarification *model.Clarification `json:"pendingClarification,omitempty"`
	Error                string               `json:"error,omitempty"`
	IsLoading            bool                 `json:"isLoading"`
	PendingMessage       string               `json:"pendingMessage,omitempty"`
}

// state is the reducer's working set: the snapshot fields plus private
// registers that never leave the orchestrator.
type state struct {
	Phase           model.UIPhase
	ActiveJobID     string
	Title           string
	Messages        []model.Message
	Result          json.RawMessage
	CurrentPhase    string
	CompletedPhases []string
	PhaseProgress   int
	Clarification   *model.Clarification
	ErrMsg          string
	Loading         bool

	// creationInProgress is set between the first submission and the
	// arrival of a job id; a second message in that window is queued in
	// pendingMsg instead of creating a second job.
	creationInProgress bool
	pendingMsg         *model.Message

	// resumeToken lives for exactly one round trip: captured from a
	// clarifying response, spent (and cleared) on the next submission.
	resumeToken json.RawMessage

	// Clarification bookkeeping for the loop-breaker policy.
	humanAnswers int
	autoSkips    int
}

func initialState() state {
	return state{Phase: model.UIPhaseInput}
}

// snapshot projects the public view.
func (st state) snapshot() Snapshot {
	s := Snapshot{
		UIPhase:              st.Phase,
		ActiveJobID:          st.ActiveJobID,
		Messages:             st.Messages,
		Result:               st.Result,
		CurrentPhase:         st.CurrentPhase,
		CompletedPhases:      st.CompletedPhases,
		PhaseProgress:        st.PhaseProgress,
		PendingClarification: st.Clarification,
		Error:                st.ErrMsg,
		IsLoading:            st.Loading,
	}
	if st.pendingMsg != nil {
		s.PendingMessage = st.pendingMsg.Content
	}
	if s.Messages == nil {
		s.Messages = []model.Message{}
	}
	return s
}

// record materializes the durable conversation row from the current state.
func (st state) record() *model.Conversation {
	title := st.Title
	if title == "" && len(st.Messages) > 0 {
		title = model.Preview(st.Messages[0].Content)
	}
	c := &model.Conversation{
		ID:              st.ActiveJobID,
		Title:           title,
		Status:          statusForPhase(st.Phase),
		CurrentPhase:    st.CurrentPhase,
		CompletedPhases: st.CompletedPhases,
		PhaseProgress:   st.PhaseProgress,
		Payload:         st.Result,
		Clarification:   st.Clarification,
		UpdatedAt:       time.Now(),
	}
	if n := len(st.Messages); n > 0 {
		c.LastMessagePreview = model.Preview(st.Messages[n-1].Content)
	}
	return c
}

func statusForPhase(p model.UIPhase) model.JobStatus {
	switch p {
	case model.UIPhaseClarifying:
		return model.JobStatusClarifying
	case model.UIPhaseComplete:
		return model.JobStatusComplete
	case model.UIPhaseError:
		return model.JobStatusError
	}
	return model.JobStatusProcessing
}
