package model

// UIPhase is the single discriminant the orchestrator exposes to rendering
// code. Exactly one phase is active at any instant; it is computed once per
// transition and never re-derived from combinations of flags.
type UIPhase string

const (
	UIPhaseInput      UIPhase = "input"
	UIPhaseAnalyzing  UIPhase = "analyzing" // between send and first response
	UIPhaseClarifying UIPhase = "clarifying"
	UIPhaseProcessing UIPhase = "processing"
	UIPhaseComplete   UIPhase = "complete"
	UIPhaseError      UIPhase = "error"
)

// PhaseForStatus re-derives the UI phase from a job's last known status,
// used when re-entering an existing conversation.
func PhaseForStatus(s JobStatus) UIPhase {
	switch s {
	case JobStatusClarifying:
		return UIPhaseClarifying
	case JobStatusProcessing, JobStatusConfirmRerun:
		return UIPhaseProcessing
	case JobStatusComplete:
		return UIPhaseComplete
	case JobStatusError, JobStatusFailed:
		return UIPhaseError
	}
	return UIPhaseInput
}
