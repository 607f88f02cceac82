package usecase

import (
	"report-orchestrator/internal/domain/model"
)

// clarificationRules is the loop-breaker policy. The human-answer threshold
// is a product choice, not a physical constraint, so it is configurable.
type clarificationRules struct {
	maxHumanAnswers int
	maxAutoSkips    int
}

func defaultRules() clarificationRules {
	return clarificationRules{maxHumanAnswers: 1, maxAutoSkips: 2}
}

// reduce is the pure state machine: (state, action) -> (state, effects).
// All mutation of orchestrator state funnels through here; side effects are
// only described, never performed. The dispatcher guarantees stale actions
// (superseded polling sessions, dead orchestrators) are dropped before this
// point, so the reducer does not reason about sessions at all.
func reduce(st state, a action, rules clarificationRules) (state, []effect) {
	switch act := a.(type) {
	case sendRequested:
		return reduceSend(st, act)
	case answerSubmitted:
		return reduceAnswer(st, act)
	case skipRequested:
		return reduceSkip(st)
	case submitSucceeded:
		return reduceSubmitSucceeded(st, act, rules)
	case submitFailed:
		return reduceSubmitFailed(st, act)
	case statusTick:
		return reduceStatusTick(st, act)
	case resultReady:
		return reduceResultReady(st, act)
	case pollFatal:
		return reducePollFatal(st, act)
	case recordChanged:
		return reduceRecordChanged(st, act)
	case conversationSelected:
		return reduceSelected(st, act)
	case titleGenerated:
		if act.jobID == st.ActiveJobID {
			st.Title = act.title
		}
		return st, nil
	case conversationNotFound:
		next := initialState()
		next.ErrMsg = msgNotFound
		return next, []effect{effStopPolling{}, effDetachFeed{}}
	case newConversation:
		return initialState(), []effect{effStopPolling{}, effDetachFeed{}}
	case cancelRequested:
		st.Loading = false
		st.Phase = model.UIPhaseInput
		return st, []effect{effStopPolling{}, effDetachFeed{}}
	}
	return st, nil
}

func reduceSend(st state, act sendRequested) (state, []effect) {
	// A message arriving while job creation is in flight is queued, not
	// submitted: it would otherwise create a second job. Latest wins.
	if st.creationInProgress {
		m := act.msg
		st.pendingMsg = &m
		return st, nil
	}
	st.ErrMsg = ""
	st.Loading = true
	st.Phase = model.UIPhaseAnalyzing
	st.Messages = appendMessage(st.Messages, act.msg)
	var effs []effect
	if st.ActiveJobID == "" {
		st.creationInProgress = true
	} else {
		effs = append(effs, effPersist{rec: st.record(), msgs: []model.Message{act.msg}})
	}
	effs = append(effs, effSubmit{
		text:  act.msg.Content,
		jobID: st.ActiveJobID,
		kind:  submitUser,
	})
	return st, effs
}

func reduceAnswer(st state, act answerSubmitted) (state, []effect) {
	if st.Clarification == nil || st.ActiveJobID == "" {
		return st, nil
	}
	answered := *st.Clarification
	answered.Answer = act.msg.Content
	st.Clarification = &answered
	st.humanAnswers++
	st.Messages = appendMessage(st.Messages, act.msg)
	st.Phase = model.UIPhaseProcessing
	st.Loading = true

	// Resume token is spent on this round trip, success or failure.
	token := st.resumeToken
	st.resumeToken = nil
	return st, []effect{
		effPersist{rec: st.record(), msgs: []model.Message{act.msg}},
		effSubmit{
			text:  act.msg.Content,
			jobID: st.ActiveJobID,
			token: token,
			kind:  submitAnswer,
		},
	}
}

func reduceSkip(st state) (state, []effect) {
	if st.ActiveJobID == "" {
		return st, nil
	}
	st.autoSkips++
	st.Clarification = nil
	st.Phase = model.UIPhaseProcessing
	st.Loading = true
	token := st.resumeToken
	st.resumeToken = nil
	return st, []effect{effSubmit{
		text:  SkipMessage,
		jobID: st.ActiveJobID,
		token: token,
		kind:  submitSkip,
	}}
}

func reduceSubmitSucceeded(st state, act submitSucceeded, rules clarificationRules) (state, []effect) {
	resp := act.resp
	var effs []effect

	if act.created {
		st.ActiveJobID = resp.JobID
		st.creationInProgress = false
	}
	if resp.Title != "" {
		st.Title = resp.Title
	}

	switch resp.Status {
	case model.JobStatusClarifying:
		if resp.ResumeToken != nil {
			st.resumeToken = resp.ResumeToken
		}
		switch {
		case st.humanAnswers < rules.maxHumanAnswers && st.autoSkips == 0:
			// First question of this job's lifetime: ask the human.
			st.Phase = model.UIPhaseClarifying
			st.Clarification = resp.Clarification
			st.Loading = false
			effs = append(effs, effPersist{rec: st.record(), msgs: persistMsgs(st, act)})
		case st.autoSkips >= rules.maxAutoSkips:
			// Loop-breaker exhausted: terminal, never a third round trip.
			st.Phase = model.UIPhaseError
			st.ErrMsg = msgClarificationLoop
			st.Clarification = nil
			st.Loading = false
			effs = append(effs, effStopPolling{}, effDetachFeed{}, effPersist{rec: st.record()})
		default:
			// Already answered once (or skipped): proceed on the user's behalf.
			st.autoSkips++
			st.Clarification = nil
			st.Phase = model.UIPhaseProcessing
			st.Loading = true
			token := st.resumeToken
			st.resumeToken = nil
			effs = append(effs,
				effSubmit{text: SkipMessage, jobID: st.ActiveJobID, token: token, kind: submitSkip},
				effPersist{rec: st.record()},
			)
		}
		return st, effs

	case model.JobStatusProcessing, model.JobStatusConfirmRerun:
		st.Phase = model.UIPhaseProcessing
		st.Clarification = nil
		st.Loading = true
		if resp.CurrentPhase != "" {
			st.CurrentPhase = resp.CurrentPhase
		}
		if act.reply != nil {
			st.Messages = appendMessage(st.Messages, *act.reply)
		}
		// A message queued while the job id was unknown goes out now.
		var follow *model.Message
		if st.pendingMsg != nil {
			f := *st.pendingMsg
			st.pendingMsg = nil
			st.Messages = appendMessage(st.Messages, f)
			follow = &f
		}
		effs = append(effs, effPersist{rec: st.record(), msgs: persistMsgs(st, act)})
		if act.created && st.Title == "" && len(st.Messages) > 0 {
			effs = append(effs, effGenerateTitle{jobID: st.ActiveJobID, problem: st.Messages[0].Content})
		}
		effs = append(effs, effAttachFeed{jobID: st.ActiveJobID}, effStartPolling{jobID: st.ActiveJobID})
		if follow != nil {
			effs = append(effs, effSubmit{text: follow.Content, jobID: st.ActiveJobID, kind: submitUser})
		}
		return st, effs

	case model.JobStatusComplete:
		st.Phase = model.UIPhaseComplete
		st.Clarification = nil
		st.Loading = false
		if resp.Payload != nil {
			st.Result = resp.Payload
		} else {
			effs = append(effs, effFetchResult{jobID: st.ActiveJobID})
		}
		effs = append(effs, effStopPolling{}, effPersist{rec: st.record(), msgs: persistMsgs(st, act)})
		return st, effs

	default: // error, failed, or anything the contract does not promise
		st.Phase = model.UIPhaseError
		st.Clarification = nil
		st.Loading = false
		if resp.Message != "" {
			st.ErrMsg = resp.Message
		} else {
			st.ErrMsg = msgAnalysisFailed
		}
		effs = append(effs, effStopPolling{}, effDetachFeed{}, effPersist{rec: st.record()})
		return st, effs
	}
}

func reduceSubmitFailed(st state, act submitFailed) (state, []effect) {
	st.Loading = false
	st.ErrMsg = act.userMsg
	if st.ActiveJobID == "" {
		// Creation failed: no job exists, so the queued follow-up (if any)
		// has nothing to attach to. Back to input.
		next := initialState()
		next.Messages = st.Messages
		next.ErrMsg = act.userMsg
		return next, nil
	}
	st.Phase = model.UIPhaseError
	return st, []effect{effStopPolling{}, effDetachFeed{}, effPersist{rec: st.record()}}
}

func reduceStatusTick(st state, act statusTick) (state, []effect) {
	sr := act.status
	changed := st.CurrentPhase != sr.CurrentPhase || st.PhaseProgress != sr.PhaseProgress
	st.Phase = model.UIPhaseProcessing
	st.Loading = true
	st.CurrentPhase = sr.CurrentPhase
	st.PhaseProgress = sr.PhaseProgress
	if len(sr.CompletedPhases) > 0 {
		st.CompletedPhases = sr.CompletedPhases
	}
	if changed {
		return st, []effect{effPersist{rec: st.record()}}
	}
	return st, nil
}

func reduceResultReady(st state, act resultReady) (state, []effect) {
	st.Phase = model.UIPhaseComplete
	st.Result = act.payload
	st.Clarification = nil
	st.Loading = false
	return st, []effect{effStopPolling{}, effDetachFeed{}, effPersist{rec: st.record()}}
}

func reducePollFatal(st state, act pollFatal) (state, []effect) {
	st.Phase = model.UIPhaseError
	st.ErrMsg = act.userMsg
	st.Loading = false
	return st, []effect{effStopPolling{}, effDetachFeed{}, effPersist{rec: st.record()}}
}

// reduceRecordChanged folds a push event in. The feed is a cache
// invalidation signal: phase/progress/payload are applied last-write-wins,
// but a clarifying transition is never initiated from here. Clarification
// display is owned by the submission-response path alone.
func reduceRecordChanged(st state, act recordChanged) (state, []effect) {
	rec := act.rec
	if rec == nil || rec.ID != st.ActiveJobID {
		return st, nil
	}
	st.CurrentPhase = rec.CurrentPhase
	st.PhaseProgress = rec.PhaseProgress
	if len(rec.CompletedPhases) > 0 {
		st.CompletedPhases = rec.CompletedPhases
	}
	switch rec.Status {
	case model.JobStatusComplete:
		if st.Phase != model.UIPhaseComplete {
			st.Phase = model.UIPhaseComplete
			st.Result = rec.Payload
			st.Loading = false
			return st, []effect{effStopPolling{}, effDetachFeed{}}
		}
	case model.JobStatusError, model.JobStatusFailed:
		if st.Phase != model.UIPhaseError {
			st.Phase = model.UIPhaseError
			st.ErrMsg = msgAnalysisFailed
			st.Loading = false
			return st, []effect{effStopPolling{}, effDetachFeed{}}
		}
	}
	return st, nil
}

func reduceSelected(st state, act conversationSelected) (state, []effect) {
	rec := act.rec
	next := initialState()
	next.ActiveJobID = rec.ID
	next.Title = rec.Title
	next.Messages = rec.Messages
	next.Result = rec.Payload
	next.CurrentPhase = rec.CurrentPhase
	next.CompletedPhases = rec.CompletedPhases
	next.PhaseProgress = rec.PhaseProgress
	next.Phase = model.PhaseForStatus(rec.Status)
	if rec.Status == model.JobStatusClarifying {
		next.Clarification = rec.Clarification
	}
	if rec.Clarification.Answered() {
		next.humanAnswers = 1
	}
	next.Loading = next.Phase == model.UIPhaseProcessing
	if next.Phase == model.UIPhaseProcessing {
		return next, []effect{effStartPolling{jobID: rec.ID}}
	}
	return next, nil
}

func appendMessage(msgs []model.Message, m model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs)+1)
	out = append(out, msgs...)
	return append(out, m)
}

// persistMsgs lists the messages the store does not have yet. When this
// response created the job, the record did not exist before, so the whole
// history goes out; otherwise only the freshly appended reply does.
func persistMsgs(st state, act submitSucceeded) []model.Message {
	if act.created {
		return st.Messages
	}
	if act.reply != nil {
		return []model.Message{*act.reply}
	}
	return nil
}
