package usecase

import (
	"encoding/json"

	"report-orchestrator/internal/domain/model"
)

// Effects are commands the reducer hands back to the effect layer. The
// reducer itself never touches the network or timers; it only describes
// what should happen next.
type effect interface{ isEffect() }

type submitKind int

const (
	submitUser submitKind = iota
	submitAnswer
	submitSkip
)

type effSubmit struct {
	text  string
	jobID string
	token json.RawMessage
	kind  submitKind
}

type effStartPolling struct{ jobID string }
type effStopPolling struct{}
type effAttachFeed struct{ jobID string }
type effDetachFeed struct{}
type effFetchResult struct{ jobID string }

// effPersist writes the conversation record, plus any messages appended by
// the transition that produced it.
type effPersist struct {
	rec  *model.Conversation
	msgs []model.Message
}

// effGenerateTitle asks the titler chain for a short name, best-effort.
type effGenerateTitle struct {
	jobID   string
	problem string
}

func (effSubmit) isEffect()        {}
func (effStartPolling) isEffect()  {}
func (effStopPolling) isEffect()   {}
func (effAttachFeed) isEffect()    {}
func (effDetachFeed) isEffect()    {}
func (effFetchResult) isEffect()   {}
func (effPersist) isEffect()       {}
func (effGenerateTitle) isEffect() {}
