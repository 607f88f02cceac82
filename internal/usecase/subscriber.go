package usecase

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"report-orchestrator/internal/domain/model"
	"report-orchestrator/internal/domain/ports/repository"
	"report-orchestrator/internal/infra/metrics"
)

// RealtimeSubscriber watches one conversation record through the store's
// change feed.
//
// Ordering guarantee: Attach fetches the current record synchronously and
// delivers it (initial=true) BEFORE the push subscription opens. A change
// committed between "decide to watch" and "subscription active" is therefore
// observed by the initial fetch instead of being silently missed. Every later
// event replaces the caller's view wholesale, last-write-wins by arrival
// order.
type RealtimeSubscriber struct {
	repo repository.ConversationRepository
	feed repository.ChangeFeed
	log  *zerolog.Logger
}

func NewRealtimeSubscriber(repo repository.ConversationRepository, feed repository.ChangeFeed, logger *zerolog.Logger) *RealtimeSubscriber {
	slog := logger.With().Str("component", "RealtimeSubscriber").Logger()
	return &RealtimeSubscriber{repo: repo, feed: feed, log: &slog}
}

// Attach returns a detach func. Detach is idempotent and safe to call from
// a teardown path racing an in-flight delivery; deliveries after detach are
// dropped.
func (s *RealtimeSubscriber) Attach(ctx context.Context, conversationID string, onRecord func(rec *model.Conversation, initial bool)) (func(), error) {
	rec, err := s.repo.FindByID(ctx, nil, conversationID)
	if err != nil {
		return nil, err
	}
	onRecord(rec, true)

	ch, cancel, err := s.feed.Subscribe(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var once sync.Once
	done := make(chan struct{})
	detach := func() {
		once.Do(func() {
			close(done)
			cancel()
		})
	}

	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.New == nil {
					continue
				}
				select {
				case <-done:
					return
				default:
				}
				metrics.IncFeedEvent()
				onRecord(ev.New, false)
			}
		}
	}()

	s.log.Debug().Str("conv_id", conversationID).Msg("change feed attached")
	return detach, nil
}
