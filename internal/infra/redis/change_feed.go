package redis

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"report-orchestrator/internal/domain/model"
	"report-orchestrator/internal/domain/ports/repository"
)

const feedChannelPrefix = "conv_changed:"

// ChangeFeed broadcasts conversation updates over Redis pub/sub, one channel
// per conversation. Subscribers that cannot keep up lose events; that is
// acceptable because every event carries the full record, so the next one
// supersedes anything missed.
type ChangeFeed struct {
	client *redClient
	log    *zerolog.Logger
}

var _ repository.ChangeFeed = (*ChangeFeed)(nil)

func NewChangeFeed(client *redClient, logger *zerolog.Logger) *ChangeFeed {
	flog := logger.With().Str("component", "ChangeFeed").Logger()
	return &ChangeFeed{client: client, log: &flog}
}

func (f *ChangeFeed) Publish(ctx context.Context, ev repository.ChangeEvent) error {
	if ev.New == nil {
		return nil
	}
	data, err := json.Marshal(ev.New)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, feedChannelPrefix+ev.New.ID, data)
}

// Subscribe opens a pub/sub channel for one conversation. The subscription
// is confirmed before Subscribe returns, so an event published immediately
// afterwards is not lost.
func (f *ChangeFeed) Subscribe(ctx context.Context, conversationID string) (<-chan repository.ChangeEvent, func(), error) {
	sub := f.client.cli.Subscribe(ctx, feedChannelPrefix+conversationID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan repository.ChangeEvent, 8)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var rec model.Conversation
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				f.log.Warn().Err(err).Str("conv_id", conversationID).Msg("malformed change event dropped")
				continue
			}
			select {
			case out <- repository.ChangeEvent{New: &rec}:
			default:
				// Slow consumer; drop in favor of the next full record.
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}
