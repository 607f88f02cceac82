package repository

import (
	"context"

	"report-orchestrator/internal/domain/model"
)

// ConversationRepository persists the durable shadow of a pipeline job.
// qx accepts a pgx.Tx, a *pgxpool.Conn, or nil to run against the pool.
type ConversationRepository interface {
	Save(ctx context.Context, qx any, c *model.Conversation) error
	SaveMessage(ctx context.Context, qx any, m *model.Message) error
	FindByID(ctx context.Context, qx any, id string) (*model.Conversation, error)
	List(ctx context.Context, qx any, includeArchived bool) ([]*model.Conversation, error)
	Rename(ctx context.Context, qx any, id, title string) error
	SetArchived(ctx context.Context, qx any, id string, archived bool) error
	// Delete removes the conversation and its message history.
	Delete(ctx context.Context, qx any, id string) error
}

// ChangeEvent is one "record changed" notification for a conversation id.
// The channel delivers events in commit order for a single id; consumers
// apply them last-write-wins.
type ChangeEvent struct {
	New *model.Conversation `json:"new"`
}

// ChangeFeed is the subscription primitive over the store. Subscribe
// returns a channel of change events for one conversation id and a cancel
// function; cancel is idempotent and closes the channel.
type ChangeFeed interface {
	Subscribe(ctx context.Context, conversationID string) (<-chan ChangeEvent, func(), error)
	Publish(ctx context.Context, ev ChangeEvent) error
}
