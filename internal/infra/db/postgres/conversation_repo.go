package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"report-orchestrator/internal/domain"
	"report-orchestrator/internal/domain/model"
	"report-orchestrator/internal/domain/ports/repository"
	"report-orchestrator/internal/infra/redis"
)

// ConversationRepo is the durable store for conversation records and their
// message history. Reads go through the cache; every write invalidates it
// and publishes a change event so attached subscribers converge without
// re-polling the database.
var _ repository.ConversationRepository = (*ConversationRepo)(nil)

type ConversationRepo struct {
	pool  *pgxpool.Pool
	cache *redis.ConversationCache
	feed  repository.ChangeFeed
	log   *zerolog.Logger
}

func NewConversationRepo(pool *pgxpool.Pool, cache *redis.ConversationCache, feed repository.ChangeFeed, logger *zerolog.Logger) *ConversationRepo {
	rlog := logger.With().Str("component", "ConversationRepo").Logger()
	return &ConversationRepo{pool: pool, cache: cache, feed: feed, log: &rlog}
}

func (r *ConversationRepo) Save(ctx context.Context, qx any, c *model.Conversation) error {
	const q = `
INSERT INTO conversations (id, title, status, current_phase, completed_phases, phase_progress,
                           last_message_preview, payload, clarification, archived, pinned,
                           created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,COALESCE(NULLIF($12, '0001-01-01'::timestamptz), NOW()),NOW())
ON CONFLICT (id) DO UPDATE SET
  title = EXCLUDED.title,
  status = EXCLUDED.status,
  current_phase = EXCLUDED.current_phase,
  completed_phases = EXCLUDED.completed_phases,
  phase_progress = EXCLUDED.phase_progress,
  last_message_preview = EXCLUDED.last_message_preview,
  payload = EXCLUDED.payload,
  clarification = EXCLUDED.clarification,
  updated_at = NOW();`

	clar, err := marshalClarification(c.Clarification)
	if err != nil {
		return fmt.Errorf("marshal clarification: %w", err)
	}
	args := []any{
		c.ID, c.Title, string(c.Status), c.CurrentPhase, c.CompletedPhases, c.PhaseProgress,
		c.LastMessagePreview, []byte(c.Payload), clar, c.Archived, c.Pinned, c.CreatedAt,
	}
	switch v := qx.(type) {
	case pgx.Tx:
		_, err = v.Exec(ctx, q, args...)
	case *pgxpool.Conn:
		_, err = v.Exec(ctx, q, args...)
	default:
		_, err = r.pool.Exec(ctx, q, args...)
	}
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}

	// Invalidate rather than overwrite: the record here may carry a partial
	// message history. The next FindByID refills the cache from the row.
	if r.cache != nil {
		_ = r.cache.Delete(ctx, c.ID)
	}
	if r.feed != nil {
		if err := r.feed.Publish(ctx, repository.ChangeEvent{New: c}); err != nil {
			r.log.Warn().Err(err).Str("conv_id", c.ID).Msg("change event publish failed")
		}
	}
	return nil
}

func (r *ConversationRepo) SaveMessage(ctx context.Context, qx any, m *model.Message) error {
	const q = `
INSERT INTO messages (id, conversation_id, role, content, created_at)
VALUES ($1,$2,$3,$4,COALESCE(NULLIF($5, '0001-01-01'::timestamptz), NOW()))
ON CONFLICT (id) DO NOTHING;`
	var err error
	switch v := qx.(type) {
	case pgx.Tx:
		_, err = v.Exec(ctx, q, m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt)
	case *pgxpool.Conn:
		_, err = v.Exec(ctx, q, m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt)
	default:
		_, err = r.pool.Exec(ctx, q, m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt)
	}
	if err != nil {
		// 23503: the parent conversation row is gone.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return domain.ErrNotFound
		}
		return fmt.Errorf("save message: %w", err)
	}
	if r.cache != nil {
		_ = r.cache.Delete(ctx, m.ConversationID)
	}
	return nil
}

func (r *ConversationRepo) FindByID(ctx context.Context, qx any, id string) (*model.Conversation, error) {
	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, id); err == nil && cached != nil {
			return cached, nil
		}
	}

	const qc = `
SELECT id, title, status, current_phase, completed_phases, phase_progress,
       last_message_preview, payload, clarification, archived, pinned, created_at, updated_at
  FROM conversations WHERE id=$1;`
	row := pickRow(ctx, r.pool, qx, qc, id)

	var c model.Conversation
	var status string
	var payload, clar []byte
	if err := row.Scan(&c.ID, &c.Title, &status, &c.CurrentPhase, &c.CompletedPhases, &c.PhaseProgress,
		&c.LastMessagePreview, &payload, &clar, &c.Archived, &c.Pinned, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.Status = model.JobStatus(status)
	c.Payload = json.RawMessage(payload)
	if len(clar) > 0 {
		var cl model.Clarification
		if err := json.Unmarshal(clar, &cl); err != nil {
			return nil, fmt.Errorf("unmarshal clarification: %w", err)
		}
		c.Clarification = &cl
	}

	const qm = `SELECT id, role, content, created_at FROM messages WHERE conversation_id=$1 ORDER BY created_at ASC, id ASC;`
	rows, err := r.queryRows(ctx, qx, qm, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ConversationID = c.ID
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}

	if r.cache != nil {
		_ = r.cache.Store(ctx, &c)
	}
	return &c, nil
}

// List returns the sidebar view: records without message history, pinned
// first, newest activity next.
func (r *ConversationRepo) List(ctx context.Context, qx any, includeArchived bool) ([]*model.Conversation, error) {
	q := `
SELECT id, title, status, current_phase, phase_progress, last_message_preview,
       archived, pinned, created_at, updated_at
  FROM conversations`
	if !includeArchived {
		q += ` WHERE NOT archived`
	}
	q += ` ORDER BY pinned DESC, updated_at DESC;`

	rows, err := r.queryRows(ctx, qx, q)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		var c model.Conversation
		var status string
		if err := rows.Scan(&c.ID, &c.Title, &status, &c.CurrentPhase, &c.PhaseProgress,
			&c.LastMessagePreview, &c.Archived, &c.Pinned, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan list row: %w", err)
		}
		c.Status = model.JobStatus(status)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *ConversationRepo) Rename(ctx context.Context, qx any, id, title string) error {
	if err := r.exec(ctx, qx, `UPDATE conversations SET title=$2, updated_at=NOW() WHERE id=$1;`, id, title); err != nil {
		return err
	}
	if r.cache != nil {
		_ = r.cache.Delete(ctx, id)
	}
	return nil
}

func (r *ConversationRepo) SetArchived(ctx context.Context, qx any, id string, archived bool) error {
	if err := r.exec(ctx, qx, `UPDATE conversations SET archived=$2, updated_at=NOW() WHERE id=$1;`, id, archived); err != nil {
		return err
	}
	if r.cache != nil {
		_ = r.cache.Delete(ctx, id)
	}
	return nil
}

func (r *ConversationRepo) Delete(ctx context.Context, qx any, id string) error {
	// messages has ON DELETE CASCADE on conversation_id.
	if err := r.exec(ctx, qx, `DELETE FROM conversations WHERE id=$1;`, id); err != nil {
		return err
	}
	if r.cache != nil {
		_ = r.cache.Delete(ctx, id)
	}
	return nil
}

func (r *ConversationRepo) exec(ctx context.Context, qx any, sql string, args ...any) error {
	var err error
	switch v := qx.(type) {
	case pgx.Tx:
		_, err = v.Exec(ctx, sql, args...)
	case *pgxpool.Conn:
		_, err = v.Exec(ctx, sql, args...)
	default:
		_, err = r.pool.Exec(ctx, sql, args...)
	}
	return err
}

func (r *ConversationRepo) queryRows(ctx context.Context, qx any, sql string, args ...any) (pgx.Rows, error) {
	switch v := qx.(type) {
	case pgx.Tx:
		return v.Query(ctx, sql, args...)
	case *pgxpool.Conn:
		return v.Query(ctx, sql, args...)
	default:
		return r.pool.Query(ctx, sql, args...)
	}
}

func marshalClarification(c *model.Clarification) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}
