package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"report-orchestrator/internal/domain"
	"report-orchestrator/internal/domain/model"
	"report-orchestrator/internal/domain/ports/repository"
)

// ---- In-memory store fakes ----

type memConvRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Conversation
	feed *memFeed
}

func newMemConvRepo(feed *memFeed) *memConvRepo {
	return &memConvRepo{byID: map[string]*model.Conversation{}, feed: feed}
}

func (m *memConvRepo) Save(ctx context.Context, qx any, c *model.Conversation) error {
	cp := *c
	m.mu.Lock()
	if prev := m.byID[c.ID]; prev != nil && len(cp.Messages) == 0 {
		cp.Messages = prev.Messages
	}
	m.byID[c.ID] = &cp
	m.mu.Unlock()
	if m.feed != nil {
		_ = m.feed.Publish(ctx, repository.ChangeEvent{New: &cp})
	}
	return nil
}

func (m *memConvRepo) SaveMessage(ctx context.Context, qx any, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byID[msg.ConversationID]
	if c == nil {
		return domain.ErrNotFound
	}
	for _, existing := range c.Messages {
		if existing.ID == msg.ID {
			return nil
		}
	}
	c.Messages = append(c.Messages, *msg)
	return nil
}

func (m *memConvRepo) FindByID(ctx context.Context, qx any, id string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byID[id]
	if c == nil {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConvRepo) List(ctx context.Context, qx any, includeArchived bool) ([]*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Conversation
	for _, c := range m.byID {
		if c.Archived && !includeArchived {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memConvRepo) Rename(ctx context.Context, qx any, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.byID[id]; c != nil {
		c.Title = title
		return nil
	}
	return domain.ErrNotFound
}

func (m *memConvRepo) SetArchived(ctx context.Context, qx any, id string, archived bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.byID[id]; c != nil {
		c.Archived = archived
		return nil
	}
	return domain.ErrNotFound
}

func (m *memConvRepo) Delete(ctx context.Context, qx any, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID[id] == nil {
		return domain.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

type memFeed struct {
	mu   sync.Mutex
	subs map[string][]chan repository.ChangeEvent
}

func newMemFeed() *memFeed {
	return &memFeed{subs: map[string][]chan repository.ChangeEvent{}}
}

func (f *memFeed) Subscribe(ctx context.Context, id string) (<-chan repository.ChangeEvent, func(), error) {
	ch := make(chan repository.ChangeEvent, 16)
	f.mu.Lock()
	f.subs[id] = append(f.subs[id], ch)
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			list := f.subs[id]
			for i, c := range list {
				if c == ch {
					f.subs[id] = append(list[:i], list[i+1:]...)
					break
				}
			}
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

func (f *memFeed) Publish(ctx context.Context, ev repository.ChangeEvent) error {
	if ev.New == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[ev.New.ID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// ---- Tests ----

func TestAttachDeliversFetchBeforeSubscribe(t *testing.T) {
	feed := newMemFeed()
	repo := newMemConvRepo(feed)
	rec := model.NewConversation("job-1", "stored")
	if err := repo.Save(context.Background(), nil, rec); err != nil {
		t.Fatal(err)
	}

	sub := NewRealtimeSubscriber(repo, feed, testLogger())

	var mu sync.Mutex
	var deliveries []bool // initial flags, in arrival order
	detach, err := sub.Attach(context.Background(), "job-1", func(r *model.Conversation, initial bool) {
		mu.Lock()
		deliveries = append(deliveries, initial)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer detach()

	mu.Lock()
	if len(deliveries) != 1 || !deliveries[0] {
		t.Fatalf("initial fetch must arrive synchronously before any push: %v", deliveries)
	}
	mu.Unlock()

	// A push after attach arrives with initial=false.
	rec.Status = model.JobStatusComplete
	_ = feed.Publish(context.Background(), repository.ChangeEvent{New: rec})

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(deliveries)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("push event never delivered")
		}
		time.Sleep(time.Millisecond)
	}
	mu.Lock()
	if deliveries[1] {
		t.Fatal("push delivery must not be flagged initial")
	}
	mu.Unlock()
}

func TestAttachMissingRecord(t *testing.T) {
	feed := newMemFeed()
	repo := newMemConvRepo(feed)
	sub := NewRealtimeSubscriber(repo, feed, testLogger())

	_, err := sub.Attach(context.Background(), "gone", func(*model.Conversation, bool) {
		t.Error("callback must not fire for a missing record")
	})
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestDetachIsIdempotentAndStopsDeliveries(t *testing.T) {
	feed := newMemFeed()
	repo := newMemConvRepo(feed)
	rec := model.NewConversation("job-1", "stored")
	_ = repo.Save(context.Background(), nil, rec)

	sub := NewRealtimeSubscriber(repo, feed, testLogger())

	var mu sync.Mutex
	count := 0
	detach, err := sub.Attach(context.Background(), "job-1", func(*model.Conversation, bool) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	detach()
	detach() // second call must be safe

	_ = feed.Publish(context.Background(), repository.ChangeEvent{New: rec})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 { // the initial fetch only
		t.Fatalf("deliveries after detach: got %d total, want 1", count)
	}
}

func TestSubscriberSkipsEmptyEvents(t *testing.T) {
	feed := newMemFeed()
	repo := newMemConvRepo(feed)
	rec := model.NewConversation("job-1", "stored")
	_ = repo.Save(context.Background(), nil, rec)

	sub := NewRealtimeSubscriber(repo, feed, testLogger())

	var mu sync.Mutex
	count := 0
	detach, err := sub.Attach(context.Background(), "job-1", func(*model.Conversation, bool) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer detach()

	// Deliver a malformed event directly to the subscription channel.
	feed.mu.Lock()
	for _, ch := range feed.subs["job-1"] {
		ch <- repository.ChangeEvent{New: nil}
	}
	feed.mu.Unlock()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("nil-record event must be dropped, got %d deliveries", count)
	}
}
