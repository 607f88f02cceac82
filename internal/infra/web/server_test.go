package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"report-orchestrator/internal/config"
	"report-orchestrator/internal/domain"
	"report-orchestrator/internal/domain/model"
	"report-orchestrator/internal/domain/ports/adapter"
	"report-orchestrator/internal/domain/ports/repository"
	"report-orchestrator/internal/usecase"
)

// newTestLogger creates a silent logger for tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

// ---- minimal fakes backing the orchestrator ----

type stubPipeline struct{}

func (stubPipeline) Submit(ctx context.Context, req adapter.SubmitRequest) (*adapter.SubmitResponse, error) {
	return &adapter.SubmitResponse{JobID: "job-1", Status: model.JobStatusProcessing}, nil
}

func (stubPipeline) GetStatus(ctx context.Context, jobID string) (*adapter.StatusResponse, error) {
	return &adapter.StatusResponse{JobID: jobID, Status: model.JobStatusProcessing}, nil
}

func (stubPipeline) GetResult(ctx context.Context, jobID string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

type stubRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Conversation
}

func newStubRepo() *stubRepo { return &stubRepo{byID: map[string]*model.Conversation{}} }

func (s *stubRepo) Save(ctx context.Context, qx any, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.byID[c.ID] = &cp
	return nil
}

func (s *stubRepo) SaveMessage(ctx context.Context, qx any, m *model.Message) error { return nil }

func (s *stubRepo) FindByID(ctx context.Context, qx any, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.byID[id]; c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubRepo) List(ctx context.Context, qx any, includeArchived bool) ([]*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*model.Conversation{}
	for _, c := range s.byID {
		if c.Archived && !includeArchived {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *stubRepo) Rename(ctx context.Context, qx any, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.byID[id]; c != nil {
		c.Title = title
		return nil
	}
	return domain.ErrNotFound
}

func (s *stubRepo) SetArchived(ctx context.Context, qx any, id string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.byID[id]; c != nil {
		c.Archived = archived
		return nil
	}
	return domain.ErrNotFound
}

func (s *stubRepo) Delete(ctx context.Context, qx any, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID[id] == nil {
		return domain.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

type stubFeed struct{}

func (stubFeed) Subscribe(ctx context.Context, id string) (<-chan repository.ChangeEvent, func(), error) {
	ch := make(chan repository.ChangeEvent)
	return ch, func() {}, nil
}

func (stubFeed) Publish(ctx context.Context, ev repository.ChangeEvent) error { return nil }

func newTestServer(t *testing.T) (*Server, *AuthManager) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Polling = config.PollingConfig{BaseInterval: 50 * time.Millisecond, MaxInterval: 200 * time.Millisecond, MaxErrors: 5, TotalTimeout: 5 * time.Second}
	cfg.Pipeline = config.PipelineConfig{SubmitTimeout: time.Second, StatusTimeout: time.Second, ResultTimeout: time.Second}
	cfg.Clarification = config.ClarificationConfig{MaxHumanAnswers: 1, MaxAutoSkips: 2}
	cfg.Limits = config.LimitsConfig{MaxPromptTokens: 8000, DebounceWindow: time.Millisecond}

	orch := usecase.NewOrchestrator(cfg, stubPipeline{}, newStubRepo(), stubFeed{}, nil, nil, nil, nil, newTestLogger())
	t.Cleanup(orch.Close)

	auth := NewAuthManager("test-jwt-secret-please-change", false, "", time.Minute)
	return NewServer(orch, auth, nil, 10, newTestLogger()), auth
}

func mintCookie(t *testing.T, auth *AuthManager) *http.Cookie {
	t.Helper()
	rr := httptest.NewRecorder()
	if _, err := auth.Mint(rr); err != nil {
		t.Fatalf("mint: %v", err)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one session cookie, got %d", len(cookies))
	}
	return cookies[0]
}

func TestAuthRequired(t *testing.T) {
	srv, auth := newTestServer(t)
	router := srv.Router()

	t.Run("no credentials -> 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("garbage bearer -> 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("minted cookie -> 200", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
		req.AddCookie(mintCookie(t, auth))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var snap usecase.Snapshot
		if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
			t.Fatalf("state not json: %v", err)
		}
		if snap.UIPhase != model.UIPhaseInput {
			t.Fatalf("fresh orchestrator phase = %s, want input", snap.UIPhase)
		}
	})
}

func TestNewSession(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/session", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["clientId"] == "" {
		t.Fatalf("session response missing client id: %s", rr.Body.String())
	}
	if len(rr.Result().Cookies()) != 1 {
		t.Fatalf("session cookie not set")
	}
}

func TestSendMessageEndpoint(t *testing.T) {
	srv, auth := newTestServer(t)
	router := srv.Router()
	cookie := mintCookie(t, auth)

	t.Run("malformed body -> 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader([]byte("{")))
		req.AddCookie(cookie)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("blank text -> 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader([]byte(`{"text":"  "}`)))
		req.AddCookie(cookie)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("accepted -> 202 with snapshot", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader([]byte(`{"text":"analyze my gearbox"}`)))
		req.AddCookie(cookie)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
		}
		var snap usecase.Snapshot
		if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
			t.Fatalf("snapshot not json: %v", err)
		}
		// The stub pipeline answers instantly, so the snapshot may already
		// have advanced from analyzing to processing.
		if snap.UIPhase != model.UIPhaseAnalyzing && snap.UIPhase != model.UIPhaseProcessing {
			t.Fatalf("phase = %s after accept", snap.UIPhase)
		}
	})
}

func TestConversationListEndpoint(t *testing.T) {
	srv, auth := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.AddCookie(mintCookie(t, auth))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var list []*model.Conversation
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("list not json: %v (%s)", err, rr.Body.String())
	}
}
