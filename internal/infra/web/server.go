package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"report-orchestrator/internal/domain"
	"report-orchestrator/internal/infra/redis"
	"report-orchestrator/internal/usecase"
)

type contextKey string

const claimsKey contextKey = "session_claims"

// Server exposes the orchestrator to its UI collaborator over JSON.
type Server struct {
	orch       *usecase.Orchestrator
	auth       *AuthManager
	limiter    *redis.RateLimiter
	ratePerMin int
	log        *zerolog.Logger
}

func NewServer(orch *usecase.Orchestrator, auth *AuthManager, limiter *redis.RateLimiter, ratePerMin int, logger *zerolog.Logger) *Server {
	slog := logger.With().Str("component", "WebServer").Logger()
	return &Server{orch: orch, auth: auth, limiter: limiter, ratePerMin: ratePerMin, log: &slog}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Post("/api/session", s.handleNewSession)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/api/state", s.handleState)
		r.Post("/api/messages", s.handleSendMessage)
		r.Post("/api/clarification/skip", s.handleSkip)
		r.Post("/api/cancel", s.handleCancel)
		r.Post("/api/visibility", s.handleVisibility)

		r.Get("/api/conversations", s.handleList)
		r.Post("/api/conversations", s.handleNewConversation)
		r.Post("/api/conversations/{id}/select", s.handleSelect)
		r.Put("/api/conversations/{id}/title", s.handleRename)
		r.Post("/api/conversations/{id}/archive", s.handleArchive)
		r.Delete("/api/conversations/{id}", s.handleDelete)
	})
	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.ParseFromRequest(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	claims, err := s.auth.Mint(w)
	if err != nil {
		s.log.Error().Err(err).Msg("session mint failed")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"clientId": claims.ClientID})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Malformed body", http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		claims := r.Context().Value(claimsKey).(*SessionClaims)
		ok, err := s.limiter.Allow(r.Context(), redis.ClientSubmitKey(claims.ClientID), s.ratePerMin, time.Minute)
		if err != nil {
			s.log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		} else if !ok {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
	}

	if err := s.orch.SendMessage(r.Context(), body.Text); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.orch.Snapshot())
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	s.orch.SkipClarification(r.Context())
	writeJSON(w, http.StatusAccepted, s.orch.Snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.orch.CancelProcessing(r.Context())
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Visible bool `json:"visible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Malformed body", http.StatusBadRequest)
		return
	}
	s.orch.SetVisible(body.Visible)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNewConversation(w http.ResponseWriter, r *http.Request) {
	s.orch.StartNewConversation(r.Context())
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("archived") == "true"
	list, err := s.orch.ListConversations(r.Context(), includeArchived)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.SelectConversation(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Malformed body", http.StatusBadRequest)
		return
	}
	if err := s.orch.RenameConversation(r.Context(), id, body.Title); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.ArchiveConversation(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.DeleteConversation(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, "Invalid argument", http.StatusBadRequest)
	case errors.Is(err, domain.ErrSendTooFast):
		http.Error(w, "Sending too fast", http.StatusTooManyRequests)
	case errors.Is(err, domain.ErrSendInFlight):
		http.Error(w, "A send is already in progress", http.StatusConflict)
	case errors.Is(err, domain.ErrPromptTooLarge):
		http.Error(w, "Message too large", http.StatusRequestEntityTooLarge)
	default:
		s.log.Error().Err(err).Msg("request failed")
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
