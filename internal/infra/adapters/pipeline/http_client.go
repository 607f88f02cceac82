package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"report-orchestrator/internal/config"
	"report-orchestrator/internal/domain"
	"report-orchestrator/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.PipelineAdapter = (*HTTPClient)(nil)

// HTTPClient talks to the remote analysis pipeline over its JSON API.
// Transport failures and non-2xx responses are classified into domain
// sentinels here, at the boundary where the call was made; callers only
// ever see the taxonomy, never raw HTTP.
type HTTPClient struct {
	base   string
	apiKey string
	client *http.Client
	log    *zerolog.Logger
}

func NewHTTPClient(cfg *config.PipelineConfig, logger *zerolog.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("pipeline base url empty")
	}
	plog := logger.With().Str("component", "PipelineClient").Logger()
	return &HTTPClient{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey: cfg.APIKey,
		// Per-call budgets come from the caller's context; this is a
		// backstop for calls made without one.
		client: &http.Client{Timeout: 2 * time.Minute},
		log:    &plog,
	}, nil
}

func (c *HTTPClient) Submit(ctx context.Context, req adapter.SubmitRequest) (*adapter.SubmitResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/chat", req)
	if err != nil {
		return nil, err
	}
	var resp adapter.SubmitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, c.validationErr("submit", "(body)", err)
	}
	if resp.JobID == "" {
		return nil, c.validationErr("submit", "jobId", errors.New("missing"))
	}
	if !resp.Status.Known() {
		return nil, c.validationErr("submit", "status", fmt.Errorf("unknown value %q", resp.Status))
	}
	return &resp, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, jobID string) (*adapter.StatusResponse, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/chat/"+jobID+"/status", nil)
	if err != nil {
		return nil, err
	}
	var resp adapter.StatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, c.validationErr("getStatus", "(body)", err)
	}
	if !resp.Status.Known() {
		return nil, c.validationErr("getStatus", "status", fmt.Errorf("unknown value %q", resp.Status))
	}
	return &resp, nil
}

func (c *HTTPClient) GetResult(ctx context.Context, jobID string) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/chat/"+jobID+"/result", nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, c.validationErr("getResult", "(body)", errors.New("not valid json"))
	}
	return json.RawMessage(body), nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.ErrPipelineTimeout
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPipelineServer, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrPipelineServer, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, c.classify(resp.StatusCode, method, path)
}

func (c *HTTPClient) classify(code int, method, path string) error {
	c.log.Warn().Int("code", code).Str("method", method).Str("path", path).Msg("pipeline request rejected")
	switch {
	case code == http.StatusNotFound:
		return domain.ErrPipelineNotFound
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return domain.ErrPipelineForbidden
	case code == http.StatusTooManyRequests:
		return domain.ErrPipelineRateLimit
	case code >= 500:
		return fmt.Errorf("%w: http %d", domain.ErrPipelineServer, code)
	default:
		return fmt.Errorf("%w: http %d", domain.ErrPipelineValidation, code)
	}
}

// validationErr logs the offending field path and wraps the sentinel; a
// malformed response is fatal for that call, never silently coerced.
func (c *HTTPClient) validationErr(op, field string, err error) error {
	c.log.Error().Str("op", op).Str("field", field).Err(err).Msg("pipeline response failed validation")
	return fmt.Errorf("%w: %s %s: %v", domain.ErrPipelineValidation, op, field, err)
}
