package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"report-orchestrator/internal/domain"
	"report-orchestrator/internal/domain/model"
	"report-orchestrator/internal/domain/ports/adapter"
	"report-orchestrator/internal/infra/metrics"
)

// PollerConfig tunes the adaptive polling loop.
type PollerConfig struct {
	BaseInterval  time.Duration // reset to this after every success
	MaxInterval   time.Duration // backoff cap
	MaxErrors     int           // circuit breaker threshold
	TotalTimeout  time.Duration // hard budget for one polling session
	StatusTimeout time.Duration // per-request
	ResultTimeout time.Duration // per-request, for the single result fetch
}

// StatusPoller repeatedly observes one job until it reaches a terminal
// state, the circuit breaker trips, or the total-duration budget runs out.
//
// Every Start supersedes the previous generation: a response that resolves
// after Stop (or after a newer Start) is guaranteed to be a no-op.
type StatusPoller struct {
	pipe    adapter.PipelineAdapter
	cfg     PollerConfig
	visible func() bool
	log     *zerolog.Logger

	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
}

func NewStatusPoller(pipe adapter.PipelineAdapter, cfg PollerConfig, visible func() bool, logger *zerolog.Logger) *StatusPoller {
	if visible == nil {
		visible = func() bool { return true }
	}
	plog := logger.With().Str("component", "StatusPoller").Logger()
	return &StatusPoller{pipe: pipe, cfg: cfg, visible: visible, log: &plog}
}

type pollRun struct {
	gen        uint64
	jobID      string
	interval   time.Duration
	errorCount int
	startedAt  time.Time

	onUpdate   func(*adapter.StatusResponse)
	onTerminal func(json.RawMessage)
	onFatal    func(error)
}

// Start begins a new polling session for jobID, superseding any previous
// one. Callbacks fire from the poller's own goroutines and only while the
// session that scheduled them is still current.
func (p *StatusPoller) Start(jobID string, onUpdate func(*adapter.StatusResponse), onTerminal func(json.RawMessage), onFatal func(error)) {
	p.mu.Lock()
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
	}
	run := &pollRun{
		gen:        p.gen,
		jobID:      jobID,
		interval:   p.cfg.BaseInterval,
		startedAt:  time.Now(),
		onUpdate:   onUpdate,
		onTerminal: onTerminal,
		onFatal:    onFatal,
	}
	p.schedule(run)
	p.mu.Unlock()
	p.log.Debug().Str("job_id", jobID).Uint64("poll_session", run.gen).Msg("polling started")
}

// Stop supersedes the live session. Idempotent; safe to race with an
// in-flight request, which will then resolve into a no-op.
func (p *StatusPoller) Stop() {
	p.mu.Lock()
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
}

// schedule arms the single timer for this run. Caller holds p.mu.
func (p *StatusPoller) schedule(run *pollRun) {
	metrics.SetPollInterval(run.interval.Seconds())
	p.timer = time.AfterFunc(run.interval, func() { p.tick(run) })
}

func (p *StatusPoller) stale(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen != p.gen
}

func (p *StatusPoller) reschedule(run *pollRun) {
	p.mu.Lock()
	if run.gen == p.gen {
		p.schedule(run)
	}
	p.mu.Unlock()
}

func (p *StatusPoller) tick(run *pollRun) {
	if p.stale(run.gen) {
		metrics.IncPoll("stale")
		return
	}
	// An invisible page keeps its schedule but skips the request.
	if !p.visible() {
		p.reschedule(run)
		return
	}
	if time.Since(run.startedAt) > p.cfg.TotalTimeout {
		metrics.IncPoll("timeout")
		p.Stop()
		run.onFatal(domain.ErrPollingTimedOut)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.StatusTimeout)
	st, err := p.pipe.GetStatus(ctx, run.jobID)
	cancel()

	// The session may have been superseded while the request was in flight.
	if p.stale(run.gen) {
		metrics.IncPoll("stale")
		return
	}

	if err != nil {
		p.backoff(run, err)
		return
	}

	metrics.IncPoll("ok")
	run.errorCount = 0
	run.interval = p.cfg.BaseInterval

	switch st.Status {
	case model.JobStatusComplete:
		p.Stop()
		p.fetchResult(run, st)
	case model.JobStatusError, model.JobStatusFailed:
		p.Stop()
		metrics.IncJobFinished(string(st.Status))
		msg := st.Message
		if msg == "" {
			msg = string(st.Status)
		}
		run.onFatal(errors.New(msg))
	case model.JobStatusClarifying:
		// Clarification belongs to the submission-response path alone.
		// Two writers deciding to show a question is exactly the race
		// this poller must not create, so it just stands down.
		p.Stop()
		p.log.Debug().Str("job_id", run.jobID).Msg("status=clarifying, poller standing down")
	default:
		run.onUpdate(st)
		p.reschedule(run)
	}
}

func (p *StatusPoller) backoff(run *pollRun, err error) {
	metrics.IncPoll("error")
	run.errorCount++
	next := p.cfg.BaseInterval << (run.errorCount - 1)
	if next > p.cfg.MaxInterval || next <= 0 {
		next = p.cfg.MaxInterval
	}
	run.interval = next

	if run.errorCount >= p.cfg.MaxErrors {
		p.log.Warn().Str("job_id", run.jobID).Int("errors", run.errorCount).Err(err).
			Msg("circuit breaker tripped, polling stopped")
		p.Stop()
		run.onFatal(domain.ErrPollingExhausted)
		return
	}
	p.log.Debug().Str("job_id", run.jobID).Int("errors", run.errorCount).
		Dur("next_interval", run.interval).Err(err).Msg("poll failed, backing off")
	p.reschedule(run)
}

// fetchResult retrieves the full payload exactly once after completion.
func (p *StatusPoller) fetchResult(run *pollRun, st *adapter.StatusResponse) {
	if st.Payload != nil {
		metrics.IncJobFinished("complete")
		run.onTerminal(st.Payload)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ResultTimeout)
	payload, err := p.pipe.GetResult(ctx, run.jobID)
	cancel()
	if err != nil {
		run.onFatal(err)
		return
	}
	metrics.IncJobFinished("complete")
	run.onTerminal(payload)
}
