package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"report-orchestrator/internal/domain"
	"report-orchestrator/internal/domain/model"
	"report-orchestrator/internal/domain/ports/adapter"
)

// ---- Fakes ----

type fakePipeline struct {
	mu       sync.Mutex
	submits  []adapter.SubmitRequest
	statuses int
	results  int

	submitFn func(req adapter.SubmitRequest) (*adapter.SubmitResponse, error)
	statusFn func(jobID string) (*adapter.StatusResponse, error)
	resultFn func(jobID string) (json.RawMessage, error)
}

func (f *fakePipeline) Submit(ctx context.Context, req adapter.SubmitRequest) (*adapter.SubmitResponse, error) {
	f.mu.Lock()
	f.submits = append(f.submits, req)
	fn := f.submitFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no submit script")
	}
	return fn(req)
}

func (f *fakePipeline) GetStatus(ctx context.Context, jobID string) (*adapter.StatusResponse, error) {
	f.mu.Lock()
	f.statuses++
	fn := f.statusFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no status script")
	}
	return fn(jobID)
}

func (f *fakePipeline) GetResult(ctx context.Context, jobID string) (json.RawMessage, error) {
	f.mu.Lock()
	f.results++
	fn := f.resultFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no result script")
	}
	return fn(jobID)
}

func (f *fakePipeline) submitCalls() []adapter.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]adapter.SubmitRequest, len(f.submits))
	copy(out, f.submits)
	return out
}

func (f *fakePipeline) statusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses
}

func (f *fakePipeline) resultCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results
}

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func testPollerConfig() PollerConfig {
	return PollerConfig{
		BaseInterval:  2 * time.Millisecond,
		MaxInterval:   16 * time.Millisecond,
		MaxErrors:     5,
		TotalTimeout:  5 * time.Second,
		StatusTimeout: time.Second,
		ResultTimeout: time.Second,
	}
}

// ---- Tests ----

func TestPollerBackoffDoublesAndCaps(t *testing.T) {
	p := NewStatusPoller(&fakePipeline{}, PollerConfig{
		BaseInterval: 3 * time.Second,
		MaxInterval:  30 * time.Second,
		MaxErrors:    100,
	}, nil, testLogger())

	// A run from a superseded generation: backoff computes intervals but
	// reschedule is a no-op, so nothing actually fires.
	run := &pollRun{gen: 99, jobID: "job-1", interval: 3 * time.Second,
		onFatal: func(error) { t.Fatal("breaker must not trip below the threshold") }}

	want := []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		p.backoff(run, errors.New("boom"))
		if run.interval != w {
			t.Fatalf("after failure %d interval = %v, want %v", i+1, run.interval, w)
		}
	}
}

func TestPollerCircuitBreaker(t *testing.T) {
	pipe := &fakePipeline{
		statusFn: func(string) (*adapter.StatusResponse, error) { return nil, errors.New("down") },
	}
	p := NewStatusPoller(pipe, testPollerConfig(), nil, testLogger())

	fatal := make(chan error, 1)
	p.Start("job-1",
		func(*adapter.StatusResponse) { t.Error("no update expected") },
		func(json.RawMessage) { t.Error("no terminal expected") },
		func(err error) { fatal <- err },
	)

	select {
	case err := <-fatal:
		if !errors.Is(err, domain.ErrPollingExhausted) {
			t.Fatalf("fatal = %v, want ErrPollingExhausted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("circuit breaker never tripped")
	}
}

func TestPollerTotalTimeout(t *testing.T) {
	pipe := &fakePipeline{
		statusFn: func(string) (*adapter.StatusResponse, error) {
			return &adapter.StatusResponse{JobID: "job-1", Status: model.JobStatusProcessing}, nil
		},
	}
	cfg := testPollerConfig()
	cfg.TotalTimeout = 10 * time.Millisecond
	p := NewStatusPoller(pipe, cfg, nil, testLogger())

	fatal := make(chan error, 1)
	p.Start("job-1", func(*adapter.StatusResponse) {}, func(json.RawMessage) {}, func(err error) { fatal <- err })

	select {
	case err := <-fatal:
		if !errors.Is(err, domain.ErrPollingTimedOut) {
			t.Fatalf("fatal = %v, want ErrPollingTimedOut", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("total-duration budget never enforced")
	}
}

func TestPollerStopMakesInFlightRequestANoop(t *testing.T) {
	release := make(chan struct{})
	pipe := &fakePipeline{
		statusFn: func(string) (*adapter.StatusResponse, error) {
			<-release
			return &adapter.StatusResponse{JobID: "job-1", Status: model.JobStatusComplete, Payload: json.RawMessage(`{}`)}, nil
		},
	}
	p := NewStatusPoller(pipe, testPollerConfig(), nil, testLogger())

	var fired bool
	var mu sync.Mutex
	p.Start("job-1",
		func(*adapter.StatusResponse) {},
		func(json.RawMessage) { mu.Lock(); fired = true; mu.Unlock() },
		func(error) { mu.Lock(); fired = true; mu.Unlock() },
	)

	// Wait until the request is actually in flight, then supersede it.
	deadline := time.Now().Add(time.Second)
	for pipe.statusCalls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("status request never started")
		}
		time.Sleep(time.Millisecond)
	}
	p.Stop()
	close(release)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatal("callback fired after Stop; stale response must be ignored")
	}
}

func TestPollerCompleteFetchesResultOnce(t *testing.T) {
	payload := json.RawMessage(`{"report":"ready"}`)
	pipe := &fakePipeline{
		statusFn: func(string) (*adapter.StatusResponse, error) {
			return &adapter.StatusResponse{JobID: "job-1", Status: model.JobStatusComplete}, nil
		},
		resultFn: func(string) (json.RawMessage, error) { return payload, nil },
	}
	p := NewStatusPoller(pipe, testPollerConfig(), nil, testLogger())

	got := make(chan json.RawMessage, 1)
	p.Start("job-1", func(*adapter.StatusResponse) {}, func(pl json.RawMessage) { got <- pl }, func(err error) { t.Errorf("fatal: %v", err) })

	select {
	case pl := <-got:
		if string(pl) != string(payload) {
			t.Fatalf("payload = %s", pl)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("terminal payload never delivered")
	}
	time.Sleep(20 * time.Millisecond)
	if n := pipe.resultCalls(); n != 1 {
		t.Fatalf("result fetched %d times, want exactly 1", n)
	}
}

func TestPollerClarifyingStandsDown(t *testing.T) {
	pipe := &fakePipeline{
		statusFn: func(string) (*adapter.StatusResponse, error) {
			return &adapter.StatusResponse{JobID: "job-1", Status: model.JobStatusClarifying}, nil
		},
	}
	p := NewStatusPoller(pipe, testPollerConfig(), nil, testLogger())

	p.Start("job-1",
		func(*adapter.StatusResponse) { t.Error("clarifying must not surface as an update") },
		func(json.RawMessage) { t.Error("clarifying is not terminal") },
		func(error) { t.Error("clarifying is not fatal") },
	)

	// One observation, then silence: the submission path owns clarification.
	time.Sleep(50 * time.Millisecond)
	if n := pipe.statusCalls(); n != 1 {
		t.Fatalf("status polled %d times after clarifying, want 1", n)
	}
}

func TestPollerVisibilitySkipsRequestsButKeepsSchedule(t *testing.T) {
	pipe := &fakePipeline{
		statusFn: func(string) (*adapter.StatusResponse, error) {
			return &adapter.StatusResponse{JobID: "job-1", Status: model.JobStatusProcessing}, nil
		},
	}
	var mu sync.Mutex
	visible := false
	p := NewStatusPoller(pipe, testPollerConfig(), func() bool {
		mu.Lock()
		defer mu.Unlock()
		return visible
	}, testLogger())

	p.Start("job-1", func(*adapter.StatusResponse) {}, func(json.RawMessage) {}, func(error) {})

	time.Sleep(30 * time.Millisecond)
	if n := pipe.statusCalls(); n != 0 {
		t.Fatalf("hidden page still polled %d times", n)
	}

	mu.Lock()
	visible = true
	mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for pipe.statusCalls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("polling never resumed after page became visible")
		}
		time.Sleep(time.Millisecond)
	}
	p.Stop()
}
