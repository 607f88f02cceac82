package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"report-orchestrator/internal/config"
	"report-orchestrator/internal/domain"
	"report-orchestrator/internal/domain/model"
	"report-orchestrator/internal/domain/ports/adapter"
	"report-orchestrator/internal/domain/ports/repository"
	"report-orchestrator/internal/infra/logging"
	"report-orchestrator/internal/infra/metrics"
)

// TokenEstimator returns the approximate prompt-token count of a message,
// used to reject oversized problem statements before submission.
type TokenEstimator func(text string) int

// Orchestrator owns the UI-observable phase and all job metadata. All state
// mutation funnels through the reducer via dispatch; the methods below and
// the effect layer only build actions and run the effects the reducer asks
// for. The event loop never preempts mid-reduction: dispatch holds the lock
// across one reduce call, which is the whole locking discipline.
type Orchestrator struct {
	pipe   adapter.PipelineAdapter
	repo   repository.ConversationRepository
	txm    repository.TransactionManager // optional
	sub    *RealtimeSubscriber
	poller *StatusPoller
	titler adapter.TitleGenerator // optional
	est    TokenEstimator         // optional
	log    *zerolog.Logger

	rules           clarificationRules
	debounce        time.Duration
	maxPromptTokens int
	submitTimeout   time.Duration
	resultTimeout   time.Duration

	// visFlag backs the default visibility gate; the UI flips it over the
	// API. Unused when a custom visibility hook was injected.
	visFlag *atomic.Bool

	mu sync.Mutex
	st state
	// session is the monotonic counter that invalidates in-flight work.
	// Bumped on new job, job switch, and teardown; async callbacks carry
	// the session they were started under and are dropped on mismatch.
	session      uint64
	live         bool
	lastSend     time.Time
	sendInFlight bool
	feedJobID    string
	detachFeed   func()
}

func NewOrchestrator(
	cfg *config.Config,
	pipe adapter.PipelineAdapter,
	repo repository.ConversationRepository,
	feed repository.ChangeFeed,
	txm repository.TransactionManager,
	titler adapter.TitleGenerator,
	est TokenEstimator,
	visible func() bool,
	logger *zerolog.Logger,
) *Orchestrator {
	olog := logger.With().Str("component", "Orchestrator").Logger()
	visFlag := &atomic.Bool{}
	visFlag.Store(true)
	if visible == nil {
		visible = visFlag.Load
	}
	poller := NewStatusPoller(pipe, PollerConfig{
		BaseInterval:  cfg.Polling.BaseInterval,
		MaxInterval:   cfg.Polling.MaxInterval,
		MaxErrors:     cfg.Polling.MaxErrors,
		TotalTimeout:  cfg.Polling.TotalTimeout,
		StatusTimeout: cfg.Pipeline.StatusTimeout,
		ResultTimeout: cfg.Pipeline.ResultTimeout,
	}, visible, logger)

	return &Orchestrator{
		pipe:   pipe,
		repo:   repo,
		txm:    txm,
		sub:    NewRealtimeSubscriber(repo, feed, logger),
		poller: poller,
		titler: titler,
		est:    est,
		log:    &olog,
		rules: clarificationRules{
			maxHumanAnswers: cfg.Clarification.MaxHumanAnswers,
			maxAutoSkips:    cfg.Clarification.MaxAutoSkips,
		},
		debounce:        cfg.Limits.DebounceWindow,
		maxPromptTokens: cfg.Limits.MaxPromptTokens,
		submitTimeout:   cfg.Pipeline.SubmitTimeout,
		resultTimeout:   cfg.Pipeline.ResultTimeout,
		st:              initialState(),
		live:            true,
		visFlag:         visFlag,
	}
}

// SetVisible records whether the UI page is currently visible. A hidden page
// keeps the polling schedule but skips the requests.
func (o *Orchestrator) SetVisible(v bool) {
	o.visFlag.Store(v)
}

// Snapshot returns the single consistent view of "what is happening now".
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.snapshot()
}

// SendMessage submits user text: a new problem statement, a follow-up, or,
// when a clarification is displayed, its answer. Calls inside the debounce
// window and re-entrant calls while a send is in flight are rejected, except
// that a message arriving while job creation is still in flight is queued
// and delivered as soon as the job id is known.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) error {
	defer logging.TraceDuration(o.log, "Orchestrator.SendMessage")()
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ErrInvalidArgument
	}
	if o.est != nil && o.maxPromptTokens > 0 && o.est(text) > o.maxPromptTokens {
		return domain.ErrPromptTooLarge
	}

	o.mu.Lock()
	if !o.live {
		o.mu.Unlock()
		return domain.ErrInvalidArgument
	}
	now := time.Now()
	queued := o.st.creationInProgress
	if !queued {
		if now.Sub(o.lastSend) < o.debounce {
			o.mu.Unlock()
			return domain.ErrSendTooFast
		}
		if o.sendInFlight {
			o.mu.Unlock()
			return domain.ErrSendInFlight
		}
		o.lastSend = now
	}
	clarifying := o.st.Phase == model.UIPhaseClarifying
	o.mu.Unlock()

	msg := model.Message{ID: newMessageID(), Role: "user", Content: text, CreatedAt: now}
	if clarifying {
		o.dispatch(0, answerSubmitted{msg: msg})
		return nil
	}
	o.dispatch(0, sendRequested{msg: msg})
	return nil
}

// AnswerClarification resolves the displayed question with a chosen option
// label or free text. Equivalent to SendMessage while clarifying.
func (o *Orchestrator) AnswerClarification(ctx context.Context, answer string) error {
	return o.SendMessage(ctx, answer)
}

// SkipClarification forces the canned "proceed anyway" message immediately,
// whether or not a question is currently displayed.
func (o *Orchestrator) SkipClarification(ctx context.Context) {
	o.dispatch(0, skipRequested{})
}

// StartNewConversation abandons the current view and returns to input.
// In-flight polls and subscriptions for the previous job become no-ops.
func (o *Orchestrator) StartNewConversation(ctx context.Context) {
	o.bumpSession()
	o.dispatch(0, newConversation{})
}

// CancelProcessing stops background activity for the active job without
// touching its stored record.
func (o *Orchestrator) CancelProcessing(ctx context.Context) {
	o.bumpSession()
	o.dispatch(0, cancelRequested{})
}

// SelectConversation re-enters an existing job: synchronous fetch first,
// then the push subscription, so nothing committed in between is missed.
// The UI phase is re-derived from the record's last known status.
func (o *Orchestrator) SelectConversation(ctx context.Context, id string) error {
	defer logging.TraceDuration(o.log, "Orchestrator.SelectConversation")()
	o.mu.Lock()
	if !o.live {
		o.mu.Unlock()
		return domain.ErrInvalidArgument
	}
	o.session++
	sess := o.session
	o.mu.Unlock()

	o.poller.Stop()
	o.detachFeedNow()

	detach, err := o.sub.Attach(ctx, id, func(rec *model.Conversation, initial bool) {
		if initial {
			o.dispatch(sess, conversationSelected{rec: rec})
		} else {
			o.dispatch(sess, recordChanged{rec: rec})
		}
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The job is gone; tell the user to start fresh.
			o.dispatch(sess, conversationNotFound{})
			return nil
		}
		return err
	}
	o.adoptFeed(sess, id, detach)
	return nil
}

func (o *Orchestrator) ListConversations(ctx context.Context, includeArchived bool) ([]*model.Conversation, error) {
	return o.repo.List(ctx, nil, includeArchived)
}

func (o *Orchestrator) ArchiveConversation(ctx context.Context, id string) error {
	return o.repo.SetArchived(ctx, nil, id, true)
}

func (o *Orchestrator) RenameConversation(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.ErrInvalidArgument
	}
	if err := o.repo.Rename(ctx, nil, id, title); err != nil {
		return err
	}
	o.dispatch(0, titleGenerated{jobID: id, title: title})
	return nil
}

// DeleteConversation removes the record and its message history. Deleting
// the active conversation also resets the view.
func (o *Orchestrator) DeleteConversation(ctx context.Context, id string) error {
	if err := o.repo.Delete(ctx, nil, id); err != nil {
		return err
	}
	o.mu.Lock()
	active := o.st.ActiveJobID == id
	o.mu.Unlock()
	if active {
		o.StartNewConversation(ctx)
	}
	return nil
}

// Close tears the orchestrator down. Idempotent; any callback resolving
// afterwards is a guaranteed no-op.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.live = false
	o.session++
	o.mu.Unlock()
	o.poller.Stop()
	o.detachFeedNow()
}

// ---- dispatch and effects ----

// dispatch applies one action through the reducer. sess==0 marks a
// user-originated action, always current while live; anything else must
// match the live session or it is dropped unapplied.
func (o *Orchestrator) dispatch(sess uint64, a action) {
	o.mu.Lock()
	if !o.live || (sess != 0 && sess != o.session) {
		o.mu.Unlock()
		return
	}
	next, effs := reduce(o.st, a, o.rules)
	o.st = next
	cur := o.session
	o.mu.Unlock()

	for _, e := range effs {
		o.runEffect(cur, e)
	}
}

func (o *Orchestrator) runEffect(sess uint64, e effect) {
	switch ev := e.(type) {
	case effSubmit:
		go o.doSubmit(sess, ev)
	case effStartPolling:
		o.startPolling(sess, ev.jobID)
	case effStopPolling:
		o.poller.Stop()
	case effAttachFeed:
		o.attachFeed(sess, ev.jobID)
	case effDetachFeed:
		o.detachFeedNow()
	case effFetchResult:
		go o.doFetchResult(sess, ev.jobID)
	case effPersist:
		// Synchronous so a following attach sees the row.
		o.persist(ev)
	case effGenerateTitle:
		go o.generateTitle(sess, ev)
	}
}

func (o *Orchestrator) doSubmit(sess uint64, ev effSubmit) {
	o.mu.Lock()
	if !o.live || sess != o.session {
		o.mu.Unlock()
		return
	}
	o.sendInFlight = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.sendInFlight = false
		o.mu.Unlock()
	}()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), o.submitTimeout)
	resp, err := o.pipe.Submit(ctx, adapter.SubmitRequest{
		Message:     ev.text,
		JobID:       ev.jobID,
		ResumeToken: ev.token,
	})
	cancel()
	latency := int(time.Since(start) / time.Millisecond)

	if err != nil {
		metrics.ObserveSubmit("transport_error", latency, false)
		o.log.Warn().Err(err).Str("job_id", ev.jobID).Msg("submission failed")
		o.dispatch(sess, submitFailed{userMsg: userMessageFor(err)})
		return
	}
	metrics.ObserveSubmit(string(resp.Status), latency, true)
	switch ev.kind {
	case submitAnswer:
		metrics.IncClarification("human")
	case submitSkip:
		metrics.IncClarification("auto_skip")
	}

	var reply *model.Message
	if resp.Message != "" {
		m := model.Message{ID: newMessageID(), Role: "assistant", Content: resp.Message, CreatedAt: time.Now()}
		reply = &m
	}
	created := ev.jobID == "" && resp.JobID != ""
	o.log.Info().Str("job_id", resp.JobID).Str("status", string(resp.Status)).
		Bool("created", created).Msg("submission accepted")
	o.dispatch(sess, submitSucceeded{resp: resp, reply: reply, created: created})
}

func (o *Orchestrator) startPolling(sess uint64, jobID string) {
	o.poller.Start(jobID,
		func(st *adapter.StatusResponse) {
			o.dispatch(sess, statusTick{status: st})
		},
		func(payload json.RawMessage) {
			o.dispatch(sess, resultReady{jobID: jobID, payload: payload})
		},
		func(err error) {
			o.dispatch(sess, pollFatal{userMsg: pollFatalMessage(err), status: pollFatalStatus(err)})
		},
	)
}

func (o *Orchestrator) doFetchResult(sess uint64, jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.resultTimeout)
	payload, err := o.pipe.GetResult(ctx, jobID)
	cancel()
	if err != nil {
		o.log.Warn().Err(err).Str("job_id", jobID).Msg("result fetch failed")
		o.dispatch(sess, pollFatal{userMsg: userMessageFor(err), status: "error"})
		return
	}
	o.dispatch(sess, resultReady{jobID: jobID, payload: payload})
}

func (o *Orchestrator) attachFeed(sess uint64, jobID string) {
	o.mu.Lock()
	if !o.live || sess != o.session || (o.feedJobID == jobID && o.detachFeed != nil) {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	o.detachFeedNow()

	detach, err := o.sub.Attach(context.Background(), jobID, func(rec *model.Conversation, initial bool) {
		if !initial {
			o.dispatch(sess, recordChanged{rec: rec})
		}
	})
	if err != nil {
		o.log.Warn().Err(err).Str("job_id", jobID).Msg("change feed attach failed")
		return
	}
	o.adoptFeed(sess, jobID, detach)
}

// adoptFeed installs a detach handle unless the session moved on, in which
// case the fresh subscription is torn down immediately.
func (o *Orchestrator) adoptFeed(sess uint64, jobID string, detach func()) {
	o.mu.Lock()
	if !o.live || sess != o.session {
		o.mu.Unlock()
		detach()
		return
	}
	o.feedJobID = jobID
	o.detachFeed = detach
	o.mu.Unlock()
}

func (o *Orchestrator) detachFeedNow() {
	o.mu.Lock()
	detach := o.detachFeed
	o.detachFeed = nil
	o.feedJobID = ""
	o.mu.Unlock()
	if detach != nil {
		detach()
	}
}

func (o *Orchestrator) persist(ev effPersist) {
	if ev.rec == nil || ev.rec.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	save := func(ctx context.Context, qx any) error {
		if err := o.repo.Save(ctx, qx, ev.rec); err != nil {
			return err
		}
		for i := range ev.msgs {
			m := ev.msgs[i]
			m.ConversationID = ev.rec.ID
			if err := o.repo.SaveMessage(ctx, qx, &m); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if o.txm != nil && len(ev.msgs) > 0 {
		// Record and messages land atomically.
		err = o.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			return save(ctx, tx)
		})
	} else {
		err = save(ctx, nil)
	}
	if err != nil {
		o.log.Error().Err(err).Str("conv_id", ev.rec.ID).Msg("conversation save failed")
	}
}

func (o *Orchestrator) generateTitle(sess uint64, ev effGenerateTitle) {
	if o.titler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	title, err := o.titler.GenerateTitle(ctx, ev.problem)
	if err != nil || strings.TrimSpace(title) == "" {
		o.log.Debug().Err(err).Str("job_id", ev.jobID).Msg("title generation skipped")
		return
	}
	if err := o.repo.Rename(ctx, nil, ev.jobID, title); err != nil {
		o.log.Debug().Err(err).Str("job_id", ev.jobID).Msg("title rename failed")
		return
	}
	o.dispatch(sess, titleGenerated{jobID: ev.jobID, title: title})
}

func (o *Orchestrator) bumpSession() {
	o.mu.Lock()
	o.session++
	o.mu.Unlock()
}

func pollFatalMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrPollingExhausted):
		return msgConnectionLost
	case errors.Is(err, domain.ErrPollingTimedOut):
		return msgPollTimeout
	default:
		return msgAnalysisFailed
	}
}

func pollFatalStatus(err error) string {
	switch {
	case errors.Is(err, domain.ErrPollingExhausted):
		return "connection_lost"
	case errors.Is(err, domain.ErrPollingTimedOut):
		return "timeout"
	default:
		return "error"
	}
}

func newMessageID() string { return ulid.Make().String() }
