package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"capture-scheduler/internal/capture"
	"capture-scheduler/internal/models"
	"capture-scheduler/internal/reward"
	"capture-scheduler/internal/storage"
	"capture-scheduler/internal/telemetry"
)

// SessionStore persists capture session state transitions.
type SessionStore interface {
	MarkSessionCaptured(ctx context.Context, id, strategy string, fallback bool) error
	CompleteSession(ctx context.Context, id, backend, key, url string, sizeBytes int64, amount float64) error
	FailSession(ctx context.Context, id, status, detail string) error
}

// ArtifactSource acquires raw artifact bytes, reporting the winning strategy.
type ArtifactSource interface {
	Acquire(ctx context.Context) ([]byte, string, error)
}

// ArtifactSink persists artifact bytes under a key.
type ArtifactSink interface {
	Store(ctx context.Context, key string, body []byte, contentType string) (storage.Locator, error)
}

// Ledger credits the per-session reward idempotently.
type Ledger interface {
	Credit(ctx context.Context, userID, sessionID string) (reward.CreditResult, error)
}

// Outcome summarizes one pipeline run. Status is always a terminal session
// state; errors never bubble past the pipeline boundary.
type Outcome struct {
	SessionID    string
	Status       string
	Locator      storage.Locator
	Reward       float64
	Strategy     string
	FallbackUsed bool
	Detail       string
}

// Pipeline drives one capture attempt end to end: acquire, persist, validate,
// credit, finalize. Every step transition is written to the session record so
// partial progress survives a crash.
type Pipeline struct {
	sessions SessionStore
	source   ArtifactSource
	fallback *capture.FallbackGenerator
	sink     ArtifactSink
	policy   capture.ValidationPolicy
	ledger   Ledger
	logger   *slog.Logger
	now      func() time.Time
}

// NewPipeline wires the capture pipeline.
func NewPipeline(sessions SessionStore, source ArtifactSource, sink ArtifactSink, ledger Ledger, policy capture.ValidationPolicy, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		sessions: sessions,
		source:   source,
		fallback: capture.NewFallbackGenerator(),
		sink:     sink,
		policy:   policy,
		ledger:   ledger,
		logger:   logger.With("component", "pipeline"),
		now:      time.Now,
	}
}

// Run executes the pipeline for one (user, session) pair and returns the
// terminal outcome. Unexpected errors map to the generic failed state.
func (p *Pipeline) Run(ctx context.Context, userID, sessionID string) (out Outcome) {
	telemetry.InFlightPipelines.Inc()
	defer telemetry.InFlightPipelines.Dec()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline panic", "session_id", sessionID, "panic", r)
			out = p.fail(ctx, sessionID, models.SessionFailed, fmt.Sprintf("internal error: %v", r))
		}
		if models.IsFailure(out.Status) {
			telemetry.CapturesFailed.Inc()
		} else {
			telemetry.CapturesCompleted.Inc()
		}
	}()

	// Acquire. Strategy exhaustion is not fatal: a placeholder artifact
	// carrying the last failure reason keeps the pipeline moving.
	data, strategy, err := p.source.Acquire(ctx)
	fallbackUsed := false
	if err != nil {
		p.logger.Warn("capture strategies exhausted, generating placeholder",
			"session_id", sessionID, "error", err)
		data = p.fallback.Generate(userID, sessionID, err.Error(), p.now())
		strategy = "fallback"
		fallbackUsed = true
		telemetry.FallbackArtifacts.Inc()
	}

	if err := p.sessions.MarkSessionCaptured(ctx, sessionID, strategy, fallbackUsed); err != nil {
		return p.fail(ctx, sessionID, models.SessionFailed, fmt.Sprintf("record capture: %v", err))
	}

	// Persist through the storage chain; chain exhaustion is terminal.
	key := storage.ArtifactKey(userID, sessionID, p.now())
	loc, err := p.sink.Store(ctx, key, data, "image/jpeg")
	if err != nil {
		return p.fail(ctx, sessionID, models.SessionUploadFailed, err.Error())
	}

	// Validate the persisted artifact.
	res := p.policy.Validate(data, loc)
	if !res.OK {
		return p.fail(ctx, sessionID, models.SessionValidationFailed,
			fmt.Sprintf("%s: %s", res.Rule, res.Detail))
	}

	// Credit the reward, keyed by session id. Crediting is idempotent, so a
	// rerun of the same session cannot double-credit.
	credit, err := p.ledger.Credit(ctx, userID, sessionID)
	if err != nil {
		return p.fail(ctx, sessionID, models.SessionFailed, fmt.Sprintf("credit reward: %v", err))
	}

	if err := p.sessions.CompleteSession(ctx, sessionID, loc.Backend, loc.Key, loc.URL, loc.SizeBytes, credit.Amount); err != nil {
		return p.fail(ctx, sessionID, models.SessionFailed, fmt.Sprintf("finalize session: %v", err))
	}

	p.logger.Info("capture completed",
		"session_id", sessionID, "user_id", userID, "backend", loc.Backend,
		"key", loc.Key, "strategy", strategy, "fallback", fallbackUsed, "reward", credit.Amount)

	return Outcome{
		SessionID:    sessionID,
		Status:       models.SessionCompleted,
		Locator:      loc,
		Reward:       credit.Amount,
		Strategy:     strategy,
		FallbackUsed: fallbackUsed,
	}
}

func (p *Pipeline) fail(ctx context.Context, sessionID, status, detail string) Outcome {
	if err := p.sessions.FailSession(ctx, sessionID, status, detail); err != nil {
		p.logger.Error("record session failure", "session_id", sessionID, "status", status, "error", err)
	}
	p.logger.Warn("capture failed", "session_id", sessionID, "status", status, "detail", detail)
	return Outcome{SessionID: sessionID, Status: status, Detail: detail}
}
