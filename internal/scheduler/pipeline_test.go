package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"capture-scheduler/internal/capture"
	"capture-scheduler/internal/models"
	"capture-scheduler/internal/reward"
	"capture-scheduler/internal/storage"
)

type fakeSessions struct {
	capturedStrategy string
	capturedFallback bool
	markErr          error

	completed     bool
	completedLoc  storage.Locator
	completedAmt  float64
	completeErr   error

	failedStatus string
	failedDetail string
}

func (f *fakeSessions) MarkSessionCaptured(_ context.Context, _ string, strategy string, fallback bool) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.capturedStrategy = strategy
	f.capturedFallback = fallback
	return nil
}

func (f *fakeSessions) CompleteSession(_ context.Context, _, backend, key, url string, sizeBytes int64, amount float64) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = true
	f.completedLoc = storage.Locator{Backend: backend, Key: key, URL: url, SizeBytes: sizeBytes}
	f.completedAmt = amount
	return nil
}

func (f *fakeSessions) FailSession(_ context.Context, _, status, detail string) error {
	f.failedStatus = status
	f.failedDetail = detail
	return nil
}

type fakeSource struct {
	data     []byte
	strategy string
	err      error
}

func (f fakeSource) Acquire(context.Context) ([]byte, string, error) {
	return f.data, f.strategy, f.err
}

type fakeSink struct {
	err    error
	stored []string
}

func (f *fakeSink) Store(_ context.Context, key string, body []byte, contentType string) (storage.Locator, error) {
	if f.err != nil {
		return storage.Locator{}, f.err
	}
	f.stored = append(f.stored, key)
	return storage.Locator{
		Backend:     "s3",
		Key:         key,
		URL:         "s3://bucket/" + key,
		SizeBytes:   int64(len(body)),
		ContentType: contentType,
	}, nil
}

type fakeLedger struct {
	amount  float64
	already bool
	err     error
	calls   int
}

func (f *fakeLedger) Credit(context.Context, string, string) (reward.CreditResult, error) {
	f.calls++
	if f.err != nil {
		return reward.CreditResult{}, f.err
	}
	return reward.CreditResult{Amount: f.amount, AlreadyCredited: f.already}, nil
}

func validArtifact(t *testing.T) []byte {
	t.Helper()
	return capture.NewFallbackGenerator().Generate("u", "s", "seed", time.Now())
}

func newTestPipeline(sessions *fakeSessions, source ArtifactSource, sink ArtifactSink, ledger Ledger) *Pipeline {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPipeline(sessions, source, sink, ledger, capture.DefaultValidationPolicy(), logger)
}

func TestPipelineCompletes(t *testing.T) {
	sessions := &fakeSessions{}
	sink := &fakeSink{}
	ledger := &fakeLedger{amount: 0.05}
	p := newTestPipeline(sessions, fakeSource{data: validArtifact(t), strategy: "imagesnap"}, sink, ledger)

	out := p.Run(context.Background(), "user-1", "sess-1")

	if out.Status != models.SessionCompleted {
		t.Fatalf("expected completed, got %s (%s)", out.Status, out.Detail)
	}
	if out.Reward != 0.05 {
		t.Fatalf("expected reward 0.05, got %v", out.Reward)
	}
	if out.Strategy != "imagesnap" || out.FallbackUsed {
		t.Fatalf("unexpected strategy %s fallback=%v", out.Strategy, out.FallbackUsed)
	}
	if !sessions.completed || sessions.completedAmt != 0.05 {
		t.Fatalf("expected session finalized with reward, got %+v", sessions)
	}
	if sessions.completedLoc.Backend != "s3" {
		t.Fatalf("expected s3 locator recorded, got %+v", sessions.completedLoc)
	}
	if len(sink.stored) != 1 {
		t.Fatalf("expected one stored artifact")
	}
}

func TestPipelineFallbackArtifactStillCompletes(t *testing.T) {
	sessions := &fakeSessions{}
	sink := &fakeSink{}
	ledger := &fakeLedger{amount: 0.05}
	p := newTestPipeline(sessions, fakeSource{err: errors.New("all capture strategies failed: no camera")}, sink, ledger)

	out := p.Run(context.Background(), "user-1", "sess-1")

	if out.Status != models.SessionCompleted {
		t.Fatalf("expected completed via fallback, got %s (%s)", out.Status, out.Detail)
	}
	if !out.FallbackUsed || out.Strategy != "fallback" {
		t.Fatalf("expected fallback artifact, got strategy=%s fallback=%v", out.Strategy, out.FallbackUsed)
	}
	if !sessions.capturedFallback || sessions.capturedStrategy != "fallback" {
		t.Fatalf("expected fallback recorded on session, got %+v", sessions)
	}
	if out.Reward != 0.05 {
		t.Fatalf("fallback capture still earns the reward, got %v", out.Reward)
	}
}

func TestPipelineStorageExhaustionFailsUpload(t *testing.T) {
	sessions := &fakeSessions{}
	ledger := &fakeLedger{amount: 0.05}
	p := newTestPipeline(sessions, fakeSource{data: validArtifact(t), strategy: "imagesnap"},
		&fakeSink{err: errors.New("all storage backends failed: disk full")}, ledger)

	out := p.Run(context.Background(), "user-1", "sess-1")

	if out.Status != models.SessionUploadFailed {
		t.Fatalf("expected upload_failed, got %s", out.Status)
	}
	if ledger.calls != 0 {
		t.Fatalf("no reward may be credited without a stored artifact")
	}
	if sessions.failedStatus != models.SessionUploadFailed {
		t.Fatalf("expected failure persisted, got %q", sessions.failedStatus)
	}
	if out.Locator.Key != "" {
		t.Fatalf("expected empty locator on upload failure, got %+v", out.Locator)
	}
}

func TestPipelineValidationFailureEarnsNothing(t *testing.T) {
	sessions := &fakeSessions{}
	ledger := &fakeLedger{amount: 0.05}
	p := newTestPipeline(sessions, fakeSource{data: make([]byte, 50), strategy: "imagesnap"}, &fakeSink{}, ledger)

	out := p.Run(context.Background(), "user-1", "sess-1")

	if out.Status != models.SessionValidationFailed {
		t.Fatalf("expected validation_failed, got %s", out.Status)
	}
	if ledger.calls != 0 || out.Reward != 0 {
		t.Fatalf("expected no reward for invalid artifact")
	}
	if sessions.failedStatus != models.SessionValidationFailed {
		t.Fatalf("expected failure persisted, got %q", sessions.failedStatus)
	}
}

func TestPipelineLedgerErrorFails(t *testing.T) {
	sessions := &fakeSessions{}
	p := newTestPipeline(sessions, fakeSource{data: validArtifact(t), strategy: "imagesnap"},
		&fakeSink{}, &fakeLedger{err: errors.New("postgres down")})

	out := p.Run(context.Background(), "user-1", "sess-1")

	if out.Status != models.SessionFailed {
		t.Fatalf("expected failed, got %s", out.Status)
	}
	if sessions.completed {
		t.Fatalf("session must not complete when crediting fails")
	}
}

func TestPipelineReplayedCreditKeepsOriginalAmount(t *testing.T) {
	sessions := &fakeSessions{}
	ledger := &fakeLedger{amount: 0.05, already: true}
	p := newTestPipeline(sessions, fakeSource{data: validArtifact(t), strategy: "imagesnap"}, &fakeSink{}, ledger)

	out := p.Run(context.Background(), "user-1", "sess-1")

	if out.Status != models.SessionCompleted {
		t.Fatalf("expected completed, got %s", out.Status)
	}
	if out.Reward != 0.05 {
		t.Fatalf("replay must surface the originally credited amount, got %v", out.Reward)
	}
}
