package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"capture-scheduler/internal/models"
	"capture-scheduler/internal/notify"
	"capture-scheduler/internal/telemetry"
	"capture-scheduler/internal/users"
)

// Store is the durable state the loop evaluates and mutates. Eligibility is
// always computed from persisted rows, never from in-memory counters.
type Store interface {
	ListActiveSchedules(ctx context.Context) ([]models.Schedule, error)
	ClaimSchedule(ctx context.Context, id string, now time.Time) (bool, error)
	CountSessionsSince(ctx context.Context, userID string, since time.Time, includeFailed bool) (int, error)
	CreateSession(ctx context.Context, userID string, scheduleID *string, triggerType string) (models.CaptureSession, error)
}

// UserDirectory resolves per-user capture policy.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (users.User, error)
}

// CaptureRunner executes the pipeline for one session.
type CaptureRunner interface {
	Run(ctx context.Context, userID, sessionID string) Outcome
}

// Policy tunes schedule eligibility evaluation.
type Policy struct {
	// DefaultDailyCap applies when the user directory reports no cap.
	DefaultDailyCap int
	// CapCountsFailed counts failed sessions toward the daily cap.
	CapCountsFailed bool
}

// Status is a snapshot of the loop's runtime state.
type Status struct {
	Running    bool      `json:"running"`
	LastTickAt time.Time `json:"last_tick_at,omitempty"`
	InFlight   int       `json:"inflight"`
}

// Loop is the top-level control loop: on every tick it scans active
// schedules, claims the due ones, and dispatches capture pipelines to a
// bounded worker pool. One loop instance runs per process.
type Loop struct {
	store    Store
	users    UserDirectory
	notifier notify.Notifier
	pipeline CaptureRunner
	logger   *slog.Logger

	tick   time.Duration
	policy Policy
	sem    chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time

	mu       sync.Mutex
	running  bool
	lastTick time.Time
	inflight int
}

// NewLoop wires the scheduler loop with a bounded worker pool.
func NewLoop(st Store, dir UserDirectory, notifier notify.Notifier, pipeline CaptureRunner, tick time.Duration, workers int, policy Policy, logger *slog.Logger) *Loop {
	if tick <= 0 {
		tick = time.Minute
	}
	if workers <= 0 {
		workers = 4
	}
	if policy.DefaultDailyCap <= 0 {
		policy.DefaultDailyCap = 10
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Loop{
		store:    st,
		users:    dir,
		notifier: notifier,
		pipeline: pipeline,
		logger:   logger.With("component", "scheduler_loop"),
		tick:     tick,
		policy:   policy,
		sem:      make(chan struct{}, workers),
		now:      time.Now,
	}
}

// Run ticks until the context is cancelled. A failure processing one schedule
// never aborts the tick for the others, and the loop itself only terminates
// on the stop signal. Already-dispatched pipelines are allowed to finish.
func (l *Loop) Run(ctx context.Context) error {
	l.setRunning(true)
	defer l.setRunning(false)

	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	l.logger.Info("scheduler loop started", "tick", l.tick, "workers", cap(l.sem))
	l.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler loop stopping, waiting for in-flight captures")
			l.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			l.runTick(ctx)
		}
	}
}

// runTick evaluates every active schedule once. It returns after all eligible
// work for this tick has been dispatched (not completed).
func (l *Loop) runTick(ctx context.Context) {
	now := l.now()
	l.mu.Lock()
	l.lastTick = now
	l.mu.Unlock()
	telemetry.SchedulerTicks.Inc()

	schedules, err := l.store.ListActiveSchedules(ctx)
	if err != nil {
		l.logger.Error("list active schedules", "error", err)
		return
	}
	telemetry.ActiveSchedules.Set(float64(len(schedules)))

	for _, sched := range schedules {
		if ctx.Err() != nil {
			return
		}
		if err := l.processSchedule(ctx, sched, now); err != nil {
			l.logger.Error("process schedule", "schedule_id", sched.ID, "user_id", sched.UserID, "error", err)
		}
	}
}

// processSchedule checks eligibility for one schedule and, if due, claims its
// slot and dispatches a capture session.
func (l *Loop) processSchedule(ctx context.Context, sched models.Schedule, now time.Time) error {
	user, err := l.users.GetUser(ctx, sched.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			l.logger.Warn("user not found, skipping schedule", "schedule_id", sched.ID, "user_id", sched.UserID)
			return nil
		}
		return fmt.Errorf("resolve user: %w", err)
	}

	eligible, reason, err := l.eligible(ctx, sched, user, now)
	if err != nil {
		return err
	}
	if !eligible {
		l.logger.Debug("schedule not eligible", "schedule_id", sched.ID, "reason", reason)
		return nil
	}

	// Consume the slot before running anything: overlapping ticks racing on
	// the same schedule resolve here, and a failed capture still counts.
	claimed, err := l.store.ClaimSchedule(ctx, sched.ID, now)
	if err != nil {
		return fmt.Errorf("claim schedule: %w", err)
	}
	if !claimed {
		return nil
	}

	sess, err := l.store.CreateSession(ctx, sched.UserID, &sched.ID, models.TriggerScheduled)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	if user.NotificationsEnabled && sched.NotificationsEnabled && !user.SilentMode && !sched.SilentMode {
		l.notifier.Notify(ctx, sched.UserID, "Capture time!",
			"A scheduled capture is starting. Keep your device ready to earn rewards.")
	}

	l.logger.Info("dispatching scheduled capture",
		"schedule_id", sched.ID, "user_id", sched.UserID, "session_id", sess.ID)
	l.Dispatch(sess.UserID, sess.ID)
	return nil
}

// eligible applies the frequency cooldown and daily cap. Both must pass.
func (l *Loop) eligible(ctx context.Context, sched models.Schedule, user users.User, now time.Time) (bool, string, error) {
	// Cooldown is wall-clock elapsed time since the last trigger (or the
	// schedule's creation), so a paused-then-resumed schedule never catches
	// up on missed intervals.
	if sched.LastTriggeredAt != nil {
		if now.Sub(*sched.LastTriggeredAt) < sched.Frequency() {
			return false, "cooldown", nil
		}
	} else if now.Before(sched.CreatedAt) {
		return false, "not yet created", nil
	}

	dailyCap := user.MaxDailyCaptures
	if dailyCap <= 0 {
		dailyCap = l.policy.DefaultDailyCap
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	count, err := l.store.CountSessionsSince(ctx, sched.UserID, midnight, l.policy.CapCountsFailed)
	if err != nil {
		return false, "", fmt.Errorf("count daily sessions: %w", err)
	}
	if count >= dailyCap {
		return false, "daily cap reached", nil
	}
	return true, "", nil
}

// Dispatch hands a session to the worker pool. It blocks while the pool is
// saturated, which bounds concurrent device and network usage; the pipeline
// itself runs detached from the loop context so a stop signal never cancels
// work already in flight.
func (l *Loop) Dispatch(userID, sessionID string) {
	l.sem <- struct{}{}
	l.wg.Add(1)
	l.addInflight(1)
	telemetry.CapturesTriggered.Inc()

	go func() {
		defer func() {
			l.addInflight(-1)
			l.wg.Done()
			<-l.sem
		}()
		out := l.pipeline.Run(context.Background(), userID, sessionID)
		if models.IsFailure(out.Status) {
			l.logger.Warn("capture pipeline failed",
				"session_id", sessionID, "user_id", userID, "status", out.Status, "detail", out.Detail)
		}
	}()
}

// Wait blocks until all dispatched pipelines have finished.
func (l *Loop) Wait() {
	l.wg.Wait()
}

// Status reports the loop's current state for the status endpoint.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{Running: l.running, LastTickAt: l.lastTick, InFlight: l.inflight}
}

func (l *Loop) setRunning(v bool) {
	l.mu.Lock()
	l.running = v
	l.mu.Unlock()
}

func (l *Loop) addInflight(delta int) {
	l.mu.Lock()
	l.inflight += delta
	l.mu.Unlock()
}
