package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"capture-scheduler/internal/models"
)

// ErrNotFound is returned when a schedule or session does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const scheduleColumns = `id, user_id, frequency_hours, next_capture_at, last_triggered_at, is_active, paused_at,
	notifications_enabled, silent_mode, trigger_count, created_at, updated_at`

// CreateScheduleParams collects inputs required to insert a schedule.
type CreateScheduleParams struct {
	UserID               string
	FrequencyHours       int
	NotificationsEnabled bool
	SilentMode           bool
}

// CreateSchedule inserts a schedule row. The schedule is eligible immediately:
// next_capture_at starts at creation time and advances only on triggers.
func (s *Store) CreateSchedule(ctx context.Context, p CreateScheduleParams) (models.Schedule, error) {
	if p.UserID == "" {
		return models.Schedule{}, errors.New("user id is required")
	}
	if p.FrequencyHours < models.MinFrequencyHours || p.FrequencyHours > models.MaxFrequencyHours {
		return models.Schedule{}, fmt.Errorf("frequency_hours must be between %d and %d",
			models.MinFrequencyHours, models.MaxFrequencyHours)
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO schedules (id, user_id, frequency_hours, next_capture_at, is_active,
			notifications_enabled, silent_mode, trigger_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6, 0, $4, $4)
		RETURNING `+scheduleColumns,
		id, p.UserID, p.FrequencyHours, now, p.NotificationsEnabled, p.SilentMode)
	return scanSchedule(row)
}

// GetSchedule fetches a schedule by id.
func (s *Store) GetSchedule(ctx context.Context, id string) (models.Schedule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	sched, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Schedule{}, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return sched, err
}

// ListSchedules returns schedules for a user, newest first. An empty user id lists all.
func (s *Store) ListSchedules(ctx context.Context, userID string, limit int) ([]models.Schedule, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// ListActiveSchedules returns every schedule the loop should evaluate.
func (s *Store) ListActiveSchedules(ctx context.Context) ([]models.Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduleColumns+` FROM schedules WHERE is_active = TRUE ORDER BY next_capture_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list active schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// ScheduleUpdate carries the mutable schedule fields; nil fields are left unchanged.
type ScheduleUpdate struct {
	FrequencyHours       *int  `json:"frequency_hours,omitempty"`
	NotificationsEnabled *bool `json:"notifications_enabled,omitempty"`
	SilentMode           *bool `json:"silent_mode,omitempty"`
}

// UpdateSchedule applies a partial update. A frequency change recomputes
// next_capture_at from last_triggered_at so the cooldown keeps its meaning.
func (s *Store) UpdateSchedule(ctx context.Context, id string, u ScheduleUpdate) (models.Schedule, error) {
	if u.FrequencyHours != nil {
		if *u.FrequencyHours < models.MinFrequencyHours || *u.FrequencyHours > models.MaxFrequencyHours {
			return models.Schedule{}, fmt.Errorf("frequency_hours must be between %d and %d",
				models.MinFrequencyHours, models.MaxFrequencyHours)
		}
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE schedules SET
			frequency_hours = COALESCE($2, frequency_hours),
			notifications_enabled = COALESCE($3, notifications_enabled),
			silent_mode = COALESCE($4, silent_mode),
			next_capture_at = CASE
				WHEN $2 IS NOT NULL AND last_triggered_at IS NOT NULL
					THEN last_triggered_at + make_interval(hours => $2)
				ELSE next_capture_at
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+scheduleColumns,
		id, u.FrequencyHours, u.NotificationsEnabled, u.SilentMode)
	sched, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Schedule{}, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return sched, err
}

// SetScheduleActive pauses or resumes a schedule. Resuming never resets
// last_triggered_at, so a resumed schedule does not catch up on missed slots.
func (s *Store) SetScheduleActive(ctx context.Context, id string, active bool) (models.Schedule, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE schedules SET
			is_active = $2,
			paused_at = CASE WHEN $2 THEN NULL ELSE NOW() END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+scheduleColumns, id, active)
	sched, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Schedule{}, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return sched, err
}

// DeleteSchedule removes a schedule permanently. Historical sessions keep
// their schedule_id; deletion is terminal and distinct from pausing.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClaimSchedule consumes a due schedule's slot in one guarded update: the
// trigger timestamp is stamped and the next slot advanced before the pipeline
// runs, so overlapping ticks cannot fire the same schedule twice.
func (s *Store) ClaimSchedule(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE schedules SET
			last_triggered_at = $2,
			next_capture_at = $2 + make_interval(hours => frequency_hours),
			trigger_count = trigger_count + 1,
			updated_at = NOW()
		WHERE id = $1 AND is_active = TRUE AND next_capture_at <= $2
	`, id, now.UTC())
	if err != nil {
		return false, fmt.Errorf("claim schedule: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const sessionColumns = `id, user_id, schedule_id, trigger_type, status, triggered_at, completed_at,
	storage_backend, artifact_key, artifact_url, artifact_bytes, capture_strategy, fallback_used,
	reward_amount, error_detail, created_at, updated_at`

// CreateSession inserts a pending capture session.
func (s *Store) CreateSession(ctx context.Context, userID string, scheduleID *string, triggerType string) (models.CaptureSession, error) {
	if userID == "" {
		return models.CaptureSession{}, errors.New("user id is required")
	}
	id := uuid.New().String()
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO capture_sessions (id, user_id, schedule_id, trigger_type, status, triggered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $6)
		RETURNING `+sessionColumns,
		id, userID, scheduleID, triggerType, models.SessionPending, now)
	return scanSession(row)
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (models.CaptureSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM capture_sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CaptureSession{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, err
}

// ListSessions returns a user's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]models.CaptureSession, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM capture_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.CaptureSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// MarkSessionCaptured advances pending -> captured, recording which strategy
// produced the artifact. A no-op if the session already left pending.
func (s *Store) MarkSessionCaptured(ctx context.Context, id, strategy string, fallback bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE capture_sessions SET
			status = $2, capture_strategy = $3, fallback_used = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`, id, models.SessionCaptured, strategy, fallback, models.SessionPending)
	if err != nil {
		return fmt.Errorf("mark captured: %w", err)
	}
	return nil
}

// CompleteSession transitions a non-terminal session to completed and stamps
// completed_at. Terminal rows are never rewritten.
func (s *Store) CompleteSession(ctx context.Context, id, backend, key, url string, sizeBytes int64, amount float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE capture_sessions SET
			status = $2, completed_at = NOW(), storage_backend = $3, artifact_key = $4,
			artifact_url = $5, artifact_bytes = $6, reward_amount = $7, error_detail = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status IN ($8, $9)
	`, id, models.SessionCompleted, backend, key, url,
		sizeBytes, amount, models.SessionPending, models.SessionCaptured)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s is not open: %w", id, ErrNotFound)
	}
	return nil
}

// FailSession transitions a non-terminal session to the given failure state
// with its error detail, stamping completed_at.
func (s *Store) FailSession(ctx context.Context, id, status, detail string) error {
	if !models.IsFailure(status) {
		return fmt.Errorf("status %q is not a failure state", status)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE capture_sessions SET
			status = $2, completed_at = NOW(), error_detail = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`, id, status, detail, models.SessionPending, models.SessionCaptured)
	if err != nil {
		return fmt.Errorf("fail session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s is not open: %w", id, ErrNotFound)
	}
	return nil
}

// CountSessionsSince counts a user's sessions created at or after the cutoff.
// With includeFailed=false, failure terminals do not consume daily quota.
func (s *Store) CountSessionsSince(ctx context.Context, userID string, since time.Time, includeFailed bool) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM capture_sessions
		WHERE user_id = $1 AND created_at >= $2
		  AND ($3 OR status NOT IN ($4, $5, $6))
	`, userID, since.UTC(), includeFailed,
		models.SessionUploadFailed, models.SessionValidationFailed, models.SessionFailed).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// CreditReward credits the reward for a session exactly once. A replay for the
// same session id is a no-op that returns the previously recorded amount.
func (s *Store) CreditReward(ctx context.Context, sessionID, userID string, amount float64) (float64, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO reward_ledger (session_id, user_id, amount, credited_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID, userID, amount)
	if err != nil {
		return 0, false, fmt.Errorf("insert reward: %w", err)
	}

	var recorded float64
	if err := s.pool.QueryRow(ctx, `
		SELECT amount FROM reward_ledger WHERE session_id = $1
	`, sessionID).Scan(&recorded); err != nil {
		return 0, false, fmt.Errorf("read reward: %w", err)
	}
	return recorded, tag.RowsAffected() == 1, nil
}

func scanSchedule(row pgx.Row) (models.Schedule, error) {
	var sched models.Schedule
	var lastTriggered, pausedAt pgtype.Timestamptz
	if err := row.Scan(&sched.ID, &sched.UserID, &sched.FrequencyHours, &sched.NextCaptureAt,
		&lastTriggered, &sched.IsActive, &pausedAt, &sched.NotificationsEnabled, &sched.SilentMode,
		&sched.TriggerCount, &sched.CreatedAt, &sched.UpdatedAt); err != nil {
		return models.Schedule{}, err
	}
	sched.LastTriggeredAt = timePtr(lastTriggered)
	sched.PausedAt = timePtr(pausedAt)
	return sched, nil
}

func collectSchedules(rows pgx.Rows) ([]models.Schedule, error) {
	var out []models.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (models.CaptureSession, error) {
	var sess models.CaptureSession
	var scheduleID *string
	var backend, key, url, strategy, detail pgtype.Text
	var completedAt pgtype.Timestamptz
	if err := row.Scan(&sess.ID, &sess.UserID, &scheduleID, &sess.TriggerType, &sess.Status,
		&sess.TriggeredAt, &completedAt, &backend, &key, &url, &sess.ArtifactBytes, &strategy,
		&sess.FallbackUsed, &sess.RewardAmount, &detail, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return models.CaptureSession{}, err
	}
	sess.ScheduleID = scheduleID
	sess.CompletedAt = timePtr(completedAt)
	sess.StorageBackend = textPtr(backend)
	sess.ArtifactKey = textPtr(key)
	sess.ArtifactURL = textPtr(url)
	sess.CaptureStrategy = textPtr(strategy)
	sess.ErrorDetail = textPtr(detail)
	return sess, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
