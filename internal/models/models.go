package models

import (
	"time"
)

// Session status enumerates the capture lifecycle persisted in Postgres.
// Transitions are strictly forward: pending -> captured -> one terminal state.
const (
	SessionPending          = "pending"
	SessionCaptured         = "captured"
	SessionCompleted        = "completed"
	SessionUploadFailed     = "upload_failed"
	SessionValidationFailed = "validation_failed"
	SessionFailed           = "failed"
)

// Trigger types recorded on a capture session.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// Frequency bounds accepted for a schedule, in hours.
const (
	MinFrequencyHours = 1
	MaxFrequencyHours = 168
)

// IsTerminal reports whether a session status admits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case SessionCompleted, SessionUploadFailed, SessionValidationFailed, SessionFailed:
		return true
	}
	return false
}

// IsFailure reports whether a status is a failure terminal.
func IsFailure(status string) bool {
	switch status {
	case SessionUploadFailed, SessionValidationFailed, SessionFailed:
		return true
	}
	return false
}

// Schedule is a per-user capture cadence persisted in Postgres.
type Schedule struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	FrequencyHours       int        `json:"frequency_hours"`
	NextCaptureAt        time.Time  `json:"next_capture_at"`
	LastTriggeredAt      *time.Time `json:"last_triggered_at,omitempty"`
	IsActive             bool       `json:"is_active"`
	PausedAt             *time.Time `json:"paused_at,omitempty"`
	NotificationsEnabled bool       `json:"notifications_enabled"`
	SilentMode           bool       `json:"silent_mode"`
	TriggerCount         int        `json:"trigger_count"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Frequency returns the cadence as a duration.
func (s Schedule) Frequency() time.Duration {
	return time.Duration(s.FrequencyHours) * time.Hour
}

// CaptureSession is the audit record of one end-to-end capture attempt.
// Rows are immutable once the status is terminal.
type CaptureSession struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	ScheduleID      *string    `json:"schedule_id,omitempty"`
	TriggerType     string     `json:"trigger_type"`
	Status          string     `json:"status"`
	TriggeredAt     time.Time  `json:"triggered_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	StorageBackend  *string    `json:"storage_backend,omitempty"`
	ArtifactKey     *string    `json:"artifact_key,omitempty"`
	ArtifactURL     *string    `json:"artifact_url,omitempty"`
	ArtifactBytes   int64      `json:"artifact_bytes"`
	CaptureStrategy *string    `json:"capture_strategy,omitempty"`
	FallbackUsed    bool       `json:"fallback_used"`
	RewardAmount    float64    `json:"reward_amount"`
	ErrorDetail     *string    `json:"error_detail,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
