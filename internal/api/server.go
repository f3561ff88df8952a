package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"capture-scheduler/internal/models"
	"capture-scheduler/internal/scheduler"
	"capture-scheduler/internal/storage"
	"capture-scheduler/internal/store"
	"capture-scheduler/internal/telemetry"
	"capture-scheduler/internal/users"
)

// ScheduleStore is the schedule persistence surface the API needs.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, p store.CreateScheduleParams) (models.Schedule, error)
	GetSchedule(ctx context.Context, id string) (models.Schedule, error)
	ListSchedules(ctx context.Context, userID string, limit int) ([]models.Schedule, error)
	UpdateSchedule(ctx context.Context, id string, u store.ScheduleUpdate) (models.Schedule, error)
	SetScheduleActive(ctx context.Context, id string, active bool) (models.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
}

// SessionStore is the session persistence surface the API needs.
type SessionStore interface {
	CreateSession(ctx context.Context, userID string, scheduleID *string, triggerType string) (models.CaptureSession, error)
	GetSession(ctx context.Context, id string) (models.CaptureSession, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]models.CaptureSession, error)
}

// Dispatcher hands a session to the supervised worker pool.
type Dispatcher interface {
	Dispatch(userID, sessionID string)
	Status() scheduler.Status
}

// Artifacts exposes stored-artifact listing and deletion.
type Artifacts interface {
	List(ctx context.Context, userID string) ([]storage.Locator, error)
	Delete(ctx context.Context, key string) error
}

// UserDirectory resolves users for manual-trigger validation.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (users.User, error)
}

// RateLimiter guards manual triggers per user. Nil disables limiting.
type RateLimiter interface {
	Allow(ctx context.Context, userID string) (bool, float64, error)
}

// Server wires HTTP handlers over the scheduling core.
type Server struct {
	schedules ScheduleStore
	sessions  SessionStore
	runner    Dispatcher
	artifacts Artifacts
	users     UserDirectory
	limiter   RateLimiter
}

// New constructs the API server.
func New(schedules ScheduleStore, sessions SessionStore, runner Dispatcher, artifacts Artifacts, dir UserDirectory, limiter RateLimiter) *Server {
	return &Server{
		schedules: schedules,
		sessions:  sessions,
		runner:    runner,
		artifacts: artifacts,
		users:     dir,
		limiter:   limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/schedules", s.handleCreateSchedule)
	r.Get("/schedules", s.handleListSchedules)
	r.Get("/schedules/{id}", s.handleGetSchedule)
	r.Patch("/schedules/{id}", s.handleUpdateSchedule)
	r.Post("/schedules/{id}/pause", s.handleSetActive(false))
	r.Post("/schedules/{id}/resume", s.handleSetActive(true))
	r.Delete("/schedules/{id}", s.handleDeleteSchedule)

	r.Post("/captures", s.handleManualCapture)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Get("/sessions", s.handleListSessions)
	r.Get("/scheduler/status", s.handleSchedulerStatus)

	r.Get("/users/{id}/artifacts", s.handleListArtifacts)
	r.Delete("/artifacts/*", s.handleDeleteArtifact)

	return r
}

type createScheduleRequest struct {
	UserID               string `json:"user_id"`
	FrequencyHours       int    `json:"frequency_hours"`
	NotificationsEnabled *bool  `json:"notifications_enabled"`
	SilentMode           bool   `json:"silent_mode"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.FrequencyHours < models.MinFrequencyHours || req.FrequencyHours > models.MaxFrequencyHours {
		http.Error(w, "frequency_hours must be between 1 and 168", http.StatusBadRequest)
		return
	}
	notifications := true
	if req.NotificationsEnabled != nil {
		notifications = *req.NotificationsEnabled
	}

	sched, err := s.schedules.CreateSchedule(r.Context(), store.CreateScheduleParams{
		UserID:               req.UserID,
		FrequencyHours:       req.FrequencyHours,
		NotificationsEnabled: notifications,
		SilentMode:           req.SilentMode,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	scheds, err := s.schedules.ListSchedules(r.Context(), r.URL.Query().Get("user_id"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if scheds == nil {
		scheds = []models.Schedule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": scheds})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.schedules.GetSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var upd store.ScheduleUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if upd.FrequencyHours != nil &&
		(*upd.FrequencyHours < models.MinFrequencyHours || *upd.FrequencyHours > models.MaxFrequencyHours) {
		http.Error(w, "frequency_hours must be between 1 and 168", http.StatusBadRequest)
		return
	}
	sched, err := s.schedules.UpdateSchedule(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sched, err := s.schedules.SetScheduleActive(r.Context(), chi.URLParam(r, "id"), active)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sched)
	}
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.schedules.DeleteSchedule(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type manualCaptureRequest struct {
	UserID string `json:"user_id"`
}

// handleManualCapture creates a pending session and dispatches the pipeline
// asynchronously; the outcome is polled via GET /sessions/{id}.
func (s *Server) handleManualCapture(w http.ResponseWriter, r *http.Request) {
	var req manualCaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	if _, err := s.users.GetUser(r.Context(), req.UserID); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		http.Error(w, "user directory unavailable", http.StatusBadGateway)
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), req.UserID)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.ManualRateRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	sess, err := s.sessions.CreateSession(r.Context(), req.UserID, nil, models.TriggerManual)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.runner.Dispatch(sess.UserID, sess.ID)
	writeJSON(w, http.StatusAccepted, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := s.sessions.ListSessions(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []models.CaptureSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Status())
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	locs, err := s.artifacts.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "failed to list artifacts", http.StatusBadGateway)
		return
	}
	if locs == nil {
		locs = []storage.Locator{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": locs})
}

func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		http.Error(w, "artifact key is required", http.StatusBadRequest)
		return
	}
	if err := s.artifacts.Delete(r.Context(), key); err != nil {
		http.Error(w, "failed to delete artifact", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
