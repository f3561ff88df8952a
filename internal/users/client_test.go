package users

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/user-1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"user-1","max_daily_captures":5,"notifications_enabled":true,"silent_mode_enabled":false}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	user, err := c.GetUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.ID != "user-1" || user.MaxDailyCaptures != 5 || !user.NotificationsEnabled || user.SilentMode {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestGetUserNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such user", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.GetUser(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetUserServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.GetUser(context.Background(), "user-1")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected non-notfound error, got %v", err)
	}
}

func TestGetUserFillsMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"max_daily_captures":3}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	user, err := c.GetUser(context.Background(), "user-9")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.ID != "user-9" {
		t.Fatalf("expected id backfilled, got %q", user.ID)
	}
}
