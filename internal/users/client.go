package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotFound is returned when the user directory has no such user.
var ErrNotFound = errors.New("user not found")

// User is the policy-relevant slice of the user directory's record.
type User struct {
	ID                   string `json:"id"`
	MaxDailyCaptures     int    `json:"max_daily_captures"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	SilentMode           bool   `json:"silent_mode_enabled"`
}

// Client talks to the external user directory service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a directory client with a bounded request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetUser fetches a user record by id.
func (c *Client) GetUser(ctx context.Context, id string) (User, error) {
	url := fmt.Sprintf("%s/users/%s", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return User{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return User{}, fmt.Errorf("get user %s: status %d", id, resp.StatusCode)
	}

	var user User
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&user); err != nil {
		return User{}, fmt.Errorf("decode user %s: %w", id, err)
	}
	if user.ID == "" {
		user.ID = id
	}
	return user, nil
}
