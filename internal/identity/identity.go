package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"infothon/internal/model"
)

var (
	ErrUnauthenticated = errors.New("user is not authenticated")
	ErrUnavailable     = errors.New("identity provider unavailable")
)

type User struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata model.UserProfile `json:"user_metadata"`
}

// Gateway is the part of the identity provider the ticketing core depends on.
type Gateway interface {
	GetUser(ctx context.Context, accessToken string) (*User, error)
	UpdateUser(ctx context.Context, accessToken string, profile model.UserProfile) error
}

// Client talks to a GoTrue-compatible auth REST API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type updateUserRequest struct {
	Data model.UserProfile `json:"data"`
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, ErrUnauthenticated
	}
	body, err := c.do(ctx, http.MethodGet, accessToken, nil)
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	if u.ID == "" {
		return nil, ErrUnauthenticated
	}
	return &u, nil
}

func (c *Client) UpdateUser(ctx context.Context, accessToken string, profile model.UserProfile) error {
	if accessToken == "" {
		return ErrUnauthenticated
	}
	payload, err := json.Marshal(updateUserRequest{Data: profile})
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	_, err = c.do(ctx, http.MethodPut, accessToken, payload)
	return err
}

func (c *Client) do(ctx context.Context, method, accessToken string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/auth/v1/user", reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthenticated
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("identity request failed (%d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Dedupe keeps the first occurrence of every id and drops blanks.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Union accumulates new purchases on top of existing ones; nothing is ever removed.
func Union(existing []string, added ...string) []string {
	all := make([]string, 0, len(existing)+len(added))
	all = append(all, existing...)
	all = append(all, added...)
	return Dedupe(all)
}
