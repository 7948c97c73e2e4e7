package scanclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"infothon/internal/dto"
	"infothon/internal/model"
)

var (
	ErrUnauthorized = errors.New("operator session expired, log in again")
	ErrInvalidLogin = errors.New("invalid username or password")
)

// APIError is a non-2xx answer carrying the server's error envelope.
type APIError struct {
	Status int
	Code   string
	Desc   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Desc)
}

// Client talks to the admin routes and holds the operator token between calls.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp dto.LoginResponse
	err := c.do(ctx, http.MethodPost, "/v1/admin/login", dto.LoginRequest{Username: username, Password: password}, &resp, false)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == dto.InvalidCredentials {
			return ErrInvalidLogin
		}
		return err
	}
	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

func (c *Client) Logout() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func ticketPath(id string) string {
	return "/v1/admin/tickets/" + url.PathEscape(id)
}

func (c *Client) Lookup(ctx context.Context, ticketID string) (*model.Registration, bool, error) {
	var resp dto.TicketLookupResponse
	if err := c.do(ctx, http.MethodGet, ticketPath(ticketID), nil, &resp, true); err != nil {
		return nil, false, err
	}
	return resp.Ticket, resp.Found, nil
}

func (c *Client) CheckIn(ctx context.Context, ticketID string) (bool, error) {
	var resp dto.CheckInResponse
	if err := c.do(ctx, http.MethodPost, ticketPath(ticketID)+"/checkin", nil, &resp, true); err != nil {
		return false, err
	}
	return resp.Changed, nil
}

func (c *Client) CheckInMember(ctx context.Context, ticketID string, slot int) (bool, error) {
	var resp dto.CheckInResponse
	path := ticketPath(ticketID) + "/members/" + strconv.Itoa(slot) + "/checkin"
	if err := c.do(ctx, http.MethodPost, path, nil, &resp, true); err != nil {
		return false, err
	}
	return resp.Changed, nil
}

type envelope struct {
	Status string          `json:"status"`
	Error  *dto.Error      `json:"error"`
	Data   json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		c.mu.RLock()
		tok := c.token
		c.mu.RUnlock()
		if tok == "" {
			return ErrUnauthorized
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s %s: unexpected response (%d)", method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 || env.Error != nil {
		if authed && resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code, apiErr.Desc = env.Error.Code, env.Error.Desc
		}
		return apiErr
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}
