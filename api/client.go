package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"library-dashboard/session"
)

var validate = validator.New()

// Client wraps every request to the library backend. It pulls the bearer
// token from the session store on each call and owns the one place in the
// program allowed to clear the session: a confirmed 401 on an authorized
// request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      session.Store

	// invalidated flips true exactly once per session epoch, so concurrent
	// 401s cannot clear (or notify) twice. Login resets it.
	invalidated  atomic.Bool
	onInvalidate func()
}

// NewClient constructs a client for the backend at baseURL.
func NewClient(baseURL string, store session.Store) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		store: store,
	}
}

// SetTimeout overrides the default per-request timeout.
func (c *Client) SetTimeout(d time.Duration) { c.httpClient.Timeout = d }

// OnSessionInvalidated registers the hook run (once per invalidation) after
// the session has been cleared, so the UI can surface the notice and force
// navigation back to the login route.
func (c *Client) OnSessionInvalidated(fn func()) { c.onInvalidate = fn }

// Login authenticates and, on success, persists the session and resets the
// invalidation epoch. The caller gets the backend's message for display.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid login input: %w", err)
	}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, &resp); err != nil {
		return nil, err
	}
	if err := c.beginSession(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates an account and bootstraps a session the same way Login
// does.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid registration input: %w", err)
	}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", req, &resp); err != nil {
		return nil, err
	}
	if err := c.beginSession(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) beginSession(resp *AuthResponse) error {
	if !resp.Success && resp.Message != "" {
		return &RequestError{Status: http.StatusOK, Message: resp.Message}
	}
	sess := &session.Session{Token: resp.Token, User: resp.User}
	if !sess.Complete() {
		return fmt.Errorf("backend returned an incomplete session")
	}
	if err := c.store.Save(sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	c.invalidated.Store(false)
	log.Info().Int64("user_id", sess.User.ID).Str("role", string(sess.User.Role)).Msg("session established")
	return nil
}

// Logout wipes the session. It also closes the invalidation epoch so a stale
// in-flight 401 arriving afterwards cannot raise a spurious expiry notice.
func (c *Client) Logout() error {
	c.invalidated.Store(true)
	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	log.Info().Msg("session cleared")
	return nil
}

// ListBooks fetches the full catalog.
func (c *Client) ListBooks(ctx context.Context) ([]Book, error) {
	var books []Book
	if err := c.do(ctx, http.MethodGet, "/book", nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}

// AddBook creates a catalog entry (administrator only).
func (c *Client) AddBook(ctx context.Context, input BookInput) error {
	if err := validate.Struct(input); err != nil {
		return fmt.Errorf("invalid book input: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/book", input, nil)
}

// UpdateBook edits a catalog entry (administrator only).
func (c *Client) UpdateBook(ctx context.Context, id int64, input BookInput) error {
	if err := validate.Struct(input); err != nil {
		return fmt.Errorf("invalid book input: %w", err)
	}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/book/%d", id), input, nil)
}

// DeleteBook removes a catalog entry (administrator only).
func (c *Client) DeleteBook(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/book/%d", id), nil, nil)
}

// MyBorrows fetches the current user's outstanding loans.
func (c *Client) MyBorrows(ctx context.Context) ([]Loan, error) {
	var loans []Loan
	if err := c.do(ctx, http.MethodGet, "/borrow/my-borrows", nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

// BorrowBook borrows one copy of the given book.
func (c *Client) BorrowBook(ctx context.Context, bookID int64) (*MessageResponse, error) {
	var resp MessageResponse
	if err := c.do(ctx, http.MethodPost, "/borrow", borrowRequest{BookID: bookID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReturnBook returns the caller's active loan of the given book. The backend
// resolves which loan that is; at most one is active per user and title.
func (c *Client) ReturnBook(ctx context.Context, bookID int64) (*MessageResponse, error) {
	var resp MessageResponse
	if err := c.do(ctx, http.MethodPost, "/borrow/return", borrowRequest{BookID: bookID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do issues one request and classifies the outcome. A 401 counts as a session
// invalidation only when the request actually carried a token: a rejected
// anonymous request (wrong password on login, say) is an ordinary refusal.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	authed := false
	if sess, err := c.store.Load(); err == nil && sess.Complete() {
		req.Header.Set("Authorization", "Bearer "+sess.Token)
		authed = true
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn().Str("method", method).Str("path", path).Str("request_id", requestID).Err(err).Msg("request failed in transport")
		return fmt.Errorf("%s %s: %w", method, path, &TransportError{Err: err})
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, &TransportError{Err: err})
	}

	log.Debug().Str("method", method).Str("path", path).Str("request_id", requestID).Int("status", resp.StatusCode).Msg("request completed")

	if resp.StatusCode == http.StatusUnauthorized && authed {
		c.invalidateSession()
		return fmt.Errorf("%s %s: %w", method, path, ErrSessionInvalidated)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %w", method, path, &RequestError{
			Status:  resp.StatusCode,
			Message: backendMessage(data),
		})
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// invalidateSession clears the store on the first 401 of the epoch. Later
// 401s from requests that were already in flight fall through silently.
func (c *Client) invalidateSession() {
	if !c.invalidated.CompareAndSwap(false, true) {
		return
	}
	if err := c.store.Clear(); err != nil {
		log.Error().Err(err).Msg("clear session after rejection")
	}
	log.Warn().Msg("backend rejected token, session cleared")
	if c.onInvalidate != nil {
		c.onInvalidate()
	}
}

// backendMessage pulls the error message out of a failure body when the
// backend provided one.
func backendMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.Message
}
