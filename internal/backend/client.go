// Package backend is the HTTP client for the tracking backend. It adds
// per-request timeouts, a fixed retry schedule and one token refresh on 401.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// Endpoint paths of the backend API.
const (
	PathLogin      = "/api/auth/login"
	PathRefresh    = "/api/auth/refresh"
	PathAuthStatus = "/api/auth/status"
	PathBrowser    = "/api/activities/browser"
	PathHeartbeat  = "/api/activities/heartbeat"
	PathHealth     = "/health"
)

// EventPath returns the endpoint for an auxiliary event kind, e.g.
// "/api/activities/video-progress".
func EventPath(kind string) string {
	return "/api/activities/" + kind
}

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
)

var defaultSchedule = []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}

// TokenStore holds the current credentials. Client is the only writer of a
// refreshed token.
type TokenStore interface {
	// Token returns the current token, or nil if the user is signed out.
	Token() *oauth2.Token
	// SetToken replaces the in-memory token before persisting it, so a
	// returned error means only that the token will not survive a restart.
	SetToken(tok *oauth2.Token) error
}

// Request describes one backend call.
type Request struct {
	Method string
	Path   string
	// Body is JSON-encoded; json.RawMessage is sent as-is.
	Body any
	// Auth attaches the bearer token and enables refresh on 401.
	Auth bool
	// IdempotencyKey is sent as X-Idempotency-Key when set.
	IdempotencyKey string
}

// Response is a fully read backend response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding backend response: %w", err)
	}
	return nil
}

// Client is an authenticated backend client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore
	timeout    time.Duration
	maxRetries int
	schedule   []time.Duration
	logger     hclog.Logger

	refreshMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l hclog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimeout sets the per-attempt deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets the number of retries after the first attempt and the
// delays between them. The last delay repeats.
func WithRetry(maxRetries int, schedule []time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if len(schedule) > 0 {
			c.schedule = schedule
		}
	}
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, tokens TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		tokens:     tokens,
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		schedule:   defaultSchedule,
		logger:     hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend root URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request performs a single attempt with a hard timeout. Any status is
// returned as a Response; only transport failures are errors, and an
// exceeded deadline is a *TimeoutError.
func (c *Client) Request(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	url := c.baseURL + req.Path

	var body io.Reader
	if req.Body != nil {
		data, err := encodeBody(req.Body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("X-Idempotency-Key", req.IdempotencyKey)
	}
	if req.Auth && c.tokens != nil {
		if tok := c.tokens.Token(); tok != nil && tok.AccessToken != "" {
			tok.SetAuthHeader(httpReq)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{URL: url, Timeout: timeout}
		}
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		if ctx.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{URL: url, Timeout: timeout}
		}
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func encodeBody(v any) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return data, nil
}

// RequestWithRetry is Send with the configured retry budget.
func (c *Client) RequestWithRetry(ctx context.Context, req Request) (*Response, error) {
	return c.Send(ctx, req, c.maxRetries)
}

// Send performs req with up to maxRetries retries after the first attempt.
//
// Timeouts, transport failures and retryable statuses are retried on the
// schedule. Other non-2xx statuses fail at once with *HTTPError. The first
// 401 of an authenticated request triggers one token refresh and an
// immediate resend with the new token; if the refresh fails, or a later
// attempt is refused again, Send returns *AuthError without further retries.
func (c *Client) Send(ctx context.Context, req Request, maxRetries int) (*Response, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var (
		resp      *Response
		refreshed bool
		attempt   int
	)
	op := func() error {
		attempt++
		r, err := c.Request(ctx, req, c.timeout)
		if err == nil && r.Status == http.StatusUnauthorized && req.Auth && !refreshed {
			refreshed = true
			if rerr := c.refresh(ctx); rerr != nil {
				return backoff.Permanent(&AuthError{Err: rerr})
			}
			r, err = c.Request(ctx, req, c.timeout)
		}
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if r.OK() {
			resp = r
			return nil
		}
		httpErr := &HTTPError{Status: r.Status, Body: strings.TrimSpace(string(r.Body))}
		if r.Status == http.StatusUnauthorized && req.Auth {
			return backoff.Permanent(&AuthError{Err: httpErr})
		}
		if !httpErr.Retryable() {
			return backoff.Permanent(httpErr)
		}
		return httpErr
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&scheduleBackOff{schedule: c.schedule}, uint64(maxRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying backend request", "path", req.Path, "attempt", attempt, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return resp, nil
}

// scheduleBackOff yields the schedule in order and then repeats its last
// value. Stopping is left to backoff.WithMaxRetries.
type scheduleBackOff struct {
	schedule []time.Duration
	next     int
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if len(b.schedule) == 0 {
		return 0
	}
	i := b.next
	if i >= len(b.schedule) {
		i = len(b.schedule) - 1
	}
	b.next++
	return b.schedule[i]
}

func (b *scheduleBackOff) Reset() { b.next = 0 }

// refreshResponse is the body of /api/auth/login and /api/auth/refresh.
type refreshResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	TokenType    string         `json:"token_type"`
	User         map[string]any `json:"user"`
}

// refresh exchanges the stored refresh token for a new access token and
// stores it. Concurrent callers are serialized.
func (c *Client) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if c.tokens == nil {
		return ErrNoRefreshToken
	}
	cur := c.tokens.Token()
	if cur == nil || cur.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	r, err := c.Request(ctx, Request{
		Method: http.MethodPost,
		Path:   PathRefresh,
		Body:   map[string]string{"refresh_token": cur.RefreshToken},
	}, c.timeout)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	if !r.OK() {
		return fmt.Errorf("token refresh: %w", &HTTPError{Status: r.Status, Body: strings.TrimSpace(string(r.Body))})
	}
	var tr refreshResponse
	if err := r.Decode(&tr); err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	if tr.AccessToken == "" {
		return errors.New("token refresh: response carried no access token")
	}

	next := NewToken(tr.AccessToken, tr.RefreshToken)
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if err := c.tokens.SetToken(next); err != nil {
		// The new token is still in memory; only persistence failed.
		c.logger.Warn("could not persist refreshed token", "error", err)
	}
	c.logger.Info("access token refreshed")
	return nil
}

// NewToken builds a bearer token, taking the expiry from the access token
// when it is a JWT. An empty access token yields nil.
func NewToken(access, refresh string) *oauth2.Token {
	if access == "" {
		return nil
	}
	tok := &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: refresh,
	}
	if claims, ok := ParseClaims(access); ok {
		tok.Expiry = claims.Expiry
	}
	return tok
}
