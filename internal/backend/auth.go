package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// LoginResult is what a successful login yields.
type LoginResult struct {
	Token *oauth2.Token
	User  map[string]any
}

// Login exchanges credentials for a token pair and stores it.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	r, err := c.Request(ctx, Request{
		Method: http.MethodPost,
		Path:   PathLogin,
		Body:   map[string]string{"email": email, "password": password},
	}, c.timeout)
	if err != nil {
		return nil, err
	}
	if !r.OK() {
		httpErr := &HTTPError{Status: r.Status, Body: strings.TrimSpace(string(r.Body))}
		if r.Status == http.StatusUnauthorized {
			return nil, &AuthError{Err: httpErr}
		}
		return nil, httpErr
	}
	var lr refreshResponse
	if err := r.Decode(&lr); err != nil {
		return nil, err
	}
	if lr.AccessToken == "" {
		return nil, errors.New("login response carried no access token")
	}
	tok := NewToken(lr.AccessToken, lr.RefreshToken)
	if c.tokens != nil {
		if err := c.tokens.SetToken(tok); err != nil {
			c.logger.Warn("could not persist login token", "error", err)
		}
	}
	return &LoginResult{Token: tok, User: lr.User}, nil
}

// Logout forgets the stored credentials. The backend keeps no session state
// that needs revoking.
func (c *Client) Logout() error {
	if c.tokens == nil {
		return nil
	}
	return c.tokens.SetToken(nil)
}

// AuthStatus is the body of GET /api/auth/status.
type AuthStatus struct {
	Authenticated bool           `json:"authenticated"`
	User          map[string]any `json:"user,omitempty"`
}

// Status asks the backend whether the stored token is accepted.
func (c *Client) Status(ctx context.Context) (AuthStatus, error) {
	r, err := c.RequestWithRetry(ctx, Request{Method: http.MethodGet, Path: PathAuthStatus, Auth: true})
	if err != nil {
		if IsAuth(err) {
			return AuthStatus{Authenticated: false}, nil
		}
		return AuthStatus{}, err
	}
	var st AuthStatus
	if err := r.Decode(&st); err != nil {
		return AuthStatus{}, err
	}
	return st, nil
}

// Health probes GET /health once within timeout.
func (c *Client) Health(ctx context.Context, timeout time.Duration) error {
	r, err := c.Request(ctx, Request{Method: http.MethodGet, Path: PathHealth}, timeout)
	if err != nil {
		return err
	}
	if !r.OK() {
		return &HTTPError{Status: r.Status}
	}
	return nil
}

// Claims are the parts of an access token the agent displays.
type Claims struct {
	Subject string
	Expiry  time.Time
}

// ParseClaims reads subject and expiry from a JWT access token without
// verifying its signature; the backend remains the only verifier. Opaque
// tokens yield ok == false.
func ParseClaims(accessToken string) (Claims, bool) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &rc); err != nil {
		return Claims{}, false
	}
	var out Claims
	out.Subject = rc.Subject
	if rc.ExpiresAt != nil {
		out.Expiry = rc.ExpiresAt.Time
	}
	return out, true
}

// Describe renders token state for status output.
func Describe(tok *oauth2.Token, now time.Time) string {
	if tok == nil || tok.AccessToken == "" {
		return "signed out"
	}
	if tok.Expiry.IsZero() {
		return "signed in"
	}
	if now.After(tok.Expiry) {
		return fmt.Sprintf("signed in (token expired %s)", tok.Expiry.Format(time.RFC3339))
	}
	return fmt.Sprintf("signed in (token valid until %s)", tok.Expiry.Format(time.RFC3339))
}
