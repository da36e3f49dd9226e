// Package state holds the agent's process-wide runtime state.
package state

import (
	"sync"
	"sync/atomic"

	"golang.org/x/oauth2"

	"github.com/Tiliavir/tab-tracker/internal/model"
)

// State is shared by reference between components. Every field has exactly
// one writer and any number of readers:
//
//	online   written by the connectivity monitor
//	tracking written by the SET_TRACKING handler
//	token    written by the backend client (refresh) and LOGIN/LOGOUT
//	current  written by the activity tracker
type State struct {
	online   atomic.Bool
	tracking atomic.Bool

	mu      sync.RWMutex
	token   *oauth2.Token
	current *model.Session

	persist func(*oauth2.Token) error
}

// Option configures a new State.
type Option func(*State)

// WithToken seeds the credentials loaded from the settings store.
func WithToken(tok *oauth2.Token) Option {
	return func(s *State) { s.token = tok }
}

// WithTracking seeds the tracking flag loaded from the settings store.
func WithTracking(on bool) Option {
	return func(s *State) { s.tracking.Store(on) }
}

// WithTokenPersister is called after every token change.
func WithTokenPersister(fn func(*oauth2.Token) error) Option {
	return func(s *State) { s.persist = fn }
}

// New returns a State that starts offline with tracking enabled.
func New(opts ...Option) *State {
	s := &State{}
	s.tracking.Store(true)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *State) Online() bool { return s.online.Load() }

// SetOnline stores v and returns the previous value.
func (s *State) SetOnline(v bool) (was bool) {
	return s.online.Swap(v)
}

func (s *State) Tracking() bool { return s.tracking.Load() }

func (s *State) SetTracking(v bool) { s.tracking.Store(v) }

// Token returns the current credentials, or nil when signed out.
func (s *State) Token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// HasToken reports whether an access token is present.
func (s *State) HasToken() bool {
	tok := s.Token()
	return tok != nil && tok.AccessToken != ""
}

// SetToken replaces the credentials in memory and then persists them.
// A nil token signs the user out.
func (s *State) SetToken(tok *oauth2.Token) error {
	s.mu.Lock()
	s.token = tok
	persist := s.persist
	s.mu.Unlock()
	if persist == nil {
		return nil
	}
	return persist(tok)
}

// Current returns a copy of the live session, or nil when idle.
func (s *State) Current() *model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// SetCurrent replaces the live session wholesale; nil means idle.
func (s *State) SetCurrent(sess *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess == nil {
		s.current = nil
		return
	}
	cp := *sess
	s.current = &cp
}
