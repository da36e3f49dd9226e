package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Tiliavir/tab-tracker/internal/backend"
	"github.com/Tiliavir/tab-tracker/internal/model"
	"github.com/Tiliavir/tab-tracker/internal/storage"
	"github.com/Tiliavir/tab-tracker/internal/timecalc"
)

// MessageType names a request from the extension UI.
type MessageType string

const (
	MsgGetStatus         MessageType = "GET_STATUS"
	MsgSetTracking       MessageType = "SET_TRACKING"
	MsgLogin             MessageType = "LOGIN"
	MsgLogout            MessageType = "LOGOUT"
	MsgForceSync         MessageType = "FORCE_SYNC"
	MsgGetSyncStatus     MessageType = "GET_SYNC_STATUS"
	MsgGetCurrentSession MessageType = "GET_CURRENT_SESSION"
	MsgVideoProgress     MessageType = "VIDEO_PROGRESS"
	MsgVideoCompleted    MessageType = "VIDEO_COMPLETED"
	MsgCourseProgress    MessageType = "COURSE_PROGRESS"
)

// Message is a UI request. Only the fields its type needs are read.
type Message struct {
	Type     MessageType     `json:"type"`
	Tracking *bool           `json:"isTracking,omitempty"`
	Email    string          `json:"email,omitempty"`
	Password string          `json:"password,omitempty"`
	Payload  json.RawMessage `json:"data,omitempty"`
}

// Reply answers a Message.
type Reply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Status is the GET_STATUS payload.
type Status struct {
	IsTracking     bool             `json:"isTracking"`
	IsOnline       bool             `json:"isOnline"`
	IsLoggedIn     bool             `json:"isLoggedIn"`
	Auth           string           `json:"auth"`
	TokenExpiry    *time.Time       `json:"tokenExpiry,omitempty"`
	User           map[string]any   `json:"user,omitempty"`
	CurrentSession *SessionView     `json:"currentSession"`
	Sync           model.SyncStatus `json:"sync"`
	Syncing        bool             `json:"syncing"`
}

// SessionView is the live session with its elapsed time.
type SessionView struct {
	model.Session
	Elapsed int64 `json:"elapsed"`
}

// ForceSyncResult is the FORCE_SYNC payload.
type ForceSyncResult struct {
	Ran    bool             `json:"ran"`
	Result model.SyncResult `json:"result"`
}

var errNoPayload = errors.New("missing data")

func failReply(err error) Reply {
	return Reply{Success: false, Error: err.Error()}
}

func okReply(data any) Reply {
	return Reply{Success: true, Data: data}
}

// Handle answers one UI message. It is safe to call from any goroutine.
func (r *Runtime) Handle(ctx context.Context, m Message) Reply {
	r.Logger.Debug("message", "type", m.Type)
	defer r.publish()

	switch m.Type {
	case MsgGetStatus:
		return okReply(r.Status(ctx))

	case MsgSetTracking:
		if m.Tracking == nil {
			return failReply(errors.New("isTracking required"))
		}
		if err := r.setTracking(ctx, *m.Tracking); err != nil {
			return failReply(err)
		}
		return okReply(map[string]bool{"isTracking": *m.Tracking})

	case MsgLogin:
		if m.Email == "" || m.Password == "" {
			return failReply(errors.New("email and password required"))
		}
		res, err := r.Auth.Login(ctx, m.Email, m.Password)
		if err != nil {
			if backend.IsAuth(err) {
				return failReply(errors.New("invalid credentials"))
			}
			return failReply(err)
		}
		r.saveSettings(func(s *storage.Settings) { s.User = res.User })
		// Records queued while signed out can go now.
		r.background(context.WithoutCancel(ctx), func(ctx context.Context) { r.Drain(ctx) })
		return okReply(map[string]any{"user": res.User})

	case MsgLogout:
		if err := r.Auth.Logout(); err != nil {
			return failReply(err)
		}
		r.saveSettings(func(s *storage.Settings) { s.User = nil })
		return okReply(nil)

	case MsgForceSync:
		if !r.State.Online() {
			return failReply(errors.New("offline"))
		}
		if !r.State.HasToken() {
			return failReply(errors.New("not logged in"))
		}
		res, ran := r.Drain(ctx)
		return okReply(ForceSyncResult{Ran: ran, Result: res})

	case MsgGetSyncStatus:
		st, err := r.Engine.Status(ctx)
		if err != nil {
			return failReply(err)
		}
		return okReply(st)

	case MsgGetCurrentSession:
		return okReply(r.session())

	case MsgVideoProgress, MsgVideoCompleted, MsgCourseProgress:
		if len(m.Payload) == 0 {
			return failReply(errNoPayload)
		}
		out := r.Engine.SubmitEvent(ctx, model.AuxEvent{Kind: eventKind(m.Type), Payload: m.Payload})
		if out == model.Lost {
			return failReply(fmt.Errorf("%s could not be stored", m.Type))
		}
		return okReply(map[string]string{"outcome": out.String()})
	}
	return failReply(fmt.Errorf("unknown message type %q", m.Type))
}

func eventKind(t MessageType) model.EventKind {
	switch t {
	case MsgVideoProgress:
		return model.EventVideoProgress
	case MsgVideoCompleted:
		return model.EventVideoCompleted
	default:
		return model.EventCourseProgress
	}
}

// Status assembles the GET_STATUS payload.
func (r *Runtime) Status(ctx context.Context) Status {
	tok := r.State.Token()
	st := Status{
		IsTracking:     r.State.Tracking(),
		IsOnline:       r.State.Online(),
		IsLoggedIn:     r.State.HasToken(),
		Auth:           backend.Describe(tok, r.Now()),
		CurrentSession: r.session(),
		Syncing:        r.Engine.Draining(),
	}
	if tok != nil && !tok.Expiry.IsZero() {
		exp := tok.Expiry
		st.TokenExpiry = &exp
	}
	if r.Settings != nil {
		if s, err := r.Settings.Load(); err == nil {
			st.User = s.User
		}
	}
	ss, err := r.Engine.Status(ctx)
	if err != nil {
		r.Logger.Warn("reading sync status failed", "error", err)
	}
	st.Sync = ss
	return st
}

func (r *Runtime) session() *SessionView {
	cur := r.State.Current()
	if cur == nil {
		return nil
	}
	return &SessionView{Session: *cur, Elapsed: timecalc.ElapsedSeconds(cur.StartTime, r.Now())}
}

func (r *Runtime) setTracking(ctx context.Context, on bool) error {
	r.State.SetTracking(on)
	r.saveSettings(func(s *storage.Settings) { s.IsTracking = on })
	return r.exec(ctx, func(ctx context.Context) {
		at := r.Now()
		if !on {
			r.Tracker.Stop(ctx, at)
			return
		}
		if r.focusedWindow != WindowNone {
			r.Tracker.WindowFocused(ctx, r.focusedWindow, at)
		}
	})
}

func (r *Runtime) saveSettings(fn func(*storage.Settings)) {
	if r.Settings == nil {
		return
	}
	if err := r.Settings.Update(fn); err != nil {
		r.Logger.Warn("saving settings failed", "path", r.Settings.Path(), "error", err)
	}
}
