// Package tracker measures how long each trackable tab stays active and
// emits an activity record when that dwell ends.
package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/Tiliavir/tab-tracker/internal/classifier"
	"github.com/Tiliavir/tab-tracker/internal/model"
	"github.com/Tiliavir/tab-tracker/internal/timecalc"
)

// DefaultMinDuration is the shortest dwell that produces a record.
const DefaultMinDuration = 5 * time.Second

// Sink receives finalized records.
type Sink interface {
	Submit(ctx context.Context, rec model.ActivityRecord) model.Outcome
}

// Classifier maps a URL to a platform, or nil.
type Classifier interface {
	Classify(rawURL string) *classifier.Platform
}

// TabQuerier looks up tabs in the browser. Lookups fail when the tab or
// window is gone.
type TabQuerier interface {
	Tab(ctx context.Context, id int) (model.Tab, error)
	ActiveTab(ctx context.Context, windowID int) (model.Tab, error)
}

// SessionState is where the tracker keeps the live session and reads the
// tracking switch.
type SessionState interface {
	Current() *model.Session
	SetCurrent(sess *model.Session)
	Tracking() bool
}

// Tracker is a two-state machine: idle (no current session) or tracking.
// It is not safe for concurrent use; one dispatcher goroutine drives it.
type Tracker struct {
	sink        Sink
	classifier  Classifier
	tabs        TabQuerier
	state       SessionState
	minDuration time.Duration
	logger      hclog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithMinDuration(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.minDuration = d
		}
	}
}

func WithLogger(l hclog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func New(sink Sink, c Classifier, tabs TabQuerier, state SessionState, opts ...Option) *Tracker {
	t := &Tracker{
		sink:        sink,
		classifier:  c,
		tabs:        tabs,
		state:       state,
		minDuration: DefaultMinDuration,
		logger:      hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Activate handles a tab becoming the focus of attention, or the active tab
// navigating. A title change on the same page updates the session in place.
func (t *Tracker) Activate(ctx context.Context, tab model.Tab, at time.Time) {
	cur := t.state.Current()
	if cur != nil && cur.TabID == tab.ID && cur.URL == tab.URL {
		if tab.Title != "" && tab.Title != cur.Title {
			cur.Title = tab.Title
			t.state.SetCurrent(cur)
		}
		return
	}

	// The outgoing session is always recorded before the next one starts.
	t.end(ctx, at)

	if !t.state.Tracking() || !classifier.Trackable(tab.URL) {
		return
	}
	t.start(tab, at)
}

// ActivateByID is Activate for events that carry only a tab id. If the tab
// cannot be queried the tracker goes idle.
func (t *Tracker) ActivateByID(ctx context.Context, tabID int, at time.Time) {
	if cur := t.state.Current(); cur != nil && cur.TabID == tabID {
		return
	}
	t.end(ctx, at)
	tab, err := t.tabs.Tab(ctx, tabID)
	if err != nil {
		t.logger.Debug("tab query failed, staying idle", "tab_id", tabID, "error", err)
		return
	}
	t.Activate(ctx, tab, at)
}

// TabUpdated handles a URL or title change. Only the active tab matters.
func (t *Tracker) TabUpdated(ctx context.Context, tab model.Tab, at time.Time) {
	cur := t.state.Current()
	if !tab.Active && (cur == nil || cur.TabID != tab.ID) {
		return
	}
	t.Activate(ctx, tab, at)
}

// TabRemoved ends the session if its tab was closed.
func (t *Tracker) TabRemoved(ctx context.Context, tabID int, at time.Time) {
	if cur := t.state.Current(); cur != nil && cur.TabID == tabID {
		t.end(ctx, at)
	}
}

// WindowBlurred handles every browser window losing focus.
func (t *Tracker) WindowBlurred(ctx context.Context, at time.Time) {
	t.end(ctx, at)
}

// WindowFocused resumes tracking with the active tab of the focused window.
func (t *Tracker) WindowFocused(ctx context.Context, windowID int, at time.Time) {
	tab, err := t.tabs.ActiveTab(ctx, windowID)
	if err != nil {
		t.logger.Debug("active tab query failed, going idle", "window_id", windowID, "error", err)
		t.end(ctx, at)
		return
	}
	t.Activate(ctx, tab, at)
}

// Stop ends the current session, for shutdown, idle and pause.
func (t *Tracker) Stop(ctx context.Context, at time.Time) {
	t.end(ctx, at)
}

// Heartbeat describes the running session, if any.
func (t *Tracker) Heartbeat(at time.Time) (model.Heartbeat, bool) {
	cur := t.state.Current()
	if cur == nil {
		return model.Heartbeat{}, false
	}
	return model.Heartbeat{
		URL:      cur.URL,
		Title:    cur.Title,
		Domain:   cur.Domain,
		Duration: timecalc.ElapsedSeconds(cur.StartTime, at),
	}, true
}

func (t *Tracker) start(tab model.Tab, at time.Time) {
	sess := &model.Session{
		ID:        uuid.NewString(),
		TabID:     tab.ID,
		URL:       tab.URL,
		Title:     tab.Title,
		Domain:    classifier.Domain(tab.URL),
		Category:  model.DefaultCategory,
		StartTime: at,
	}
	if p := t.classifier.Classify(tab.URL); p != nil {
		name := p.Name
		sess.Platform = &name
		sess.Category = p.Category
	}
	t.state.SetCurrent(sess)
	t.logger.Trace("session started", "domain", sess.Domain, "tab_id", tab.ID)
}

// end finalizes the current session, emitting it when long enough, and
// leaves the tracker idle.
func (t *Tracker) end(ctx context.Context, at time.Time) {
	cur := t.state.Current()
	if cur == nil {
		return
	}
	defer t.state.SetCurrent(nil)

	secs := timecalc.ElapsedSeconds(cur.StartTime, at)
	if time.Duration(secs)*time.Second < t.minDuration {
		t.logger.Trace("discarding short visit", "domain", cur.Domain, "seconds", secs)
		return
	}

	rec := t.record(cur, secs)
	outcome := t.sink.Submit(ctx, rec)
	t.logger.Debug("activity recorded", "domain", rec.Domain, "category", rec.Category, "seconds", secs, "outcome", outcome)
}

func (t *Tracker) record(s *model.Session, secs int64) model.ActivityRecord {
	rec := model.ActivityRecord{
		URL:       s.URL,
		Title:     s.Title,
		Domain:    s.Domain,
		Category:  model.DefaultCategory,
		Duration:  secs,
		Timestamp: s.StartTime,
	}
	if p := t.classifier.Classify(s.URL); p != nil {
		name := p.Name
		rec.Platform = &name
		rec.Category = p.Category
		rec.Metadata = classifier.Metadata(p.Name, s.URL, s.Title)
	}
	return rec
}
