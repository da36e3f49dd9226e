// Package runtime wires the tracker, sync engine and connectivity monitor
// together and drives them from a single dispatcher goroutine.
package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/Tiliavir/tab-tracker/internal/backend"
	"github.com/Tiliavir/tab-tracker/internal/model"
	"github.com/Tiliavir/tab-tracker/internal/state"
	"github.com/Tiliavir/tab-tracker/internal/storage"
)

// ErrStopped is returned when posting to a runtime that has shut down.
var ErrStopped = errors.New("runtime stopped")

// Tracker is the activity tracker as driven by the dispatcher.
type Tracker interface {
	Activate(ctx context.Context, tab model.Tab, at time.Time)
	ActivateByID(ctx context.Context, tabID int, at time.Time)
	TabUpdated(ctx context.Context, tab model.Tab, at time.Time)
	TabRemoved(ctx context.Context, tabID int, at time.Time)
	WindowBlurred(ctx context.Context, at time.Time)
	WindowFocused(ctx context.Context, windowID int, at time.Time)
	Stop(ctx context.Context, at time.Time)
	Heartbeat(at time.Time) (model.Heartbeat, bool)
}

// Engine is the sync engine as used by the runtime.
type Engine interface {
	SubmitEvent(ctx context.Context, ev model.AuxEvent) model.Outcome
	ProcessOfflineQueue(ctx context.Context) (model.SyncResult, bool)
	SendHeartbeat(ctx context.Context, hb model.Heartbeat) error
	Status(ctx context.Context) (model.SyncStatus, error)
	Draining() bool
}

// Authenticator signs the user in and out.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*backend.LoginResult, error)
	Logout() error
	Status(ctx context.Context) (backend.AuthStatus, error)
}

// Monitor runs the connectivity probe loop.
type Monitor interface {
	Run(ctx context.Context) error
}

// Deps are the components a Runtime coordinates.
type Deps struct {
	State    *state.State
	Tracker  Tracker
	Engine   Engine
	Monitor  Monitor
	Auth     Authenticator
	Settings *storage.SettingsStore
	Tabs     *Registry
	Logger   hclog.Logger

	DrainInterval     time.Duration
	HeartbeatInterval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type job struct {
	event Event
	fn    func(ctx context.Context)
	done  chan struct{}
}

type Runtime struct {
	Deps

	jobs    chan job
	stopped chan struct{}

	// bgMu orders bg.Add against the final bg.Wait in Run.
	bgMu     sync.Mutex
	bgClosed bool
	bg       sync.WaitGroup

	// focusedWindow is only touched by the dispatcher goroutine.
	focusedWindow int

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}
}

// New returns a Runtime; call Run to start it.
func New(d Deps) *Runtime {
	if d.Logger == nil {
		d.Logger = hclog.NewNullLogger()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Tabs == nil {
		d.Tabs = NewRegistry()
	}
	if d.DrainInterval <= 0 {
		d.DrainInterval = time.Minute
	}
	if d.HeartbeatInterval <= 0 {
		d.HeartbeatInterval = 30 * time.Second
	}
	return &Runtime{
		Deps:          d,
		jobs:          make(chan job, 256),
		stopped:       make(chan struct{}),
		focusedWindow: WindowNone,
		subs:          make(map[chan struct{}]struct{}),
	}
}

// Run drives the dispatcher, the timers and the connectivity monitor until
// ctx is cancelled, then finalizes the live session.
func (r *Runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.dispatch(gctx) })
	if r.Monitor != nil {
		g.Go(func() error { return r.Monitor.Run(gctx) })
	}
	g.Go(func() error { return r.tick(gctx, r.DrainInterval, EventDrainTick) })
	g.Go(func() error { return r.tick(gctx, r.HeartbeatInterval, EventHeartbeatTick) })

	err := g.Wait()
	r.bgMu.Lock()
	r.bgClosed = true
	r.bgMu.Unlock()
	r.bg.Wait()

	// The dispatcher is gone, so the tracker can be driven from here.
	// A closing browser still gets its last dwell recorded.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	r.Tracker.Stop(shutdownCtx, r.Now())
	r.Logger.Info("runtime stopped")
	return err
}

func (r *Runtime) dispatch(ctx context.Context) error {
	defer close(r.stopped)
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-r.jobs:
			if j.fn != nil {
				j.fn(ctx)
			} else {
				r.handle(ctx, j.event)
			}
			if j.done != nil {
				close(j.done)
			}
			r.publish()
		}
	}
}

func (r *Runtime) tick(ctx context.Context, every time.Duration, typ EventType) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Post(ctx, Event{Type: typ}); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrStopped) {
				r.Logger.Warn("posting timer event failed", "event", typ, "error", err)
			}
		}
	}
}

// Post queues a named event for the dispatcher.
func (r *Runtime) Post(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.At.IsZero() {
		ev.At = r.Now()
	}
	if r.isStopped() {
		return ErrStopped
	}
	select {
	case r.jobs <- job{event: ev}:
		return nil
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exec runs fn on the dispatcher goroutine and waits for it.
func (r *Runtime) exec(ctx context.Context, fn func(ctx context.Context)) error {
	if r.isStopped() {
		return ErrStopped
	}
	done := make(chan struct{})
	select {
	case r.jobs <- job{fn: fn, done: done}:
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) isStopped() bool {
	select {
	case <-r.stopped:
		return true
	default:
		return false
	}
}

// handle routes one event. It runs on the dispatcher goroutine only.
func (r *Runtime) handle(ctx context.Context, ev Event) {
	r.Logger.Trace("event", "type", ev.Type, "tab_id", ev.tabID(), "window_id", ev.WindowID)
	switch ev.Type {
	case EventTabActivated:
		if ev.Tab != nil {
			tab := *ev.Tab
			tab.Active = true
			r.Tabs.Observe(tab)
			r.focusedWindow = tab.WindowID
			r.Tracker.Activate(ctx, tab, ev.At)
			return
		}
		r.Tabs.SetActive(ev.WindowID, ev.TabID)
		r.focusedWindow = ev.WindowID
		r.Tracker.ActivateByID(ctx, ev.TabID, ev.At)
	case EventTabUpdated:
		r.Tabs.Observe(*ev.Tab)
		r.Tracker.TabUpdated(ctx, *ev.Tab, ev.At)
	case EventTabRemoved:
		id := ev.tabID()
		r.Tabs.Remove(id)
		r.Tracker.TabRemoved(ctx, id, ev.At)
	case EventWindowFocus:
		if ev.WindowID == WindowNone {
			r.Tracker.WindowBlurred(ctx, ev.At)
			return
		}
		r.focusedWindow = ev.WindowID
		r.Tracker.WindowFocused(ctx, ev.WindowID, ev.At)
	case EventIdleState:
		if ev.State != IdleActive {
			r.Tracker.Stop(ctx, ev.At)
			return
		}
		if r.focusedWindow != WindowNone {
			r.Tracker.WindowFocused(ctx, r.focusedWindow, ev.At)
		}
	case EventBrowserClosed:
		r.Tracker.Stop(ctx, ev.At)
	case EventDrainTick:
		r.background(ctx, func(ctx context.Context) { r.Drain(ctx) })
	case EventHeartbeatTick:
		hb, ok := r.Tracker.Heartbeat(ev.At)
		if !ok {
			return
		}
		r.background(ctx, func(ctx context.Context) {
			if err := r.Engine.SendHeartbeat(ctx, hb); err != nil {
				r.Logger.Debug("heartbeat not sent", "error", err)
			}
		})
	}
}

// background runs network work off the dispatcher goroutine. It reports
// false once Run has stopped accepting work.
func (r *Runtime) background(ctx context.Context, fn func(ctx context.Context)) bool {
	r.bgMu.Lock()
	defer r.bgMu.Unlock()
	if r.bgClosed || r.isStopped() {
		return false
	}
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		fn(ctx)
	}()
	return true
}

// Drain runs a drain pass and notifies subscribers if one ran.
func (r *Runtime) Drain(ctx context.Context) (model.SyncResult, bool) {
	res, ran := r.Engine.ProcessOfflineQueue(ctx)
	if ran {
		r.publish()
	}
	return res, ran
}

// Reconnected runs when the backend becomes reachable again: stored
// credentials are checked, then the queue is drained.
func (r *Runtime) Reconnected(ctx context.Context) {
	if r.State.HasToken() {
		st, err := r.Auth.Status(ctx)
		switch {
		case err != nil:
			r.Logger.Debug("auth status check failed", "error", err)
		case !st.Authenticated:
			r.Logger.Warn("stored credentials were rejected, sign in again to sync")
		case st.User != nil:
			r.saveSettings(func(s *storage.Settings) { s.User = st.User })
		}
	}
	r.Drain(ctx)
}

// Subscribe returns a channel that receives a signal whenever the status
// may have changed. Signals coalesce; call cancel to unsubscribe.
func (r *Runtime) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	r.subMu.Lock()
	r.subs[ch] = struct{}{}
	r.subMu.Unlock()
	return ch, func() {
		r.subMu.Lock()
		delete(r.subs, ch)
		r.subMu.Unlock()
	}
}

func (r *Runtime) publish() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
