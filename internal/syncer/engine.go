// Package syncer decides between delivering a record now and queueing it
// for a later drain pass.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/Tiliavir/tab-tracker/internal/backend"
	"github.com/Tiliavir/tab-tracker/internal/model"
)

// DefaultMaxQueueRetries is the number of failed drain attempts after which
// a queued entry is dropped.
const DefaultMaxQueueRetries = 5

// ErrSkipped is returned by SendHeartbeat when the agent is offline or
// signed out.
var ErrSkipped = errors.New("heartbeat skipped")

// Store is the offline queue the engine writes to.
type Store interface {
	Enqueue(ctx context.Context, table model.Table, e model.QueueEntry) (int64, error)
	List(ctx context.Context, table model.Table) []model.QueueEntry
	Remove(ctx context.Context, table model.Table, id int64) error
	IncrementRetry(ctx context.Context, table model.Table, id int64) (int, error)
	Count(ctx context.Context) (int, error)
	RefreshPending(ctx context.Context) (int, error)
	SetSyncStatus(ctx context.Context, st model.SyncStatus) error
	GetSyncStatus(ctx context.Context) (model.SyncStatus, error)
}

// Sender delivers requests to the backend.
type Sender interface {
	RequestWithRetry(ctx context.Context, req backend.Request) (*backend.Response, error)
	Send(ctx context.Context, req backend.Request, maxRetries int) (*backend.Response, error)
}

// Gate reports whether live delivery should be attempted.
type Gate interface {
	Online() bool
	HasToken() bool
}

// Engine is safe for concurrent use.
type Engine struct {
	store      Store
	sender     Sender
	gate       Gate
	maxRetries int
	logger     hclog.Logger
	now        func() time.Time

	draining atomic.Bool
	statusMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l hclog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMaxQueueRetries sets the drop threshold for queued entries.
func WithMaxQueueRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New constructs an Engine.
func New(store Store, sender Sender, gate Gate, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		sender:     sender,
		gate:       gate,
		maxRetries: DefaultMaxQueueRetries,
		logger:     hclog.NewNullLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit delivers a finalized activity record or queues it. It never fails;
// the outcome says where the record ended up.
func (e *Engine) Submit(ctx context.Context, rec model.ActivityRecord) model.Outcome {
	payload, err := json.Marshal(rec)
	if err != nil {
		e.logger.Error("encoding activity record", "url", rec.URL, "error", err)
		lostCounter.WithLabelValues(string(model.TableActivities)).Inc()
		return model.Lost
	}
	return e.submit(ctx, model.TableActivities, "browser", backend.PathBrowser, payload)
}

// SubmitEvent is Submit for auxiliary events.
func (e *Engine) SubmitEvent(ctx context.Context, ev model.AuxEvent) model.Outcome {
	if !ev.Kind.Valid() {
		e.logger.Warn("dropping event of unknown kind", "kind", ev.Kind)
		return model.Lost
	}
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return e.submit(ctx, model.TableEvents, string(ev.Kind), backend.EventPath(string(ev.Kind)), payload)
}

func (e *Engine) submit(ctx context.Context, table model.Table, kind, endpoint string, payload json.RawMessage) model.Outcome {
	entry := model.QueueEntry{
		Kind:           kind,
		Endpoint:       endpoint,
		Payload:        payload,
		IdempotencyKey: uuid.NewString(),
	}

	switch {
	case !e.gate.HasToken():
		return e.enqueue(ctx, table, entry, "unauthenticated")
	case !e.gate.Online():
		return e.enqueue(ctx, table, entry, "offline")
	}

	_, err := e.sender.RequestWithRetry(ctx, backend.Request{
		Method:         http.MethodPost,
		Path:           endpoint,
		Body:           payload,
		Auth:           true,
		IdempotencyKey: entry.IdempotencyKey,
	})
	if err == nil {
		deliveredCounter.WithLabelValues(string(table)).Inc()
		e.logger.Debug("delivered", "endpoint", endpoint)
		return model.Delivered
	}
	e.logger.Warn("live delivery failed, queueing", "endpoint", endpoint, "error", err)
	return e.enqueue(ctx, table, entry, "delivery_failed")
}

func (e *Engine) enqueue(ctx context.Context, table model.Table, entry model.QueueEntry, reason string) model.Outcome {
	entry.QueuedAt = e.now()
	// The write must land even if the caller's context is being torn down.
	ctx = context.WithoutCancel(ctx)
	id, err := e.store.Enqueue(ctx, table, entry)
	if err != nil {
		lostCounter.WithLabelValues(string(table)).Inc()
		e.logger.Error("offline queue write failed, record lost", "table", table, "endpoint", entry.Endpoint, "error", err)
		return model.Lost
	}
	queuedCounter.WithLabelValues(string(table), reason).Inc()
	e.logger.Debug("queued", "table", table, "id", id, "reason", reason)
	e.refreshPending(ctx)
	return model.Queued
}

// refreshPending rewrites the pending count, keeping the last pass result.
func (e *Engine) refreshPending(ctx context.Context) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	n, err := e.store.RefreshPending(ctx)
	if err != nil {
		e.logger.Warn("refreshing pending count failed", "error", err)
		return
	}
	pendingGauge.Set(float64(n))
}

// Draining reports whether a drain pass is in flight.
func (e *Engine) Draining() bool {
	return e.draining.Load()
}

// ProcessOfflineQueue runs one drain pass. It reports ran == false, and does
// nothing, when another pass is in flight or the agent is offline or signed
// out.
//
// Each entry gets a single delivery attempt per pass. A successful entry is
// removed. A failed one has its retry count bumped and is dropped once the
// count reaches the configured maximum. An auth failure ends the pass early
// without touching retry counts, since no other entry can succeed either.
func (e *Engine) ProcessOfflineQueue(ctx context.Context) (res model.SyncResult, ran bool) {
	if !e.draining.CompareAndSwap(false, true) {
		e.logger.Debug("drain pass already running")
		return res, false
	}
	defer e.draining.Store(false)

	if !e.gate.Online() || !e.gate.HasToken() {
		return res, false
	}

	start := e.now()
	defer func() { drainDuration.Observe(time.Since(start).Seconds()) }()

pass:
	for _, table := range model.Tables {
		for _, entry := range e.store.List(ctx, table) {
			if ctx.Err() != nil {
				break pass
			}
			err := e.deliverQueued(ctx, entry)
			switch {
			case err == nil:
				res.Synced++
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				break pass
			case backend.IsAuth(err):
				res.Failed++
				e.logger.Warn("drain pass stopped: credentials rejected", "error", err)
				break pass
			default:
				res.Failed++
				if e.recordFailure(ctx, entry, err) {
					res.Dropped++
				}
			}
		}
	}

	e.writeStatus(context.WithoutCancel(ctx), res)
	drainedCounter.WithLabelValues("synced").Add(float64(res.Synced))
	drainedCounter.WithLabelValues("failed").Add(float64(res.Failed))
	drainedCounter.WithLabelValues("dropped").Add(float64(res.Dropped))
	if res.Synced+res.Failed > 0 {
		e.logger.Info("drain pass finished", "synced", res.Synced, "failed", res.Failed, "dropped", res.Dropped)
	}
	return res, true
}

func (e *Engine) deliverQueued(ctx context.Context, entry model.QueueEntry) error {
	_, err := e.sender.Send(ctx, backend.Request{
		Method:         http.MethodPost,
		Path:           entry.Endpoint,
		Body:           entry.Payload,
		Auth:           true,
		IdempotencyKey: entry.IdempotencyKey,
	}, 0)
	if err != nil {
		return err
	}
	if rerr := e.store.Remove(ctx, entry.Table, entry.ID); rerr != nil {
		// Delivered but still queued; the idempotency key lets the backend
		// discard the duplicate on the next pass.
		e.logger.Error("removing delivered entry failed", "table", entry.Table, "id", entry.ID, "error", rerr)
	}
	return nil
}

// recordFailure bumps the retry count and drops the entry once it reaches
// the maximum. It reports whether the entry was dropped.
func (e *Engine) recordFailure(ctx context.Context, entry model.QueueEntry, cause error) bool {
	n, err := e.store.IncrementRetry(ctx, entry.Table, entry.ID)
	if err != nil {
		e.logger.Error("updating retry count failed", "table", entry.Table, "id", entry.ID, "error", err)
		n = entry.RetryCount + 1
	}
	if n < e.maxRetries {
		e.logger.Debug("queued delivery failed", "table", entry.Table, "id", entry.ID, "retry_count", n, "error", cause)
		return false
	}
	if err := e.store.Remove(ctx, entry.Table, entry.ID); err != nil {
		e.logger.Error("dropping exhausted entry failed", "table", entry.Table, "id", entry.ID, "error", err)
		return false
	}
	e.logger.Warn("dropped queued entry after retry budget exhausted",
		"table", entry.Table, "id", entry.ID, "endpoint", entry.Endpoint, "retry_count", n, "error", cause)
	return true
}

func (e *Engine) writeStatus(ctx context.Context, res model.SyncResult) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	n, err := e.store.Count(ctx)
	if err != nil {
		e.logger.Warn("counting queue failed", "error", err)
	}
	pendingGauge.Set(float64(n))
	now := e.now()
	st := model.SyncStatus{Pending: n, LastSyncTime: &now, LastSyncResult: res}
	if err := e.store.SetSyncStatus(ctx, st); err != nil {
		e.logger.Warn("writing sync status failed", "error", err)
	}
}

// Status returns the stored sync status.
func (e *Engine) Status(ctx context.Context) (model.SyncStatus, error) {
	st, err := e.store.GetSyncStatus(ctx)
	if err != nil {
		return model.SyncStatus{}, fmt.Errorf("reading sync status: %w", err)
	}
	return st, nil
}

// SendHeartbeat reports progress of the running session. Heartbeats get a
// single attempt and are never queued.
func (e *Engine) SendHeartbeat(ctx context.Context, hb model.Heartbeat) error {
	if !e.gate.HasToken() || !e.gate.Online() {
		heartbeatCounter.WithLabelValues("skipped").Inc()
		return ErrSkipped
	}
	_, err := e.sender.Send(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   backend.PathHeartbeat,
		Body:   hb,
		Auth:   true,
	}, 0)
	if err != nil {
		heartbeatCounter.WithLabelValues("failed").Inc()
		return fmt.Errorf("heartbeat: %w", err)
	}
	heartbeatCounter.WithLabelValues("sent").Inc()
	return nil
}
