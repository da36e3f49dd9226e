package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/tab-tracker/internal/backend"
	"github.com/Tiliavir/tab-tracker/internal/model"
	"github.com/Tiliavir/tab-tracker/internal/queue"
)

type fakeGate struct {
	online atomic.Bool
	token  atomic.Bool
}

func (g *fakeGate) Online() bool   { return g.online.Load() }
func (g *fakeGate) HasToken() bool { return g.token.Load() }

func gate(online, token bool) *fakeGate {
	g := &fakeGate{}
	g.online.Store(online)
	g.token.Store(token)
	return g
}

type fakeSender struct {
	mu       sync.Mutex
	requests []backend.Request
	retries  []int
	respond  func(req backend.Request) error
}

func (f *fakeSender) RequestWithRetry(ctx context.Context, req backend.Request) (*backend.Response, error) {
	return f.Send(ctx, req, 3)
}

func (f *fakeSender) Send(ctx context.Context, req backend.Request, maxRetries int) (*backend.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.retries = append(f.retries, maxRetries)
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		if err := respond(req); err != nil {
			return nil, err
		}
	}
	return &backend.Response{Status: 200}, nil
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func openStore(t *testing.T) *queue.Store {
	t.Helper()
	s := queue.Open(filepath.Join(t.TempDir(), "queue.db"), nil)
	require.NoError(t, s.Err())
	t.Cleanup(func() { s.Close() })
	return s
}

func youtubeRecord() model.ActivityRecord {
	platform := "youtube"
	return model.ActivityRecord{
		URL:       "https://youtube.com/watch?v=abc",
		Title:     "Cats - YouTube",
		Domain:    "youtube.com",
		Platform:  &platform,
		Category:  "entertainment",
		Duration:  42,
		Timestamp: time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC),
		Metadata:  map[string]any{"video_id": "abc"},
	}
}

func pending(t *testing.T, s *queue.Store) int {
	t.Helper()
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestLiveDeliveryNeverTouchesStore(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	sender := &fakeSender{}
	e := New(store, sender, gate(true, true))

	require.Equal(t, model.Delivered, e.Submit(ctx, youtubeRecord()))
	require.Equal(t, 1, sender.calls())
	req := sender.requests[0]
	require.Equal(t, backend.PathBrowser, req.Path)
	require.True(t, req.Auth)
	require.NotEmpty(t, req.IdempotencyKey)

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.Body.(json.RawMessage), &body))
	require.Equal(t, "youtube", body["platform"])
	require.Equal(t, float64(42), body["duration"])

	require.Equal(t, 0, pending(t, store))
	st, err := e.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, model.SyncStatus{}, st)
}

func TestOfflineEnqueueThenDrain(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	sender := &fakeSender{}
	g := gate(false, true)
	e := New(store, sender, g)

	require.Equal(t, model.Queued, e.Submit(ctx, youtubeRecord()))
	require.Equal(t, 0, sender.calls())
	require.Equal(t, 1, pending(t, store))
	st, err := e.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.Pending)

	g.online.Store(true)
	res, ran := e.ProcessOfflineQueue(ctx)
	require.True(t, ran)
	require.Equal(t, model.SyncResult{Synced: 1}, res)
	require.Equal(t, 1, sender.calls())
	require.Equal(t, []int{0}, sender.retries)
	require.Equal(t, 0, pending(t, store))

	st, err = e.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, st.Pending)
	require.NotNil(t, st.LastSyncTime)
	require.Equal(t, 1, st.LastSyncResult.Synced)

	// A later enqueue only moves the pending count.
	g.online.Store(false)
	require.Equal(t, model.Queued, e.Submit(ctx, youtubeRecord()))
	after, err := e.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, after.Pending)
	require.Equal(t, st.LastSyncTime.Unix(), after.LastSyncTime.Unix())
	require.Equal(t, st.LastSyncResult, after.LastSyncResult)
}

func TestNoTokenEnqueuesWithoutNetwork(t *testing.T) {
	store := openStore(t)
	sender := &fakeSender{}
	e := New(store, sender, gate(true, false))

	require.Equal(t, model.Queued, e.Submit(context.Background(), youtubeRecord()))
	require.Equal(t, 0, sender.calls())
	require.Equal(t, 1, pending(t, store))

	_, ran := e.ProcessOfflineQueue(context.Background())
	require.False(t, ran)
}

func TestLiveFailureQueuesWithSameKey(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	sender := &fakeSender{respond: func(backend.Request) error {
		return &backend.TimeoutError{URL: "x", Timeout: time.Second}
	}}
	e := New(store, sender, gate(true, true))

	require.Equal(t, model.Queued, e.Submit(ctx, youtubeRecord()))
	entries := store.List(ctx, model.TableActivities)
	require.Len(t, entries, 1)
	require.Equal(t, sender.requests[0].IdempotencyKey, entries[0].IdempotencyKey)
	require.Equal(t, backend.PathBrowser, entries[0].Endpoint)
}

func TestAuthFailureOnLiveDeliveryQueues(t *testing.T) {
	store := openStore(t)
	sender := &fakeSender{respond: func(backend.Request) error {
		return &backend.AuthError{Err: backend.ErrNoRefreshToken}
	}}
	e := New(store, sender, gate(true, true))

	require.Equal(t, model.Queued, e.Submit(context.Background(), youtubeRecord()))
	require.Equal(t, 1, sender.calls())
	require.Equal(t, 1, pending(t, store))
}

func TestSubmitEventUsesEventTable(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	e := New(store, &fakeSender{}, gate(false, true))

	out := e.SubmitEvent(ctx, model.AuxEvent{Kind: model.EventVideoProgress, Payload: json.RawMessage(`{"video_id":"abc","progress":0.5}`)})
	require.Equal(t, model.Queued, out)
	entries := store.List(ctx, model.TableEvents)
	require.Len(t, entries, 1)
	require.Equal(t, "/api/activities/video-progress", entries[0].Endpoint)
	require.Empty(t, store.List(ctx, model.TableActivities))

	require.Equal(t, model.Lost, e.SubmitEvent(ctx, model.AuxEvent{Kind: "bogus"}))
}

func TestRetryExhaustionDrop(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	sender := &fakeSender{respond: func(backend.Request) error {
		return &backend.HTTPError{Status: 503}
	}}
	g := gate(false, true)
	e := New(store, sender, g, WithMaxQueueRetries(3))

	require.Equal(t, model.Queued, e.Submit(ctx, youtubeRecord()))
	g.online.Store(true)

	for pass := 1; pass <= 2; pass++ {
		res, ran := e.ProcessOfflineQueue(ctx)
		require.True(t, ran)
		require.Equal(t, model.SyncResult{Failed: 1}, res)
		entries := store.List(ctx, model.TableActivities)
		require.Len(t, entries, 1)
		require.Equal(t, pass, entries[0].RetryCount)
	}

	res, ran := e.ProcessOfflineQueue(ctx)
	require.True(t, ran)
	require.Equal(t, model.SyncResult{Failed: 1, Dropped: 1}, res)
	require.Equal(t, 0, pending(t, store))

	st, err := e.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, st.Pending)
	require.Equal(t, 1, st.LastSyncResult.Dropped)
	require.Equal(t, 3, sender.calls())
}

func TestAtMostOneDrain(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	sender := &fakeSender{respond: func(backend.Request) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}}
	g := gate(false, true)
	e := New(store, sender, g)
	require.Equal(t, model.Queued, e.Submit(ctx, youtubeRecord()))
	g.online.Store(true)

	done := make(chan model.SyncResult)
	go func() {
		res, _ := e.ProcessOfflineQueue(ctx)
		done <- res
	}()

	<-entered
	require.True(t, e.Draining())
	_, ran := e.ProcessOfflineQueue(ctx)
	require.False(t, ran)

	close(release)
	res := <-done
	require.Equal(t, 1, res.Synced)
	require.Equal(t, 1, sender.calls())
	require.False(t, e.Draining())
}

func TestAuthErrorStopsPassWithoutCountingRetries(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	g := gate(false, true)
	sender := &fakeSender{}
	e := New(store, sender, g)
	e.Submit(ctx, youtubeRecord())
	e.Submit(ctx, youtubeRecord())

	sender.respond = func(backend.Request) error {
		return &backend.AuthError{Err: errors.New("refresh rejected")}
	}
	g.online.Store(true)
	res, ran := e.ProcessOfflineQueue(ctx)
	require.True(t, ran)
	require.Equal(t, model.SyncResult{Failed: 1}, res)
	require.Equal(t, 1, sender.calls())

	for _, entry := range store.List(ctx, model.TableActivities) {
		require.Equal(t, 0, entry.RetryCount)
	}
	require.Equal(t, 2, pending(t, store))
}

func TestDrainAcrossBothTables(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	g := gate(false, true)
	sender := &fakeSender{}
	e := New(store, sender, g)

	e.Submit(ctx, youtubeRecord())
	e.SubmitEvent(ctx, model.AuxEvent{Kind: model.EventCourseProgress, Payload: json.RawMessage(`{"course":"go"}`)})
	g.online.Store(true)

	res, ran := e.ProcessOfflineQueue(ctx)
	require.True(t, ran)
	require.Equal(t, 2, res.Synced)
	require.Equal(t, backend.PathBrowser, sender.requests[0].Path)
	require.Equal(t, "/api/activities/course-progress", sender.requests[1].Path)
	require.Equal(t, 0, pending(t, store))
}

func TestStorageFailureLosesRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("garbage!"), 200), 0o600))
	store := queue.Open(path, nil)
	require.Error(t, store.Err())

	e := New(store, &fakeSender{}, gate(false, true))
	require.Equal(t, model.Lost, e.Submit(context.Background(), youtubeRecord()))

	res, ran := e.ProcessOfflineQueue(context.Background())
	require.False(t, ran)
	require.Equal(t, model.SyncResult{}, res)
}

func TestHeartbeatNeverQueued(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	sender := &fakeSender{respond: func(backend.Request) error {
		return &backend.HTTPError{Status: 500}
	}}
	e := New(store, sender, gate(true, true))

	hb := model.Heartbeat{URL: "https://github.com", Title: "GitHub", Domain: "github.com", Duration: 30}
	require.Error(t, e.SendHeartbeat(ctx, hb))
	require.Equal(t, []int{0}, sender.retries)
	require.Equal(t, backend.PathHeartbeat, sender.requests[0].Path)
	require.Equal(t, 0, pending(t, store))

	offline := New(store, sender, gate(false, true))
	require.ErrorIs(t, offline.SendHeartbeat(ctx, hb), ErrSkipped)
	require.Equal(t, 1, sender.calls())
}
