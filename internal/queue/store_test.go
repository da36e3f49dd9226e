package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/tab-tracker/internal/model"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	s := Open(path, nil)
	require.NoError(t, s.Err())
	t.Cleanup(func() { s.Close() })
	return s, path
}

func entry(endpoint string) model.QueueEntry {
	return model.QueueEntry{
		Kind:           "browser",
		Endpoint:       endpoint,
		Payload:        json.RawMessage(`{"url":"https://github.com","duration":42}`),
		IdempotencyKey: "key-" + endpoint,
		QueuedAt:       time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC),
	}
}

func TestEnqueueListRemove(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	id1, err := s.Enqueue(ctx, model.TableActivities, entry("/api/activities/browser"))
	require.NoError(t, err)
	id2, err := s.Enqueue(ctx, model.TableActivities, entry("/api/activities/browser"))
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	_, err = s.Enqueue(ctx, model.TableEvents, entry("/api/activities/video-progress"))
	require.NoError(t, err)

	got := s.List(ctx, model.TableActivities)
	require.Len(t, got, 2)
	require.Equal(t, id1, got[0].ID)
	require.Equal(t, model.TableActivities, got[0].Table)
	require.JSONEq(t, `{"url":"https://github.com","duration":42}`, string(got[0].Payload))
	require.Equal(t, 0, got[0].RetryCount)
	require.True(t, got[0].QueuedAt.Equal(time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC)))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.NoError(t, s.Remove(ctx, model.TableActivities, id1))
	require.NoError(t, s.Remove(ctx, model.TableActivities, id1))
	require.Len(t, s.List(ctx, model.TableActivities), 1)
	require.Len(t, s.List(ctx, model.TableEvents), 1)
}

func TestQueueSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	s := Open(path, nil)
	require.NoError(t, s.Err())
	id, err := s.Enqueue(ctx, model.TableActivities, entry("/api/activities/browser"))
	require.NoError(t, err)
	retries, err := s.IncrementRetry(ctx, model.TableActivities, id)
	require.NoError(t, err)
	require.Equal(t, 1, retries)
	require.NoError(t, s.Close())

	reopened := Open(path, nil)
	require.NoError(t, reopened.Err())
	defer reopened.Close()

	got := reopened.List(ctx, model.TableActivities)
	require.Len(t, got, 1)
	require.Equal(t, id, got[0].ID)
	require.Equal(t, 1, got[0].RetryCount)
	require.Equal(t, "key-/api/activities/browser", got[0].IdempotencyKey)
}

func TestSyncStatusOverwrite(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	st, err := s.GetSyncStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, model.SyncStatus{}, st)

	now := time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetSyncStatus(ctx, model.SyncStatus{
		Pending:        4,
		LastSyncTime:   &now,
		LastSyncResult: model.SyncResult{Synced: 3, Failed: 1},
	}))
	require.NoError(t, s.SetSyncStatus(ctx, model.SyncStatus{
		Pending:        1,
		LastSyncTime:   &now,
		LastSyncResult: model.SyncResult{Synced: 0, Failed: 1, Dropped: 2},
	}))

	st, err = s.GetSyncStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.Pending)
	require.Equal(t, model.SyncResult{Failed: 1, Dropped: 2}, st.LastSyncResult)
	require.NotNil(t, st.LastSyncTime)
	require.True(t, st.LastSyncTime.Equal(now))

	_, err = s.Enqueue(ctx, model.TableEvents, entry("/api/activities/course-progress"))
	require.NoError(t, err)
	n, err := s.RefreshPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	st, err = s.GetSyncStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.Pending)
	require.Equal(t, 2, st.LastSyncResult.Dropped)
}

func TestUnknownTableRejected(t *testing.T) {
	s, _ := openTemp(t)
	_, err := s.Enqueue(context.Background(), model.Table("sqlite_master; DROP TABLE x"), entry("/x"))
	require.ErrorIs(t, err, ErrUnknownTable)
	require.Empty(t, s.List(context.Background(), model.Table("nope")))
}

func TestDegradedStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("not a database "), 100), 0o600))

	s := Open(path, nil)
	require.NotNil(t, s)
	require.Error(t, s.Err())

	require.Empty(t, s.List(ctx, model.TableActivities))

	_, err := s.Enqueue(ctx, model.TableActivities, entry("/api/activities/browser"))
	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	require.Equal(t, "open", storageErr.Op)

	_, err = s.Count(ctx)
	require.Error(t, err)
	require.NoError(t, s.Close())
}

func TestSchemaVersion(t *testing.T) {
	s, _ := openTemp(t)
	var v int
	require.NoError(t, s.db.QueryRow(`PRAGMA user_version`).Scan(&v))
	require.Equal(t, SchemaVersion, v)
}
