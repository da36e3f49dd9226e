package model

import (
	"encoding/json"
	"time"
)

// Table names one of the pending tables of the offline store.
type Table string

const (
	TableActivities Table = "pending_activities"
	TableEvents     Table = "pending_events"
)

// Tables lists the pending tables in drain order.
var Tables = []Table{TableActivities, TableEvents}

// QueueEntry is a persisted delivery that could not be made live.
type QueueEntry struct {
	ID             int64           `json:"id"`
	Table          Table           `json:"table"`
	Kind           string          `json:"kind"`
	Endpoint       string          `json:"endpoint"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotencyKey"`
	QueuedAt       time.Time       `json:"queuedAt"`
	RetryCount     int             `json:"retryCount"`
}

// SyncResult tallies one drain pass.
type SyncResult struct {
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Dropped int `json:"dropped"`
}

// SyncStatus is the singleton sync summary shown to the user.
type SyncStatus struct {
	Pending        int        `json:"pending"`
	LastSyncTime   *time.Time `json:"lastSyncTime"`
	LastSyncResult SyncResult `json:"lastSyncResult"`
}

// Outcome describes what happened to a submitted record.
type Outcome int

const (
	// Delivered means the backend accepted the record live.
	Delivered Outcome = iota
	// Queued means the record was written to the offline store.
	Queued
	// Lost means neither delivery nor the queue write succeeded.
	Lost
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Queued:
		return "queued"
	default:
		return "lost"
	}
}
