package model

import (
	"encoding/json"
	"time"
)

// DefaultCategory is assigned to records whose URL matched no platform rule.
const DefaultCategory = "browsing"

// ActivityRecord is one finalized observation of time spent on a page.
// It is built once, when the session it describes ends, and never mutated.
type ActivityRecord struct {
	URL       string         `json:"url"`
	Title     string         `json:"title"`
	Domain    string         `json:"domain"`
	Platform  *string        `json:"platform"`
	Category  string         `json:"category"`
	Duration  int64          `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EventKind names an auxiliary content event reported by a page script.
type EventKind string

const (
	EventVideoProgress  EventKind = "video-progress"
	EventVideoCompleted EventKind = "video-completed"
	EventCourseProgress EventKind = "course-progress"
)

// Valid reports whether k is one of the known auxiliary event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventVideoProgress, EventVideoCompleted, EventCourseProgress:
		return true
	}
	return false
}

// AuxEvent is an auxiliary event (video or course progress). Its payload is
// forwarded to the backend as-is.
type AuxEvent struct {
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Heartbeat is a progress update for the session that is still running.
type Heartbeat struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Domain   string `json:"domain"`
	Duration int64  `json:"duration"`
}

// Tab is the browser's view of a tab as delivered by tab events.
type Tab struct {
	ID       int    `json:"id"`
	WindowID int    `json:"windowId"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Active   bool   `json:"active"`
}

// Session is the tracker's record of the currently active, trackable tab.
// It is never persisted.
type Session struct {
	ID        string    `json:"id"`
	TabID     int       `json:"tabId"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Domain    string    `json:"domain"`
	Platform  *string   `json:"platform"`
	Category  string    `json:"category"`
	StartTime time.Time `json:"startTime"`
}
