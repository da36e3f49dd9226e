package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/Tiliavir/tab-tracker/internal/model"
)

// EventType names an input to the dispatcher.
type EventType string

const (
	EventTabActivated  EventType = "tab_activated"
	EventTabUpdated    EventType = "tab_updated"
	EventTabRemoved    EventType = "tab_removed"
	EventWindowFocus   EventType = "window_focus"
	EventIdleState     EventType = "idle_state"
	EventBrowserClosed EventType = "browser_closed"

	// Timer events, produced by the runtime itself.
	EventDrainTick     EventType = "drain_tick"
	EventHeartbeatTick EventType = "heartbeat_tick"
)

// WindowNone is the window id reported when every browser window lost focus.
const WindowNone = -1

// Idle states reported with EventIdleState.
const (
	IdleActive = "active"
	IdleIdle   = "idle"
	IdleLocked = "locked"
)

var ErrUnknownEvent = errors.New("unknown event type")

// Event is one named input. At is when the browser observed it; zero means
// "now".
type Event struct {
	Type     EventType  `json:"type"`
	At       time.Time  `json:"at,omitempty"`
	Tab      *model.Tab `json:"tab,omitempty"`
	TabID    int        `json:"tabId,omitempty"`
	WindowID int        `json:"windowId,omitempty"`
	State    string     `json:"state,omitempty"`
}

// Validate checks that the fields the event type needs are present.
func (e Event) Validate() error {
	switch e.Type {
	case EventTabActivated, EventTabRemoved:
		if e.Tab == nil && e.TabID == 0 {
			return fmt.Errorf("%s: tab or tabId required", e.Type)
		}
	case EventTabUpdated:
		if e.Tab == nil {
			return fmt.Errorf("%s: tab required", e.Type)
		}
	case EventIdleState:
		switch e.State {
		case IdleActive, IdleIdle, IdleLocked:
		default:
			return fmt.Errorf("%s: invalid state %q", e.Type, e.State)
		}
	case EventWindowFocus, EventBrowserClosed, EventDrainTick, EventHeartbeatTick:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
	return nil
}

func (e Event) tabID() int {
	if e.Tab != nil {
		return e.Tab.ID
	}
	return e.TabID
}
