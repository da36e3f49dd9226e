package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/tab-tracker/internal/model"
	"github.com/Tiliavir/tab-tracker/internal/runtime"
)

var (
	eventTab    int
	eventWindow int
	eventURL    string
	eventTitle  string
	eventState  string
	eventActive bool
)

var eventCmd = &cobra.Command{
	Use:   "event <type>",
	Short: "Send a browser event to the agent",
	Long: `Send a browser event to the running agent, as the browser bridge does.
Types: tab_activated, tab_updated, tab_removed, window_focus, idle_state,
browser_closed. Pass --window -1 with window_focus when every window lost
focus.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvent,
}

func init() {
	eventCmd.Flags().IntVar(&eventTab, "tab", 0, "Tab id")
	eventCmd.Flags().IntVar(&eventWindow, "window", 0, "Window id")
	eventCmd.Flags().StringVar(&eventURL, "url", "", "Tab URL")
	eventCmd.Flags().StringVar(&eventTitle, "title", "", "Tab title")
	eventCmd.Flags().StringVar(&eventState, "state", "", "Idle state: active, idle, locked")
	eventCmd.Flags().BoolVar(&eventActive, "active", false, "The tab is the active tab of its window (tab_updated)")
}

// buildEvent turns flag values into an event. A URL makes the tab's full
// state part of the event; without one only the id is sent.
func buildEvent(typ string, tabID, windowID int, url, title, state string, active bool, at time.Time) runtime.Event {
	ev := runtime.Event{
		Type:     runtime.EventType(typ),
		At:       at,
		TabID:    tabID,
		WindowID: windowID,
		State:    state,
	}
	if url != "" {
		ev.Tab = &model.Tab{
			ID:       tabID,
			WindowID: windowID,
			URL:      url,
			Title:    title,
			Active:   active || ev.Type == runtime.EventTabActivated,
		}
	}
	return ev
}

func runEvent(cmd *cobra.Command, args []string) error {
	ev := buildEvent(args[0], eventTab, eventWindow, eventURL, eventTitle, eventState, eventActive, time.Now())
	if err := ev.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := agentClient().Post(ctx, ev); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return nil
}
