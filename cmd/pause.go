package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/tab-tracker/internal/runtime"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Stop tracking; the running session is recorded first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTracking(false)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume tracking with the focused tab",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTracking(true)
	},
}

func setTracking(on bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	c := agentClient()

	// Read the session first so the pause message can say what was recorded.
	var before *runtime.SessionView
	if !on {
		st, err := c.Status(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		before = st.CurrentSession
	}

	rep, err := c.Send(ctx, runtime.Message{Type: runtime.MsgSetTracking, Tracking: &on})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if !rep.Success {
		fmt.Fprintln(os.Stderr, rep.Error)
		os.Exit(1)
	}

	switch {
	case on:
		fmt.Println("Tracking resumed.")
	case before != nil:
		fmt.Printf("Tracking paused. Recorded %s on %s.\n", formatElapsed(before.Elapsed), before.Domain)
	default:
		fmt.Println("Tracking paused.")
	}
	return nil
}

func formatElapsed(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
