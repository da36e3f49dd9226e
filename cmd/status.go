package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/tab-tracker/internal/runtime"
	"github.com/Tiliavir/tab-tracker/internal/timecalc"
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#74c7ec")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6adc8")).Width(12)
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#fab387")).Bold(true)
	boxStyle   = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#45475a")).
			Padding(0, 1)
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracking, connection and queue status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := agentClient().Status(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	fmt.Println(renderStatus(st, time.Now()))
	return nil
}

func renderStatus(st runtime.Status, now time.Time) string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
	}
	flag := func(ok bool, yes, no string) string {
		if ok {
			return goodStyle.Render(yes)
		}
		return warnStyle.Render(no)
	}

	lines := []string{
		titleStyle.Render("tabt"),
		row("Tracking", flag(st.IsTracking, "on", "paused")),
		row("Backend", flag(st.IsOnline, "online", "offline")),
		row("Account", st.Auth),
	}
	if email, ok := st.User["email"].(string); ok && email != "" {
		lines = append(lines, row("User", email))
	}

	if s := st.CurrentSession; s != nil {
		what := s.Domain
		if s.Platform != nil {
			what = fmt.Sprintf("%s (%s, %s)", s.Domain, *s.Platform, s.Category)
		}
		lines = append(lines,
			row("Session", what),
			row("Elapsed", timecalc.FormatDurationHHMMSS(s.Elapsed)),
		)
	} else {
		lines = append(lines, row("Session", "none"))
	}

	pending := fmt.Sprintf("%d pending", st.Sync.Pending)
	if st.Syncing {
		pending += " (syncing)"
	}
	r := st.Sync.LastSyncResult
	lines = append(lines,
		row("Queue", flag(st.Sync.Pending == 0, pending, pending)),
		row("Last sync", fmt.Sprintf("%s, %d synced, %d failed, %d dropped",
			timecalc.FormatSince(st.Sync.LastSyncTime, now), r.Synced, r.Failed, r.Dropped)),
	)
	return boxStyle.Render(strings.Join(lines, "\n"))
}
