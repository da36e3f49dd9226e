package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/tab-tracker/internal/model"
	"github.com/Tiliavir/tab-tracker/internal/queue"
	"github.com/Tiliavir/tab-tracker/internal/storage"
	"github.com/Tiliavir/tab-tracker/internal/timecalc"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect activity waiting to be synced",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued entries",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueExportCmd)
	queueCmd.AddCommand(queueReportCmd)
}

// loadQueue reads every pending entry, activities first. The agent may be
// running; SQLite handles the concurrent reader.
func loadQueue() []model.QueueEntry {
	store := queue.Open(storage.QueuePath(mustBase()), hclog.NewNullLogger())
	defer store.Close()
	if err := store.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx := context.Background()
	var out []model.QueueEntry
	for _, t := range model.Tables {
		out = append(out, store.List(ctx, t)...)
	}
	return out
}

// activity decodes an entry's payload when it is an activity record.
func activity(e model.QueueEntry) (model.ActivityRecord, bool) {
	var rec model.ActivityRecord
	if e.Table != model.TableActivities {
		return rec, false
	}
	if err := json.Unmarshal(e.Payload, &rec); err != nil {
		return rec, false
	}
	return rec, true
}

func runQueueList(cmd *cobra.Command, args []string) error {
	printQueue(loadQueue())
	return nil
}

// printQueue groups entries by the day they were queued.
func printQueue(entries []model.QueueEntry) {
	if len(entries) == 0 {
		fmt.Println("Queue is empty.")
		return
	}

	var currentDay string
	for _, e := range entries {
		day := e.QueuedAt.Local().Format("2006-01-02")
		if day != currentDay {
			fmt.Println(day)
			currentDay = day
		}

		what := e.Kind
		if rec, ok := activity(e); ok {
			what = fmt.Sprintf("%s  %s (%s)", rec.Domain, rec.Category, timecalc.FormatDuration(rec.Duration))
		}
		retries := ""
		if e.RetryCount > 0 {
			retries = fmt.Sprintf("  [%d retries]", e.RetryCount)
		}
		fmt.Printf("%s  #%d  %s%s\n", e.QueuedAt.Local().Format("15:04"), e.ID, what, retries)
	}
}
