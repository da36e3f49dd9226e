package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/tab-tracker/internal/model"
)

var exportFormat string

var queueExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export queued entries to stdout",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	queueExportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Output format: csv, json")
}

func runExport(cmd *cobra.Command, args []string) error {
	entries := loadQueue()

	switch exportFormat {
	case "json":
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "error encoding JSON:", err)
			os.Exit(2)
		}
		fmt.Println(string(data))
	case "csv":
		fmt.Print(formatCSV(entries))
	default:
		fmt.Fprintf(os.Stderr, "unknown format %q\n", exportFormat)
		os.Exit(1)
	}
	return nil
}

func formatCSV(entries []model.QueueEntry) string {
	var b strings.Builder
	b.WriteString("table,id,kind,queued_at,retry_count,domain,category,duration_seconds,url,title\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s,%d,%s,%s,%d,%s\n",
			e.Table,
			e.ID,
			csvEscape(e.Kind),
			e.QueuedAt.UTC().Format(time.RFC3339),
			e.RetryCount,
			strings.Join(activityColumns(e), ","),
		)
	}
	return b.String()
}

// activityColumns fills the activity-only columns. Event rows leave them
// empty; activity rows whose payload cannot be decoded say so in the domain
// column so the row is not mistaken for an empty record.
func activityColumns(e model.QueueEntry) []string {
	cols := make([]string, 5)
	if e.Table != model.TableActivities {
		return cols
	}
	var rec model.ActivityRecord
	if err := json.Unmarshal(e.Payload, &rec); err != nil {
		cols[0] = csvEscape("invalid payload: " + err.Error())
		return cols
	}
	cols[0] = csvEscape(rec.Domain)
	cols[1] = csvEscape(rec.Category)
	cols[2] = strconv.FormatInt(rec.Duration, 10)
	cols[3] = csvEscape(rec.URL)
	cols[4] = csvEscape(rec.Title)
	return cols
}

// csvEscape quotes fields holding separators and doubles embedded quotes.
func csvEscape(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
