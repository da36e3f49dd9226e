package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/tab-tracker/internal/model"
	"github.com/Tiliavir/tab-tracker/internal/timecalc"
)

var (
	reportToday  bool
	reportFormat string
)

var queueReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Sum unsynced time by category",
	Args:  cobra.NoArgs,
	RunE:  runReport,
}

func init() {
	queueReportCmd.Flags().BoolVar(&reportToday, "today", false, "Only activity that started today")
	queueReportCmd.Flags().StringVar(&reportFormat, "format", "md", "Output format: md, csv")
}

type categoryTotal struct {
	Category string
	Seconds  int64
	Records  int
}

// totalsByCategory sums queued activity records, largest first. A non-zero
// since excludes records that started before it.
func totalsByCategory(entries []model.QueueEntry, since time.Time) []categoryTotal {
	byCat := map[string]*categoryTotal{}
	for _, e := range entries {
		rec, ok := activity(e)
		if !ok || rec.Timestamp.Before(since) {
			continue
		}
		ct, seen := byCat[rec.Category]
		if !seen {
			ct = &categoryTotal{Category: rec.Category}
			byCat[rec.Category] = ct
		}
		ct.Seconds += rec.Duration
		ct.Records++
	}

	out := make([]categoryTotal, 0, len(byCat))
	for _, ct := range byCat {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seconds != out[j].Seconds {
			return out[i].Seconds > out[j].Seconds
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func runReport(cmd *cobra.Command, args []string) error {
	var since time.Time
	if reportToday {
		since = timecalc.StartOfDay(time.Now())
	}
	totals := totalsByCategory(loadQueue(), since)

	var grandTotal int64
	for _, ct := range totals {
		grandTotal += ct.Seconds
	}

	switch reportFormat {
	case "csv":
		fmt.Println("category,records,duration_minutes")
		for _, ct := range totals {
			fmt.Printf("%s,%d,%d\n", csvEscape(ct.Category), ct.Records, ct.Seconds/60)
		}
	case "md":
		fmt.Println("Unsynced activity")
		fmt.Println("--------------------------------")
		for _, ct := range totals {
			fmt.Printf("%-20s%s\n", ct.Category, timecalc.FormatDuration(ct.Seconds))
		}
		fmt.Println("--------------------------------")
		fmt.Printf("%-20s%s\n", "Total", timecalc.FormatDuration(grandTotal))
	default:
		fmt.Fprintf(os.Stderr, "unknown format %q\n", reportFormat)
		os.Exit(1)
	}
	return nil
}
