package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/tab-tracker/internal/runtime"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Deliver queued activity now",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	rep := sendMessage(runtime.Message{Type: runtime.MsgForceSync})
	if !rep.Success {
		fmt.Fprintln(os.Stderr, "Sync not possible:", rep.Error)
		os.Exit(1)
	}

	// Data arrives as generic JSON over the control API.
	raw, err := json.Marshal(rep.Data)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	var res runtime.ForceSyncResult
	if err := json.Unmarshal(raw, &res); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if !res.Ran {
		fmt.Println("A sync is already in progress.")
		return nil
	}
	fmt.Printf("Synced %d, failed %d, dropped %d.\n", res.Result.Synced, res.Result.Failed, res.Result.Dropped)
	return nil
}
