package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/tab-tracker/internal/config"
	"github.com/Tiliavir/tab-tracker/internal/control"
	"github.com/Tiliavir/tab-tracker/internal/storage"
)

var homeDir string

var rootCmd = &cobra.Command{
	Use:   "tabt",
	Short: "Tab Tracker – records where browsing time goes, even offline",
	Long: `tabt runs the background agent behind the browser extension. It turns tab
and window events into activity records, classifies them by platform, and
delivers them to the backend. Records that cannot be sent are queued in
~/.tabt/queue.db and retried once the backend is reachable again.`,
	SilenceUsage: true,
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "Data directory (default $TABT_HOME or ~/.tabt)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(eventCmd)
}

// mustBase resolves the data directory or exits.
func mustBase() string {
	if homeDir != "" {
		return homeDir
	}
	base, err := storage.BaseDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return base
}

// mustConfig loads the configuration or exits.
func mustConfig() (string, config.Config) {
	base := mustBase()
	cfg, err := config.Load(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return base, cfg
}

// agentClient returns a client for the running agent's control API.
func agentClient() *control.Client {
	_, cfg := mustConfig()
	return control.NewClient(cfg.ControlAddr)
}
