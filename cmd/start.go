package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Tiliavir/tab-tracker/internal/config"
	"github.com/Tiliavir/tab-tracker/internal/control"
	"github.com/Tiliavir/tab-tracker/internal/runtime"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the tracking agent in the foreground",
	Args:  cobra.NoArgs,
	RunE:  runStart,
}

func newLogger(lc config.LogConfig) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "tabt",
		Level:      hclog.LevelFromString(lc.Level),
		JSONFormat: lc.JSON,
		Output:     os.Stderr,
	})
}

func runStart(cmd *cobra.Command, args []string) error {
	base, cfg := mustConfig()
	logger := newLogger(cfg.Log)

	agent, err := runtime.Build(cfg, base, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := control.NewServer(agent, logger.Named("control"))
	srv := &http.Server{
		Addr:              cfg.ControlAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return agent.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control API on %s: %w", cfg.ControlAddr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		api.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("agent started", "api", agent.Client.BaseURL(), "control", cfg.ControlAddr, "data", base)

	if err := errors.Join(g.Wait(), agent.Close()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return nil
}
