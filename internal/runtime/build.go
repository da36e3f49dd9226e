package runtime

import (
	"context"
	"errors"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	"github.com/Tiliavir/tab-tracker/internal/backend"
	"github.com/Tiliavir/tab-tracker/internal/classifier"
	"github.com/Tiliavir/tab-tracker/internal/config"
	"github.com/Tiliavir/tab-tracker/internal/connectivity"
	"github.com/Tiliavir/tab-tracker/internal/queue"
	"github.com/Tiliavir/tab-tracker/internal/state"
	"github.com/Tiliavir/tab-tracker/internal/storage"
	"github.com/Tiliavir/tab-tracker/internal/syncer"
	"github.com/Tiliavir/tab-tracker/internal/tracker"
)

// Agent is a fully wired Runtime plus the resources it owns.
type Agent struct {
	*Runtime
	Queue  *queue.Store
	Client *backend.Client
}

// Close releases the offline store.
func (a *Agent) Close() error {
	return a.Queue.Close()
}

// Build wires every component from cfg, with data kept under base.
// A queue database that cannot be opened is logged and leaves the agent
// running without offline persistence.
func Build(cfg config.Config, base string, logger hclog.Logger) (*Agent, error) {
	if cfg.APIBaseURL == "" {
		return nil, errors.New("api_base_url is not configured")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	settings := storage.NewSettingsStore(base)
	saved, err := settings.Load()
	if err != nil {
		logger.Warn("settings unreadable, starting from defaults", "path", settings.Path(), "error", err)
	}

	st := state.New(
		state.WithToken(backend.NewToken(saved.AuthToken, saved.RefreshToken)),
		state.WithTracking(saved.IsTracking),
		state.WithTokenPersister(func(tok *oauth2.Token) error {
			return settings.Update(func(s *storage.Settings) {
				s.AuthToken, s.RefreshToken = "", ""
				if tok != nil {
					s.AuthToken, s.RefreshToken = tok.AccessToken, tok.RefreshToken
				}
			})
		}),
	)

	var custom []classifier.Rule
	if cfg.RulesFile != "" {
		custom, err = classifier.LoadRules(cfg.RulesFile)
		if err != nil {
			logger.Error("ignoring custom rules", "path", cfg.RulesFile, "error", err)
			custom = nil
		}
	}
	cls := classifier.New(custom...)

	store := queue.Open(storage.QueuePath(base), logger.Named("queue"))
	if err := store.Err(); err != nil {
		logger.Error("offline queue unavailable, records that cannot be sent live will be lost", "error", err)
	}

	client := backend.NewClient(cfg.APIBaseURL, st,
		backend.WithLogger(logger.Named("backend")),
		backend.WithTimeout(cfg.Sync.RequestTimeout.Duration),
		backend.WithRetry(cfg.Sync.MaxRetries, cfg.Sync.BackoffSchedule()),
	)

	engine := syncer.New(store, client, st,
		syncer.WithLogger(logger.Named("sync")),
		syncer.WithMaxQueueRetries(cfg.Sync.QueueMaxRetries),
	)

	tabs := NewRegistry()
	trk := tracker.New(engine, cls, tabs, st,
		tracker.WithLogger(logger.Named("tracker")),
		tracker.WithMinDuration(cfg.Tracker.MinDuration.Duration),
	)

	rt := New(Deps{
		State:             st,
		Tracker:           trk,
		Engine:            engine,
		Auth:              client,
		Settings:          settings,
		Tabs:              tabs,
		Logger:            logger.Named("runtime"),
		DrainInterval:     cfg.Sync.DrainInterval.Duration,
		HeartbeatInterval: cfg.Sync.HeartbeatInterval.Duration,
	})

	rt.Monitor = connectivity.New(client, st,
		connectivity.WithLogger(logger.Named("connectivity")),
		connectivity.WithInterval(cfg.Connectivity.ProbeInterval.Duration),
		connectivity.WithProbeTimeout(cfg.Connectivity.ProbeTimeout.Duration),
		connectivity.OnRestored(func(ctx context.Context) {
			rt.background(ctx, rt.Reconnected)
		}),
	)

	return &Agent{Runtime: rt, Queue: store, Client: client}, nil
}
