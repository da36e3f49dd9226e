// Package connectivity owns the online flag. It probes the backend health
// endpoint on a fixed interval.
package connectivity

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	onlineGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tabt",
		Subsystem: "connectivity",
		Name:      "online",
		Help:      "1 when the last health probe succeeded, 0 otherwise.",
	})

	probeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tabt",
		Subsystem: "connectivity",
		Name:      "probe_failures_total",
		Help:      "Health probes that failed or timed out.",
	})
)

func init() {
	prometheus.MustRegister(onlineGauge, probeFailures)
}

// Prober checks backend reachability.
type Prober interface {
	Health(ctx context.Context, timeout time.Duration) error
}

// Flag is the online flag the monitor writes.
type Flag interface {
	// SetOnline stores v and returns the previous value.
	SetOnline(v bool) (was bool)
}

type Monitor struct {
	prober     Prober
	flag       Flag
	interval   time.Duration
	timeout    time.Duration
	onRestored func(context.Context)
	logger     hclog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithProbeTimeout bounds each health probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithLogger(l hclog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// OnRestored registers fn to run, on the monitor's goroutine, each time the
// flag goes from offline to online.
func OnRestored(fn func(context.Context)) Option {
	return func(m *Monitor) { m.onRestored = fn }
}

// New constructs a Monitor probing every 30s with a 5s timeout.
func New(prober Prober, flag Flag, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		flag:     flag,
		interval: 30 * time.Second,
		timeout:  5 * time.Second,
		logger:   hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check runs one probe, updates the flag and returns the new value.
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.prober.Health(ctx, m.timeout)
	online := err == nil
	was := m.flag.SetOnline(online)

	if online {
		onlineGauge.Set(1)
	} else {
		onlineGauge.Set(0)
		probeFailures.Inc()
	}

	switch {
	case online && !was:
		m.logger.Info("backend reachable")
		if m.onRestored != nil {
			m.onRestored(ctx)
		}
	case !online && was:
		m.logger.Warn("backend unreachable, switching to offline mode", "error", err)
	case !online:
		m.logger.Debug("health probe failed", "error", err)
	}
	return online
}

// Run probes immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Check(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
