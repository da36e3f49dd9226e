package syncer

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabt",
		Subsystem: "sync",
		Name:      "live_delivered_total",
		Help:      "Records and events accepted by the backend on the first (live) delivery.",
	}, []string{"table"})

	queuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabt",
		Subsystem: "sync",
		Name:      "queued_total",
		Help:      "Records and events written to the offline queue, labeled by reason.",
	}, []string{"table", "reason"})

	lostCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabt",
		Subsystem: "sync",
		Name:      "lost_total",
		Help:      "Records and events lost because the offline queue rejected the write.",
	}, []string{"table"})

	drainedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabt",
		Subsystem: "sync",
		Name:      "drain_entries_total",
		Help:      "Queued entries handled by drain passes, labeled by result (synced, failed, dropped).",
	}, []string{"result"})

	drainDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tabt",
		Subsystem: "sync",
		Name:      "drain_duration_seconds",
		Help:      "Time spent in one drain pass.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tabt",
		Subsystem: "sync",
		Name:      "pending_entries",
		Help:      "Entries currently waiting in the offline queue.",
	})

	heartbeatCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabt",
		Subsystem: "sync",
		Name:      "heartbeats_total",
		Help:      "Heartbeats by result (sent, failed, skipped).",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(deliveredCounter, queuedCounter, lostCounter, drainedCounter, drainDuration, pendingGauge, heartbeatCounter)
}
