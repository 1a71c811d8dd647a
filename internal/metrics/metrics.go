// Package metrics holds the Prometheus collectors exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollCycles counts usage poll cycles by outcome: success, cached,
	// unauthorized, credential_error, network_error, server_error, error.
	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logwatch_poll_cycles_total",
		Help: "Usage API poll cycles by outcome.",
	}, []string{"outcome"})

	// SnapshotsInserted counts usage snapshots persisted by the watermark
	// trigger.
	SnapshotsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logwatch_snapshots_inserted_total",
		Help: "Usage snapshots written to the store.",
	})

	// TokenRefreshes counts fresh credential store lookups made in response
	// to a 401.
	TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logwatch_token_refreshes_total",
		Help: "Credential re-reads triggered by auth rejections.",
	})

	// WatcherQueueDepth tracks pending reload requests in the file watcher
	// queue.
	WatcherQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logwatch_watcher_queue_depth",
		Help: "Reload requests waiting in the watcher queue.",
	})

	// WatcherDropped counts reload requests dropped because the queue was
	// full.
	WatcherDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logwatch_watcher_dropped_total",
		Help: "Reload requests dropped due to a full queue.",
	})

	// EntriesLoaded tracks the size of the in-memory transcript working set.
	EntriesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logwatch_entries_loaded",
		Help: "Transcript entries currently held in memory.",
	})
)
