// Package metrics holds the prometheus collectors of the driver. They are
// registered with the default registry; an application exposes them with
// promhttp like any other collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "oceanbase_driver"

var (
	connectionsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Connections opened total",
		},
		[]string{"mode"},
	)

	connectionsBroken = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_broken_total",
			Help:      "Connections invalidated by transport failures total",
		},
	)

	commandsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Protocol commands sent total",
		},
		[]string{"command"},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Statement round trip duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
		[]string{"kind"},
	)

	batchChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_chunks_total",
			Help:      "Batch chunks sent total",
		},
		[]string{"mode"},
	)

	psCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ps_cache_events_total",
			Help:      "Prepared statement cache events total",
		},
		[]string{"event"},
	)

	cancels = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cancels_total",
			Help:      "Queries canceled through the side channel total",
		},
	)
)

func ConnectionOpened(mode string) {
	connectionsOpened.WithLabelValues(mode).Inc()
}

func ConnectionBroken() {
	connectionsBroken.Inc()
}

func CommandsSent(command string) {
	commandsSent.WithLabelValues(command).Inc()
}

// ObserveCommand records the duration of a statement round trip started at
// start.
func ObserveCommand(kind string, start time.Time) {
	commandDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func BatchChunkSent(mode string) {
	batchChunks.WithLabelValues(mode).Inc()
}

func PSCacheHit() {
	psCache.WithLabelValues("hit").Inc()
}

func PSCacheMiss() {
	psCache.WithLabelValues("miss").Inc()
}

func PSCacheEvicted() {
	psCache.WithLabelValues("evict").Inc()
}

func QueryCanceled() {
	cancels.Inc()
}
