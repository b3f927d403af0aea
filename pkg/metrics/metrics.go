// Package metrics declares the server's Prometheus instruments. They register
// on the default registry and are exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion
var (
	SamplesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinytrack_samples_accepted_total",
		Help: "Samples broadcast and queued for processing.",
	})

	SamplesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinytrack_samples_dropped_total",
		Help: "Samples dropped as malformed, by reason.",
	}, []string{"reason"})

	SamplesUnregistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinytrack_samples_unregistered_total",
		Help: "Samples from devices missing from the tag registry.",
	})

	IngestQueueDepth = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tinytrack_ingest_queue_depth",
		Help: "Tasks waiting in the ingestion worker pool.",
	}, func() float64 { return float64(queueDepth()) })
)

// Live fan-out
var (
	LiveViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tinytrack_live_viewers",
		Help: "Connected WebSocket viewers.",
	})

	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinytrack_broadcast_dropped_total",
		Help: "Messages dropped because the broadcast hub was saturated.",
	})
)

// Geofence alarms
var (
	AlarmsRaised = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinytrack_alarms_raised_total",
		Help: "Geofence alarms opened.",
	})

	AlarmsCleared = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinytrack_alarms_cleared_total",
		Help: "Geofence alarms closed, by cause (returned, inactive).",
	}, []string{"cause"})

	AlarmsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tinytrack_alarms_open",
		Help: "Currently open geofence alarms.",
	})

	LookupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinytrack_catalog_lookup_failures_total",
		Help: "Failed catalog calls, by operation.",
	}, []string{"op"})
)

// Compaction and retention
var (
	RecordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinytrack_trajectory_records_written_total",
		Help: "Trajectory records persisted by compaction.",
	})

	RecordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinytrack_trajectory_records_dropped_total",
		Help: "Trajectory records discarded by validation or failed writes.",
	})

	CompactionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tinytrack_compaction_duration_seconds",
		Help:    "Duration of compaction cycles.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	PartitionsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinytrack_partitions_dropped_total",
		Help: "Trajectory partitions dropped, by reason (retention, disk_pressure).",
	}, []string{"reason"})

	DiskFreePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tinytrack_disk_free_percent",
		Help: "Free space on the trajectory filesystem at the last probe.",
	})
)

var queueDepth = func() int { return 0 }

// SetQueueDepthFunc wires the ingest queue gauge to the worker pool.
func SetQueueDepthFunc(f func() int) {
	queueDepth = f
}
