// Package metrics holds the Prometheus collectors for the stream service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_jobs_started_total",
		Help: "Total number of stream jobs created.",
	})

	StreamsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_jobs_finished_total",
			Help: "Total number of stream jobs reaching a terminal state, by status.",
		},
		[]string{"status"},
	)

	ChunksFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_chunks_flushed_total",
		Help: "Total number of upstream chunks flushed to the job store.",
	})

	Viewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stream_viewers",
		Help: "Event-stream connections currently attached, across all jobs.",
	})

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_notifications_sent_total",
			Help: "Completion notifications emitted, by kind.",
		},
		[]string{"kind"},
	)

	CleanupDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_cleanup_deleted_total",
		Help: "Terminal jobs removed by retention cleanup.",
	})
)
