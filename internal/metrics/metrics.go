// Package metrics exposes Prometheus counters for verification runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verification_jobs_submitted_total",
			Help: "Total number of verification jobs accepted by the backend",
		},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_jobs_finished_total",
			Help: "Verification jobs that reached a terminal phase, by phase",
		},
		[]string{"phase"},
	)

	ProgressEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_progress_events_total",
			Help: "Decoded progress channel events, by event type",
		},
		[]string{"type"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_progress_frames_dropped_total",
			Help: "Progress channel frames that were logged and ignored",
		},
		[]string{"reason"},
	)

	ResultsMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verification_results_merged_total",
			Help: "Verification results added to the result collection",
		},
	)

	ChannelReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verification_channel_reconnects_total",
			Help: "Progress channel redial attempts after an unexpected close",
		},
	)
)

// Drop reasons for FramesDropped.
const (
	ReasonMalformed   = "malformed"
	ReasonUnknownType = "unknown_type"
)
