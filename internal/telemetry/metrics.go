/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry holds Prometheus metrics and OpenTelemetry tracing setup.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StreamsStartedTotal counts streams started, by item kind.
	StreamsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidar",
		Subsystem: "playout",
		Name:      "streams_started_total",
		Help:      "Streams started, labeled by playable item kind.",
	}, []string{"kind"})

	// StreamErrorsTotal counts playback failures, by failure stage.
	StreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidar",
		Subsystem: "playout",
		Name:      "stream_errors_total",
		Help:      "Playback failures, labeled by stage (spawn, subprocess).",
	}, []string{"stage"})

	// ThrottledStreamsTotal counts requests replaced by the throttle slate.
	ThrottledStreamsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vidar",
		Subsystem: "playout",
		Name:      "throttled_streams_total",
		Help:      "Requests answered with a throttle error slate.",
	})

	// RedirectCyclesTotal counts redirect walks terminated by a cycle.
	RedirectCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vidar",
		Subsystem: "playout",
		Name:      "redirect_cycles_total",
		Help:      "Redirect chains terminated by cycle detection.",
	})

	// ActiveStreams tracks streams currently feeding a client.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vidar",
		Subsystem: "playout",
		Name:      "active_streams",
		Help:      "Streams currently open.",
	})

	// DBQueryDuration observes gorm query latency by operation.
	DBQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vidar",
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Help:      "Database query latency by operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
