// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "videocall_sessions_started_total",
			Help: "Call sessions started, retries included",
		},
	)

	stateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocall_state_transitions_total",
			Help: "Call state transitions by target state",
		},
		[]string{"state"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "videocall_active_sessions",
			Help: "Call sessions that have not been torn down",
		},
	)

	signalingStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocall_signaling_status_total",
			Help: "Signaling channel status events",
		},
		[]string{"status"},
	)

	callSetupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "videocall_setup_duration_seconds",
			Help:    "Time from session start until the call first connects",
			Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 34},
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videocall_http_requests_total",
			Help: "Control API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "videocall_http_request_duration_seconds",
			Help:    "Control API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)

func SessionStarted() {
	callsStarted.Inc()
	activeSessions.Inc()
}

func SessionClosed() {
	activeSessions.Dec()
}

func RecordTransition(state string) {
	stateTransitions.WithLabelValues(state).Inc()
}

func RecordSignalingStatus(status string) {
	signalingStatus.WithLabelValues(status).Inc()
}

func ObserveCallSetup(d time.Duration) {
	callSetupDuration.Observe(d.Seconds())
}

func RecordHTTPMetrics(method, endpoint string, status int, duration time.Duration) {
	strStatus := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, strStatus).Observe(duration.Seconds())
}
