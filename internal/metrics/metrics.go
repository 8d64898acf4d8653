// Package metrics provides Prometheus metrics for the fileshare daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	registryFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fileshare_registry_files",
			Help: "Number of files currently shared",
		},
	)

	// Data plane metrics
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fileshare_sessions_active",
			Help: "Number of open data-plane sessions",
		},
	)

	tlsHandshakeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileshare_tls_handshake_failures_total",
			Help: "Total failed TLS handshakes on the data plane",
		},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileshare_auth_attempts_total",
			Help: "Total data-plane authentication attempts",
		},
		[]string{"result"},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileshare_downloads_total",
			Help: "Total download requests by outcome",
		},
		[]string{"status"},
	)

	chunksSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileshare_chunks_sent_total",
			Help: "Total chunks acknowledged by peers",
		},
	)

	bytesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileshare_bytes_sent_total",
			Help: "Total file bytes acknowledged by peers",
		},
	)

	// Control plane metrics
	controlCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileshare_control_commands_total",
			Help: "Total control-plane commands by kind and result",
		},
		[]string{"command", "result"},
	)

	controlQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fileshare_control_queue_depth",
			Help: "Commands waiting for the dispatcher",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetRegistryFiles sets the number of shared files.
func SetRegistryFiles(n int) {
	registryFiles.Set(float64(n))
}

// SessionOpened increments the active session gauge.
func SessionOpened() {
	sessionsActive.Inc()
}

// SessionClosed decrements the active session gauge.
func SessionClosed() {
	sessionsActive.Dec()
}

// RecordTLSHandshakeFailure counts a failed handshake.
func RecordTLSHandshakeFailure() {
	tlsHandshakeFailures.Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordDownload records a download outcome: completed, aborted, not_found,
// open_error, read_error or io_error.
func RecordDownload(status string) {
	downloadsTotal.WithLabelValues(status).Inc()
}

// RecordTransfer adds acknowledged chunks and bytes.
func RecordTransfer(chunks int, bytes int64) {
	chunksSent.Add(float64(chunks))
	bytesSent.Add(float64(bytes))
}

// RecordControlCommand records a control-plane command.
func RecordControlCommand(command string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	controlCommandsTotal.WithLabelValues(command, result).Inc()
}

// SetControlQueueDepth sets the dispatcher backlog.
func SetControlQueueDepth(n int) {
	controlQueueDepth.Set(float64(n))
}
