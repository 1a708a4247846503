// Package metrics provides Prometheus metrics for the securesend transfer
// engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "securesend"
)

// Metrics contains every Prometheus metric the transfer engine exposes.
type Metrics struct {
	// Handshake metrics
	HandshakesStarted *prometheus.CounterVec
	HandshakeLatency  *prometheus.HistogramVec
	HandshakeErrors   *prometheus.CounterVec

	// Transport metrics
	TransportSelected  *prometheus.CounterVec
	TransportFallbacks prometheus.Counter
	TransportErrors    *prometheus.CounterVec

	// Transfer data-plane metrics
	TransfersActive    prometheus.Gauge
	TransfersCompleted prometheus.Counter
	TransfersFailed    *prometheus.CounterVec
	TransfersCancelled prometheus.Counter
	BytesSent          *prometheus.CounterVec
	BytesReceived      *prometheus.CounterVec
	ChunksSent         *prometheus.CounterVec
	ChunksReceived     *prometheus.CounterVec
	ChunkRetries       *prometheus.CounterVec
	TransferLatency    prometheus.Histogram

	// Rendezvous substrate metrics
	RendezvousPublishes     *prometheus.CounterVec
	RendezvousPublishErrors *prometheus.CounterVec
	RendezvousQueryLatency  prometheus.Histogram

	// Credential metrics
	CredentialDerivations *prometheus.CounterVec
	CredentialFailures    *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide default metrics instance, registered
// against the global Prometheus registry on first use.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a Metrics instance registered against the default
// Prometheus registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance registered against a
// caller-supplied registry, used by tests to avoid the global registry's
// duplicate-registration panics.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HandshakesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_started_total",
			Help:      "Total handshakes started, by mode",
		}, []string{"mode", "role"}),
		HandshakeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Histogram of handshake completion latency, by mode",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"mode"}),
		HandshakeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_errors_total",
			Help:      "Total handshake failures, by error kind",
		}, []string{"kind"}),

		TransportSelected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_selected_total",
			Help:      "Total transfers started on each transport path",
		}, []string{"transport"}),
		TransportFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_fallbacks_total",
			Help:      "Total transfers that fell back from direct to cloud transport",
		}),
		TransportErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Total transport-layer errors, by transport and kind",
		}, []string{"transport", "kind"}),

		TransfersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfers_active",
			Help:      "Number of transfers currently in progress",
		}),
		TransfersCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_completed_total",
			Help:      "Total transfers completed successfully",
		}),
		TransfersFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_failed_total",
			Help:      "Total transfers that failed, by error kind",
		}, []string{"kind"}),
		TransfersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_cancelled_total",
			Help:      "Total transfers cancelled by a caller",
		}),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total file bytes sent, by transport",
		}, []string{"transport"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total file bytes received, by transport",
		}, []string{"transport"}),
		ChunksSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Total chunks sent, by transport",
		}, []string{"transport"}),
		ChunksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_received_total",
			Help:      "Total chunks received, by transport",
		}, []string{"transport"}),
		ChunkRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_retries_total",
			Help:      "Total chunk upload/download retries, by transport",
		}, []string{"transport"}),
		TransferLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_latency_seconds",
			Help:      "Histogram of end-to-end transfer completion latency",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		RendezvousPublishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rendezvous_publishes_total",
			Help:      "Total events published to the rendezvous substrate, by kind",
		}, []string{"kind"}),
		RendezvousPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rendezvous_publish_errors_total",
			Help:      "Total rendezvous publish failures, by kind",
		}, []string{"kind"}),
		RendezvousQueryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rendezvous_query_latency_seconds",
			Help:      "Histogram of rendezvous substrate query latency",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		CredentialDerivations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_derivations_total",
			Help:      "Total credential key derivations, by method",
		}, []string{"method"}),
		CredentialFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_failures_total",
			Help:      "Total credential derivation failures, by method",
		}, []string{"method"}),
	}
}

// RecordHandshakeStart increments the started counter for the given mode
// and role ("sender" or "receiver").
func (m *Metrics) RecordHandshakeStart(mode, role string) {
	m.HandshakesStarted.WithLabelValues(mode, role).Inc()
}

// RecordHandshakeComplete observes handshake latency for the given mode.
func (m *Metrics) RecordHandshakeComplete(mode string, latencySeconds float64) {
	m.HandshakeLatency.WithLabelValues(mode).Observe(latencySeconds)
}

// RecordHandshakeError increments the error counter for the given kind.
func (m *Metrics) RecordHandshakeError(kind string) {
	m.HandshakeErrors.WithLabelValues(kind).Inc()
}

// RecordTransportSelected increments the selection counter for a path.
func (m *Metrics) RecordTransportSelected(transport string) {
	m.TransportSelected.WithLabelValues(transport).Inc()
}

// RecordTransportFallback increments the direct-to-cloud fallback counter.
func (m *Metrics) RecordTransportFallback() {
	m.TransportFallbacks.Inc()
}

// RecordTransportError increments the transport error counter.
func (m *Metrics) RecordTransportError(transport, kind string) {
	m.TransportErrors.WithLabelValues(transport, kind).Inc()
}

// RecordTransferStart increments the active-transfer gauge.
func (m *Metrics) RecordTransferStart() {
	m.TransfersActive.Inc()
}

// RecordTransferComplete decrements the active gauge, increments the
// completed counter, and observes end-to-end latency.
func (m *Metrics) RecordTransferComplete(latencySeconds float64) {
	m.TransfersActive.Dec()
	m.TransfersCompleted.Inc()
	m.TransferLatency.Observe(latencySeconds)
}

// RecordTransferFailed decrements the active gauge and increments the
// failure counter for the given kind.
func (m *Metrics) RecordTransferFailed(kind string) {
	m.TransfersActive.Dec()
	m.TransfersFailed.WithLabelValues(kind).Inc()
}

// RecordTransferCancelled decrements the active gauge and increments the
// cancellation counter.
func (m *Metrics) RecordTransferCancelled() {
	m.TransfersActive.Dec()
	m.TransfersCancelled.Inc()
}

// RecordBytesSent adds to the sent-byte counter for a transport.
func (m *Metrics) RecordBytesSent(transport string, n int) {
	m.BytesSent.WithLabelValues(transport).Add(float64(n))
}

// RecordBytesReceived adds to the received-byte counter for a transport.
func (m *Metrics) RecordBytesReceived(transport string, n int) {
	m.BytesReceived.WithLabelValues(transport).Add(float64(n))
}

// RecordChunkSent increments the sent-chunk counter for a transport.
func (m *Metrics) RecordChunkSent(transport string) {
	m.ChunksSent.WithLabelValues(transport).Inc()
}

// RecordChunkReceived increments the received-chunk counter for a transport.
func (m *Metrics) RecordChunkReceived(transport string) {
	m.ChunksReceived.WithLabelValues(transport).Inc()
}

// RecordChunkRetry increments the retry counter for a transport.
func (m *Metrics) RecordChunkRetry(transport string) {
	m.ChunkRetries.WithLabelValues(transport).Inc()
}

// RecordRendezvousPublish increments the publish counter for an event kind.
func (m *Metrics) RecordRendezvousPublish(kind string) {
	m.RendezvousPublishes.WithLabelValues(kind).Inc()
}

// RecordRendezvousPublishError increments the publish-error counter.
func (m *Metrics) RecordRendezvousPublishError(kind string) {
	m.RendezvousPublishErrors.WithLabelValues(kind).Inc()
}

// RecordRendezvousQuery observes substrate query latency.
func (m *Metrics) RecordRendezvousQuery(latencySeconds float64) {
	m.RendezvousQueryLatency.Observe(latencySeconds)
}

// RecordCredentialDerivation increments the derivation counter for a method.
func (m *Metrics) RecordCredentialDerivation(method string) {
	m.CredentialDerivations.WithLabelValues(method).Inc()
}

// RecordCredentialFailure increments the failure counter for a method.
func (m *Metrics) RecordCredentialFailure(method string) {
	m.CredentialFailures.WithLabelValues(method).Inc()
}
