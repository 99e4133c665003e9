package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/keyfold/walletd/pkg/wallet"
)

// Metrics contains all Prometheus metrics for the node. It also
// implements wallet.Recorder so the dispatcher reports send outcomes
// directly into it.
type Metrics struct {
	// WebSocket connection metrics
	ConnectedClients prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	MessageReceived  prometheus.Counter
	MessageSent      prometheus.Counter

	// Authentication metrics
	AuthRequests       prometheus.Counter
	AuthAttemptsTotal  *prometheus.CounterVec
	AuthAttempsSuccess *prometheus.CounterVec
	AuthAttempsFail    *prometheus.CounterVec

	// Wallet engine metrics
	SendAttempts         *prometheus.CounterVec
	NonceRetries         prometheus.Counter
	SignatureFailures    prometheus.Counter
	ActiveBackend        *prometheus.GaugeVec
	ConfirmationOutcomes *prometheus.CounterVec

	// RPC method metrics
	RPCRequests *prometheus.CounterVec
}

var _ wallet.Recorder = (*Metrics)(nil)

// NewMetrics initializes and registers Prometheus metrics on the
// default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry initializes metrics against a custom
// registry, letting tests isolate their metric state.
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	metrics := &Metrics{
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "walletd_connected_clients",
			Help: "The current number of connected clients",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletd_connections_total",
			Help: "The total number of WebSocket connections made since server start",
		}),
		MessageReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletd_ws_messages_received_total",
			Help: "The total number of WebSocket messages received",
		}),
		MessageSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletd_ws_messages_sent_total",
			Help: "The total number of WebSocket messages sent",
		}),
		AuthRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletd_auth_requests_total",
			Help: "The total number of auth_request calls (get challenge code)",
		}),
		AuthAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletd_auth_attempts_total",
				Help: "The total number of authentication attempts",
			},
			[]string{"auth_method"},
		),
		AuthAttempsSuccess: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletd_auth_attempts_success",
				Help: "The total number of successful authentication attempts",
			},
			[]string{"auth_method"},
		),
		AuthAttempsFail: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletd_auth_attempts_fail",
				Help: "The total number of failed authentication attempts",
			},
			[]string{"auth_method"},
		),
		SendAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletd_send_attempts_total",
				Help: "The total number of send attempts by backend kind and outcome",
			},
			[]string{"backend", "outcome"},
		),
		NonceRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletd_nonce_retries_total",
			Help: "The total number of nonce-conflict retries taken by the dispatcher",
		}),
		SignatureFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletd_signature_failures_total",
			Help: "The total number of signature verification failures",
		}),
		ActiveBackend: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "walletd_active_backend",
				Help: "Which backend kind currently holds the active wallet (1 = active)",
			},
			[]string{"backend"},
		),
		ConfirmationOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletd_confirmation_outcomes_total",
				Help: "The total number of confirmation polling outcomes",
			},
			[]string{"outcome"},
		),
		RPCRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletd_rpc_requests_total",
				Help: "The total number of RPC requests by method",
			},
			[]string{"method", "status"},
		),
	}

	return metrics
}

// RecordSend implements wallet.Recorder.
func (m *Metrics) RecordSend(kind wallet.Kind, outcome string) {
	m.SendAttempts.WithLabelValues(kind.String(), outcome).Inc()
}

// RecordNonceRetry implements wallet.Recorder.
func (m *Metrics) RecordNonceRetry() {
	m.NonceRetries.Inc()
}

// RecordSignatureFailure implements wallet.Recorder.
func (m *Metrics) RecordSignatureFailure() {
	m.SignatureFailures.Inc()
}

// SetActiveBackend marks which backend kind holds the active wallet,
// clearing the others.
func (m *Metrics) SetActiveBackend(kind wallet.Kind) {
	m.ActiveBackend.Reset()
	m.ActiveBackend.WithLabelValues(kind.String()).Set(1)
}

// ClearActiveBackend resets the active-backend gauge, for when no
// wallet is located on any backend.
func (m *Metrics) ClearActiveBackend() {
	m.ActiveBackend.Reset()
}

// RecordConfirmation records the outcome of confirmation polling for
// one dispatched transaction.
func (m *Metrics) RecordConfirmation(outcome string) {
	m.ConfirmationOutcomes.WithLabelValues(outcome).Inc()
}
