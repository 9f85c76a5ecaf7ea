package spametrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "spafwd"
	subsystem = "spa"
)

// Label names for SPA metrics.
const (
	labelSourceAddr = "source_addr"
	labelReason     = "reason"
	labelBackend    = "backend"
)

// -------------------------------------------------------------------------
// Collector — Prometheus SPA Metrics
// -------------------------------------------------------------------------

// Collector holds all spafwd Prometheus metrics.
//
// Metrics cover the full pipeline: datagrams received, replay rejections,
// decrypt/validation failures, successful admissions, and firewall
// actuator latency.
type Collector struct {
	// PacketsReceived counts raw SPA datagrams handed to the orchestrator.
	PacketsReceived prometheus.Counter

	// ReplayRejected counts packets dropped by the replay cache (C2) before
	// any stanza was even considered.
	ReplayRejected prometheus.Counter

	// PolicyMiss counts packets for which no candidate stanza matched in C3.
	PolicyMiss prometheus.Counter

	// DecryptFailures counts C4 crypto-dispatch failures, labeled by the
	// reason the validation chain or crypto context reported.
	DecryptFailures *prometheus.CounterVec

	// ValidationRejected counts packets that decrypted cleanly but failed
	// a C5 validation step, labeled by reason.
	ValidationRejected *prometheus.CounterVec

	// Admitted counts packets that reached C7's accept path, labeled by the
	// firewall backend that served the request.
	Admitted *prometheus.CounterVec

	// DispatchFailures counts firewall actuator or command-exec errors
	// surfaced by C6, labeled by backend.
	DispatchFailures *prometheus.CounterVec

	// ActuatorLatency observes how long the firewall actuator's Admit call
	// took, labeled by backend.
	ActuatorLatency *prometheus.HistogramVec

	// ReplayCacheSize tracks the number of digests currently held in the
	// replay cache's store.
	ReplayCacheSize prometheus.Gauge
}

// NewCollector creates a Collector with all metrics registered against the
// provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.PacketsReceived,
		c.ReplayRejected,
		c.PolicyMiss,
		c.DecryptFailures,
		c.ValidationRejected,
		c.Admitted,
		c.DispatchFailures,
		c.ActuatorLatency,
		c.ReplayCacheSize,
	)

	return c
}

// newMetrics creates all Prometheus metrics without registering them.
func newMetrics() *Collector {
	return &Collector{
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Total raw SPA datagrams handed to the pipeline.",
		}),

		ReplayRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "replay_rejected_total",
			Help:      "Total packets dropped by the replay cache before stanza matching.",
		}),

		PolicyMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "policy_miss_total",
			Help:      "Total packets for which no candidate stanza matched.",
		}),

		DecryptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decrypt_failures_total",
			Help:      "Total crypto dispatch failures, labeled by reason.",
		}, []string{labelReason}),

		ValidationRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "validation_rejected_total",
			Help:      "Total packets rejected by the message validator, labeled by reason.",
		}, []string{labelReason}),

		Admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "admitted_total",
			Help:      "Total requests that reached the accept path, labeled by firewall backend.",
		}, []string{labelBackend}),

		DispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_failures_total",
			Help:      "Total firewall actuator or command-exec failures, labeled by backend.",
		}, []string{labelBackend}),

		ActuatorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "actuator_latency_seconds",
			Help:      "Firewall actuator Admit call latency, labeled by backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{labelBackend}),

		ReplayCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "replay_cache_size",
			Help:      "Number of digests currently held in the replay cache.",
		}),
	}
}

// -------------------------------------------------------------------------
// Pipeline Counters
// -------------------------------------------------------------------------

// IncPacketsReceived increments the raw-datagram counter.
func (c *Collector) IncPacketsReceived() {
	c.PacketsReceived.Inc()
}

// IncReplayRejected increments the replay-cache rejection counter.
func (c *Collector) IncReplayRejected() {
	c.ReplayRejected.Inc()
}

// IncPolicyMiss increments the no-stanza-matched counter.
func (c *Collector) IncPolicyMiss() {
	c.PolicyMiss.Inc()
}

// IncDecryptFailure increments the decrypt-failure counter for reason.
func (c *Collector) IncDecryptFailure(reason string) {
	c.DecryptFailures.WithLabelValues(reason).Inc()
}

// IncValidationRejected increments the validation-rejection counter for reason.
func (c *Collector) IncValidationRejected(reason string) {
	c.ValidationRejected.WithLabelValues(reason).Inc()
}

// IncAdmitted increments the admitted counter for the given firewall backend.
func (c *Collector) IncAdmitted(backend string) {
	c.Admitted.WithLabelValues(backend).Inc()
}

// IncDispatchFailure increments the dispatch-failure counter for backend.
func (c *Collector) IncDispatchFailure(backend string) {
	c.DispatchFailures.WithLabelValues(backend).Inc()
}

// ObserveActuatorLatency records how long an Admit call took for backend.
func (c *Collector) ObserveActuatorLatency(backend string, seconds float64) {
	c.ActuatorLatency.WithLabelValues(backend).Observe(seconds)
}

// SetReplayCacheSize sets the current replay cache digest count.
func (c *Collector) SetReplayCacheSize(n int) {
	c.ReplayCacheSize.Set(float64(n))
}
