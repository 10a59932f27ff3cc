// Package metrics exposes Prometheus metrics for the broadcast core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/plancast/internal/checksum"
	"github.com/roach88/plancast/internal/dispatch"
	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/playback"
)

// Metrics holds every collector. It implements session.Metrics and
// dispatch.Observer.
type Metrics struct {
	accepted       *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	expired        prometheus.Counter
	desyncs        *prometheus.CounterVec
	playback       *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	sessionsActive prometheus.Gauge
	delivery       *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		accepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transmissions_accepted_total",
				Help: "Total number of sequenced transmissions by type.",
			},
			[]string{"type"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transmissions_dropped_total",
				Help: "Total number of submissions discarded without sequencing, by reason.",
			},
			[]string{"reason"},
		),
		expired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessions_expired_total",
				Help: "Total number of sessions closed by the connection timeout.",
			},
		),
		desyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desync_warnings_total",
				Help: "Total number of checksum desync warnings by kind.",
			},
			[]string{"kind"},
		),
		playback: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playback_records_total",
				Help: "Total number of replayed recordings by result.",
			},
			[]string{"result"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatcher_queue_depth",
				Help: "Transmissions waiting in a scope's dispatcher queue.",
			},
			[]string{"scope"},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessions_active",
				Help: "Number of open sessions.",
			},
		),
		delivery: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "delivery_duration_seconds",
				Help:    "Duration of a single delivery to a scope in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.accepted,
		m.dropped,
		m.expired,
		m.desyncs,
		m.playback,
		m.queueDepth,
		m.sessionsActive,
		m.delivery,
	)

	// Ensure counter vectors are visible at /metrics before first increment.
	for _, kind := range []string{checksum.KindRequestedEarly, checksum.KindNeverProduced, checksum.KindMismatch} {
		m.desyncs.WithLabelValues(kind)
	}
	for _, result := range []string{playback.ResultPlayed, playback.ResultSkipped, playback.ResultFailed} {
		m.playback.WithLabelValues(result)
	}
	m.dropped.WithLabelValues("read_only")
	return m
}

// TransmissionAccepted counts a sequenced transmission.
func (m *Metrics) TransmissionAccepted(tag ir.TypeTag) {
	m.accepted.WithLabelValues(string(tag)).Inc()
}

// TransmissionDropped counts a discarded submission.
func (m *Metrics) TransmissionDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

// SessionExpired counts a timed-out session.
func (m *Metrics) SessionExpired() {
	m.expired.Inc()
}

// SessionsActive records the number of open sessions.
func (m *Metrics) SessionsActive(n int) {
	m.sessionsActive.Set(float64(n))
}

// Desync counts a desync warning of kind. It is a checksum.WithDesyncHook target.
func (m *Metrics) Desync(kind string) {
	m.desyncs.WithLabelValues(kind).Inc()
}

// PlaybackRecord counts one replayed recording. It is a
// playback.WithObserver target.
func (m *Metrics) PlaybackRecord(result string) {
	m.playback.WithLabelValues(result).Inc()
}

// Delivered observes the duration of one delivery.
func (m *Metrics) Delivered(_ dispatch.Item, o ir.Outcome, elapsed time.Duration) {
	result := "success"
	if !o.Success {
		result = "failure"
	}
	m.delivery.WithLabelValues(result).Observe(elapsed.Seconds())
}

// QueueDepth records the queue length of scope.
func (m *Metrics) QueueDepth(scope string, depth int) {
	m.queueDepth.WithLabelValues(scopeLabel(scope)).Set(float64(depth))
}

func scopeLabel(scope string) string {
	if scope == ir.SystemScope {
		return "system"
	}
	return scope
}
