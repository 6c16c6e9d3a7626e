package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "promptrelay_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "server"},
		},
		[]string{"date", "sha", "version"},
	)

	relayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptrelay_relay_requests_total",
			Help: "Relays by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	relayFragments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptrelay_relay_fragments_total",
			Help: "Fragments forwarded to clients",
		},
		[]string{"model"},
	)

	relayBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptrelay_relay_bytes_total",
			Help: "Bytes of generated text forwarded to clients",
		},
		[]string{"model"},
	)

	relayInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "promptrelay_relays_in_flight",
			Help: "Relays currently streaming",
		},
	)

	firstFragment = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptrelay_first_fragment_seconds",
			Help:    "Time from upstream call to first fragment",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	relayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptrelay_relay_duration_seconds",
			Help:    "Relay duration",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model", "outcome"},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, relayRequests, relayFragments, relayBytes, relayInFlight, firstFragment, relayDuration)
}

// SetServerBuildInfo sets the build info metric for the server.
func SetServerBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RelayStarted marks a relay as streaming.
func RelayStarted() { relayInFlight.Inc() }

// RelayFinished records the end of a relay.
func RelayFinished(transport, model, outcome string, fragments int, bytes int64, d time.Duration) {
	relayInFlight.Dec()
	relayRequests.WithLabelValues(transport, outcome).Inc()
	if fragments > 0 {
		relayFragments.WithLabelValues(model).Add(float64(fragments))
		relayBytes.WithLabelValues(model).Add(float64(bytes))
	}
	relayDuration.WithLabelValues(model, outcome).Observe(d.Seconds())
}

// RecordRejected counts a request refused before any upstream call.
func RecordRejected(transport, outcome string) {
	relayRequests.WithLabelValues(transport, outcome).Inc()
}

// ObserveFirstFragment records the latency to the first fragment.
func ObserveFirstFragment(model string, d time.Duration) {
	firstFragment.WithLabelValues(model).Observe(d.Seconds())
}
