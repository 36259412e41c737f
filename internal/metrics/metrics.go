package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "draftsync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	writeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draft_writes_total",
			Help:      "Draft write attempts by trigger and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_queue_depth",
			Help:      "Items currently waiting in the retry queue.",
		},
	)

	queueEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_queue_evictions_total",
			Help:      "Items evicted from the retry queue by reason.",
		},
		[]string{"reason"},
	)

	conflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Batch writes skipped because a newer remote draft was detected.",
		},
	)

	connectivityStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connectivity_status",
			Help:      "1 for the current connectivity status, 0 otherwise.",
		},
		[]string{"status"},
	)

	probeLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_latency_seconds",
			Help:      "Reachability probe round-trip time.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
)

var connectivityStatuses = []string{"excellent", "good", "poor", "offline"}

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, writeAttempts, queueDepth, queueEvictions, conflicts, connectivityStatus, probeLatency)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncWrite counts one draft write; trigger is autosave, manual, batch or retry.
func IncWrite(trigger, outcome string) {
	writeAttempts.WithLabelValues(trigger, outcome).Inc()
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

func IncEviction(reason string) {
	queueEvictions.WithLabelValues(reason).Inc()
}

func IncConflict() {
	conflicts.Inc()
}

func SetConnectivity(status string) {
	for _, s := range connectivityStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		connectivityStatus.WithLabelValues(s).Set(v)
	}
}

func ObserveProbe(seconds float64) {
	probeLatency.Observe(seconds)
}
