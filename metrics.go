package aclengine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the engine updates as it
// evaluates rules and plans broadcasts. Callers register it with their
// own prometheus.Registerer; the engine never registers with the
// global default registry itself.
type Metrics struct {
	evaluations   *prometheus.CounterVec
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	broadcastFan  prometheus.Histogram
	sweepRemoved  prometheus.Counter
}

// NewMetrics builds a Metrics and registers its collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aclengine",
			Name:      "rule_evaluations_total",
			Help:      "Number of rule chain evaluations, labeled by result bit.",
		}, []string{"bit", "verdict"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aclengine",
			Name:      "cache_hits_total",
			Help:      "Number of table-permission cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aclengine",
			Name:      "cache_misses_total",
			Help:      "Number of table-permission cache misses.",
		}),
		broadcastFan: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aclengine",
			Name:      "broadcast_fanout_sessions",
			Help:      "Number of sessions a single broadcast bundle was planned for.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		sweepRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aclengine",
			Name:      "cache_sweep_evicted_total",
			Help:      "Number of cache entries evicted by the periodic sweep.",
		}),
	}
	reg.MustRegister(m.evaluations, m.cacheHits, m.cacheMisses, m.broadcastFan, m.sweepRemoved)
	return m
}

func (m *Metrics) observeEvaluation(bit PermBit, verdict PermValue) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(bitName(bit), verdict.String()).Inc()
}

func (m *Metrics) observeCacheHit(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) observeBroadcastFanout(n int) {
	if m == nil {
		return
	}
	m.broadcastFan.Observe(float64(n))
}

func (m *Metrics) observeSweepEvicted(n int) {
	if m == nil {
		return
	}
	m.sweepRemoved.Add(float64(n))
}

func bitName(bit PermBit) string {
	switch bit {
	case BitRead:
		return "read"
	case BitUpdate:
		return "update"
	case BitCreate:
		return "create"
	case BitDelete:
		return "delete"
	case BitSchemaEdit:
		return "schema_edit"
	default:
		return "reserved"
	}
}
