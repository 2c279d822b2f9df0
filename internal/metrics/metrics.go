package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ibeckermayer/tootrank/internal/types"
)

// Metrics holds the Prometheus collectors for the ranking engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	InteractionsLogged    *prometheus.CounterVec
	RecalculationDuration prometheus.Histogram
	AffinitiesWritten     *prometheus.CounterVec
	RecommendationsServed prometheus.Counter
	ActionOutcomes        *prometheus.CounterVec
	CacheHits             prometheus.Counter
	CacheMisses           prometheus.Counter
	APILatency            *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InteractionsLogged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tootrank_interactions_logged_total",
				Help: "Interaction records appended to the log, by action.",
			},
			[]string{"action"},
		),
		RecalculationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tootrank_affinity_recalculation_duration_seconds",
				Help:    "Duration of full affinity recalculations.",
				Buckets: prometheus.DefBuckets,
			},
		),
		AffinitiesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tootrank_affinities_written_total",
				Help: "Affinity records upserted, by kind.",
			},
			[]string{"kind"},
		),
		RecommendationsServed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tootrank_recommendations_served_total",
				Help: "Post ids returned by top recommendations.",
			},
		),
		ActionOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tootrank_post_actions_total",
				Help: "Post actions by action and outcome (ok, rolled_back, skipped).",
			},
			[]string{"action", "outcome"},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tootrank_timeline_cache_hits_total",
				Help: "Timeline reads served from the disk cache.",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tootrank_timeline_cache_misses_total",
				Help: "Timeline reads that went to the network.",
			},
		),
		APILatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tootrank_api_request_duration_seconds",
				Help:    "Latency of requests to the Mastodon API.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	reg.MustRegister(
		m.InteractionsLogged,
		m.RecalculationDuration,
		m.AffinitiesWritten,
		m.RecommendationsServed,
		m.ActionOutcomes,
		m.CacheHits,
		m.CacheMisses,
		m.APILatency,
	)
	return m
}

func (m *Metrics) InteractionLogged(action types.ActionType) {
	if m == nil {
		return
	}
	m.InteractionsLogged.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) Recalculated(d time.Duration, authors, hashtags int) {
	if m == nil {
		return
	}
	m.RecalculationDuration.Observe(d.Seconds())
	m.AffinitiesWritten.WithLabelValues(string(types.AffinityAuthor)).Add(float64(authors))
	m.AffinitiesWritten.WithLabelValues(string(types.AffinityHashtag)).Add(float64(hashtags))
}

func (m *Metrics) Recommended(n int) {
	if m == nil {
		return
	}
	m.RecommendationsServed.Add(float64(n))
}

func (m *Metrics) Action(action types.ActionType, outcome string) {
	if m == nil {
		return
	}
	m.ActionOutcomes.WithLabelValues(string(action), outcome).Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

func (m *Metrics) APIRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.APILatency.WithLabelValues(method, path, strconv.Itoa(status)).Observe(d.Seconds())
}
