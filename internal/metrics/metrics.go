package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the attribution engine.
type Metrics struct {
	// Attribution metrics
	Clicks            *prometheus.CounterVec
	ProfileViews      prometheus.Counter
	VariantSelections *prometheus.CounterVec
	TrackingFailures  *prometheus.CounterVec
	RedirectLatency   prometheus.Histogram

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Clicks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_total",
				Help:      "Total link clicks recorded",
			},
			[]string{"variant_selected"},
		),
		ProfileViews: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "profile_views_total",
				Help:      "Total profile views recorded",
			},
		),
		VariantSelections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "variant_selections_total",
				Help:      "Variant selections by trigger (view or click)",
			},
			[]string{"trigger"},
		),
		TrackingFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracking_failures_total",
				Help:      "Attribution writes that failed and were swallowed",
			},
			[]string{"stage"},
		),
		RedirectLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "redirect_latency_seconds",
				Help:      "Click resolution latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
		),
		CacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "link_cache_hits_total",
				Help:      "Link cache hits on the redirect path",
			},
		),
		CacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "link_cache_misses_total",
				Help:      "Link cache misses on the redirect path",
			},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordClick records a click and its resolution latency.
func (m *Metrics) RecordClick(variantSelected bool, latency time.Duration) {
	label := "no"
	if variantSelected {
		label = "yes"
	}
	m.Clicks.WithLabelValues(label).Inc()
	m.RedirectLatency.Observe(latency.Seconds())
}

// RecordProfileView records a profile view.
func (m *Metrics) RecordProfileView() {
	m.ProfileViews.Inc()
}

// RecordSelection records a variant selection by trigger.
func (m *Metrics) RecordSelection(trigger string) {
	m.VariantSelections.WithLabelValues(trigger).Inc()
}

// RecordTrackingFailure records a swallowed attribution write failure.
func (m *Metrics) RecordTrackingFailure(stage string) {
	m.TrackingFailures.WithLabelValues(stage).Inc()
}

// RecordCacheHit records a link cache hit or miss.
func (m *Metrics) RecordCacheHit(hit bool) {
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// RecordRateLimitHit records a rate limit rejection.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}
