package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency can be used by store implementations to record operation latency.
	StoreLatency *prometheus.HistogramVec

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge

	resolverOutcomes     *prometheus.CounterVec
	integrityViolations  *prometheus.CounterVec
	consolidationChanges *prometheus.CounterVec
	notifyFailuresTotal  prometheus.Counter
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP server or any store/cache initialization
// that records metrics. Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacechat_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spacechat_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spacechat_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "spacechat_cache_hits_total",
		Help: "Total cache hits",
	})

	CacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "spacechat_cache_misses_total",
		Help: "Total cache misses",
	})

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "spacechat_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "spacechat_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})

	resolverOutcomes = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacechat_resolver_outcomes_total",
			Help: "Conversation resolutions by outcome (existing, created, adopted, dm_reused)",
		},
		[]string{"outcome"},
	)

	integrityViolations = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacechat_integrity_violations_total",
			Help: "Integrity violations observed at read time, by kind",
		},
		[]string{"kind"},
	)

	consolidationChanges = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacechat_consolidation_changes_total",
			Help: "Rows repaired by the consolidation job, by step",
		},
		[]string{"step"},
	)

	notifyFailuresTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "spacechat_notify_failures_total",
		Help: "Chat events the notification sink failed to deliver",
	})
}

// RecordResolve counts one conversation resolution.
func RecordResolve(outcome string) {
	if resolverOutcomes != nil {
		resolverOutcomes.WithLabelValues(outcome).Inc()
	}
}

// RecordIntegrityViolation counts one observed integrity violation.
func RecordIntegrityViolation(kind string) {
	if integrityViolations != nil {
		integrityViolations.WithLabelValues(kind).Inc()
	}
}

// RecordConsolidation adds n repaired rows for a consolidation step.
func RecordConsolidation(step string, n int) {
	if consolidationChanges != nil && n > 0 {
		consolidationChanges.WithLabelValues(step).Add(float64(n))
	}
}

// RecordCacheLookup counts an unread cache hit or miss.
func RecordCacheLookup(hit bool) {
	c := CacheMissesTotal
	if hit {
		c = CacheHitsTotal
	}
	if c != nil {
		c.Inc()
	}
}

// RecordNotifyFailure counts one undelivered chat event.
func RecordNotifyFailure() {
	if notifyFailuresTotal != nil {
		notifyFailuresTotal.Inc()
	}
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
