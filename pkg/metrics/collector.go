// Package metrics exports colonymem counters to Prometheus.
//
// A nil *Collector is valid and records nothing, so components take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Injection outcomes.
const (
	OutcomeInjected = "injected"
	OutcomeCached   = "cached"
	OutcomeEmpty    = "empty"
)

// Collector holds the colonymem metrics.
type Collector struct {
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec

	injectionsTotal   *prometheus.CounterVec
	injectionDuration prometheus.Histogram

	knowledgeCandidates *prometheus.CounterVec
	embeddingFallbacks  prometheus.Counter

	maintenancePasses *prometheus.CounterVec
	memoriesRemoved   *prometheus.CounterVec
	thresholds        *prometheus.GaugeVec
	queueDepth        prometheus.Gauge

	logger *zap.Logger
}

// NewCollector registers the metrics under namespace on reg. A nil reg
// means prometheus.DefaultRegisterer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.cacheHits = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Total number of cache hits",
	}, []string{"cache"})
	c.cacheMisses = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Total number of cache misses",
	}, []string{"cache"})
	c.cacheEvictions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_evictions_total",
		Help:      "Total number of cache evictions",
	}, []string{"cache", "reason"})

	c.injectionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "injections_total",
		Help:      "Total number of injection contexts built",
	}, []string{"outcome"})
	c.injectionDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "injection_duration_seconds",
		Help:      "Time spent building one injection context",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.05},
	})

	c.knowledgeCandidates = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "knowledge_candidates_total",
		Help:      "Knowledge candidates by selection result",
	}, []string{"result"})
	c.embeddingFallbacks = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embedding_fallbacks_total",
		Help:      "Selections that fell back to keyword-only matching",
	})

	c.maintenancePasses = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "maintenance_passes_total",
		Help:      "Maintenance passes run, by pass",
	}, []string{"pass"})
	c.memoriesRemoved = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "memories_removed_total",
		Help:      "Memories removed by maintenance, by reason",
	}, []string{"reason"})
	c.thresholds = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "adaptive_threshold",
		Help:      "Current adaptive threshold by category",
	}, []string{"category"})
	c.queueDepth = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "summary_queue_depth",
		Help:      "Agents waiting for bulk summarization",
	})

	c.logger.Debug("metrics registered", zap.String("namespace", namespace))
	return c
}

// CacheHit implements cache.Observer.
func (c *Collector) CacheHit(cache string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cache).Inc()
}

// CacheMiss implements cache.Observer.
func (c *Collector) CacheMiss(cache string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cache).Inc()
}

// CacheEvict implements cache.Observer.
func (c *Collector) CacheEvict(cache, reason string) {
	if c == nil {
		return
	}
	c.cacheEvictions.WithLabelValues(cache, reason).Inc()
}

// RecordInjection records one BuildInjectionContext call.
func (c *Collector) RecordInjection(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.injectionsTotal.WithLabelValues(outcome).Inc()
	c.injectionDuration.Observe(d.Seconds())
}

// RecordKnowledge records the size of one knowledge selection.
func (c *Collector) RecordKnowledge(selected, lowScore, overLimit int, vectorUsed, vectorWanted bool) {
	if c == nil {
		return
	}
	c.knowledgeCandidates.WithLabelValues("selected").Add(float64(selected))
	c.knowledgeCandidates.WithLabelValues("low_score").Add(float64(lowScore))
	c.knowledgeCandidates.WithLabelValues("exceed_max_entries").Add(float64(overLimit))
	if vectorWanted && !vectorUsed {
		c.embeddingFallbacks.Inc()
	}
}

// RecordPass records one maintenance pass.
func (c *Collector) RecordPass(pass string) {
	if c == nil {
		return
	}
	c.maintenancePasses.WithLabelValues(pass).Inc()
}

// RecordRemoved records memories removed by maintenance.
func (c *Collector) RecordRemoved(reason string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.memoriesRemoved.WithLabelValues(reason).Add(float64(n))
}

// SetThreshold publishes the current threshold of a category.
func (c *Collector) SetThreshold(category string, v float64) {
	if c == nil {
		return
	}
	c.thresholds.WithLabelValues(category).Set(v)
}

// SetQueueDepth publishes the summarization queue length.
func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}
