package blockcache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    hits   prometheus.Counter
//	    misses prometheus.Counter
//	}
//
//	func (p *PrometheusCollector) RecordGet(hit bool, duration time.Duration, err error) {
//	    if hit {
//	        p.hits.Inc()
//	    } else {
//	        p.misses.Inc()
//	    }
//	}
type MetricsCollector interface {
	// RecordGet is called after each lookup. hit reports whether the key
	// was found.
	RecordGet(hit bool, duration time.Duration, err error)

	// RecordPut is called after each put operation.
	RecordPut(duration time.Duration, err error)

	// RecordRemove is called after each explicit remove.
	RecordRemove(duration time.Duration, err error)

	// RecordEviction is called when the index offers an entry for eviction.
	// vetoed is true if a listener deferred the removal.
	RecordEviction(vetoed bool)

	// RecordDemotion is called after an entry was moved into the sub tier.
	RecordDemotion(duration time.Duration, err error)

	// RecordPromotion is called after an entry was moved back into the main tier.
	RecordPromotion(err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordGet(bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordPut(time.Duration, error)       {}
func (NoopMetricsCollector) RecordRemove(time.Duration, error)    {}
func (NoopMetricsCollector) RecordEviction(bool)                  {}
func (NoopMetricsCollector) RecordDemotion(time.Duration, error)  {}
func (NoopMetricsCollector) RecordPromotion(error)                {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	Hits            atomic.Int64
	Misses          atomic.Int64
	GetErrors       atomic.Int64
	GetTotalNanos   atomic.Int64
	PutCount        atomic.Int64
	PutErrors       atomic.Int64
	PutTotalNanos   atomic.Int64
	RemoveCount     atomic.Int64
	RemoveErrors    atomic.Int64
	Evictions       atomic.Int64
	Vetoes          atomic.Int64
	Demotions       atomic.Int64
	DemotionErrors  atomic.Int64
	DemotionNanos   atomic.Int64
	Promotions      atomic.Int64
	PromotionErrors atomic.Int64
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(hit bool, duration time.Duration, err error) {
	if hit {
		b.Hits.Add(1)
	} else {
		b.Misses.Add(1)
	}
	b.GetTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.GetErrors.Add(1)
	}
}

// RecordPut implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPut(duration time.Duration, err error) {
	b.PutCount.Add(1)
	b.PutTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PutErrors.Add(1)
	}
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(_ time.Duration, err error) {
	b.RemoveCount.Add(1)
	if err != nil {
		b.RemoveErrors.Add(1)
	}
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(vetoed bool) {
	b.Evictions.Add(1)
	if vetoed {
		b.Vetoes.Add(1)
	}
}

// RecordDemotion implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDemotion(duration time.Duration, err error) {
	b.Demotions.Add(1)
	b.DemotionNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.DemotionErrors.Add(1)
	}
}

// RecordPromotion implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPromotion(err error) {
	b.Promotions.Add(1)
	if err != nil {
		b.PromotionErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		Hits:             b.Hits.Load(),
		Misses:           b.Misses.Load(),
		GetErrors:        b.GetErrors.Load(),
		GetAvgNanos:      avg(b.GetTotalNanos.Load(), b.Hits.Load()+b.Misses.Load()),
		PutCount:         b.PutCount.Load(),
		PutErrors:        b.PutErrors.Load(),
		PutAvgNanos:      avg(b.PutTotalNanos.Load(), b.PutCount.Load()),
		RemoveCount:      b.RemoveCount.Load(),
		RemoveErrors:     b.RemoveErrors.Load(),
		Evictions:        b.Evictions.Load(),
		Vetoes:           b.Vetoes.Load(),
		Demotions:        b.Demotions.Load(),
		DemotionErrors:   b.DemotionErrors.Load(),
		DemotionAvgNanos: avg(b.DemotionNanos.Load(), b.Demotions.Load()),
		Promotions:       b.Promotions.Load(),
		PromotionErrors:  b.PromotionErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// HitRatio returns hits / (hits + misses), or 0 before the first lookup.
func (s BasicMetricsStats) HitRatio() float64 {
	n := s.Hits + s.Misses
	if n == 0 {
		return 0
	}
	return float64(s.Hits) / float64(n)
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	Hits             int64
	Misses           int64
	GetErrors        int64
	GetAvgNanos      int64
	PutCount         int64
	PutErrors        int64
	PutAvgNanos      int64
	RemoveCount      int64
	RemoveErrors     int64
	Evictions        int64
	Vetoes           int64
	Demotions        int64
	DemotionErrors   int64
	DemotionAvgNanos int64
	Promotions       int64
	PromotionErrors  int64
}
