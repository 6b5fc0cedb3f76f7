package blockcache

import (
	"log/slog"

	"github.com/hupe1980/blockcache/resource"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures a Cache.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &blockcache.BasicMetricsCollector{}
//	c, _ := blockcache.New(idx, store, nil, blockcache.WithMetricsCollector(metrics))
//	// ... use c ...
//	stats := metrics.GetStats()
//	fmt.Printf("Hits: %d, Hit ratio: %.2f\n", stats.Hits, stats.HitRatio())
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := blockcache.NewJSONLogger(slog.LevelInfo)
//	c, _ := blockcache.New(idx, store, nil, blockcache.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}

type compoundOptions struct {
	promoteOnGet bool
	background   bool
	queueSize    int
	rateLimit    int64
	resource     *resource.Controller
	logger       *Logger
	metrics      MetricsCollector
}

// CompoundOption configures a CompoundCache.
type CompoundOption func(*compoundOptions)

// DefaultDemotionQueueSize is the queue length used by WithBackgroundDemotion
// when given a non-positive size.
const DefaultDemotionQueueSize = 1024

// WithPromoteOnGet moves entries found in the sub tier back into the main
// cache on read.
func WithPromoteOnGet() CompoundOption {
	return func(o *compoundOptions) {
		o.promoteOnGet = true
	}
}

// WithBackgroundDemotion demotes evicted entries on a single worker goroutine
// fed by a queue of queueSize entries. The main cache's index must support
// deferred removal.
func WithBackgroundDemotion(queueSize int) CompoundOption {
	return func(o *compoundOptions) {
		o.background = true
		o.queueSize = queueSize
	}
}

// WithDemotionRateLimit caps the bytes per second the background worker
// writes into the sub tier.
//
// Ignored when WithCompoundResourceController is also given; that
// controller's IO limit applies instead.
func WithDemotionRateLimit(bytesPerSec int64) CompoundOption {
	return func(o *compoundOptions) {
		o.rateLimit = bytesPerSec
	}
}

// WithCompoundResourceController shares a resource controller with the
// demotion worker. The worker holds one background slot while running and
// acquires IO budget per demoted entry.
func WithCompoundResourceController(rc *resource.Controller) CompoundOption {
	return func(o *compoundOptions) {
		o.resource = rc
	}
}

// WithCompoundLogger configures structured logging for demotion and promotion.
func WithCompoundLogger(logger *Logger) CompoundOption {
	return func(o *compoundOptions) {
		o.logger = logger
	}
}

// WithCompoundMetrics configures the collector receiving demotion and
// promotion metrics.
func WithCompoundMetrics(mc MetricsCollector) CompoundOption {
	return func(o *compoundOptions) {
		o.metrics = mc
	}
}

func applyCompoundOptions(optFns []CompoundOption) compoundOptions {
	o := compoundOptions{}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.queueSize <= 0 {
		o.queueSize = DefaultDemotionQueueSize
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metrics == nil {
		o.metrics = NoopMetricsCollector{}
	}
	if o.resource == nil && o.rateLimit > 0 {
		o.resource = resource.NewController(resource.Config{IOLimitBytesPerSec: o.rateLimit})
	}
	return o
}
