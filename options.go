package annserve

import (
	"github.com/hupe1980/annserve/resource"
	"github.com/hupe1980/annserve/vectorsource"
)

type options struct {
	logger    *Logger
	metrics   MetricsCollector
	ctrl      *resource.Controller
	source    vectorsource.Source
	fallbacks map[string]string
}

func defaultOptions() options {
	return options{
		logger:  NewLogger(nil),
		metrics: NoopMetricsCollector{},
	}
}

// Option configures Registry and Engine constructors.
type Option func(*options)

// WithLogger sets the logger. Pass NoopLogger() to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(metrics MetricsCollector) Option {
	return func(o *options) {
		if metrics == nil {
			metrics = NoopMetricsCollector{}
		}
		o.metrics = metrics
	}
}

// WithResourceController bounds concurrent refreshes and artifact download
// throughput. Only the Registry consumes this option.
func WithResourceController(ctrl *resource.Controller) Option {
	return func(o *options) {
		o.ctrl = ctrl
	}
}

// WithVectorSource enables out-of-index lookup: a by-id query whose id is
// absent from the index universe resolves the vector through source and
// queries by vector instead of failing with ErrEntityNotFound. Only the
// Engine consumes this option.
func WithVectorSource(source vectorsource.Source) Option {
	return func(o *options) {
		o.source = source
	}
}

// WithFallbackIndexes maps child index names to a fallback parent: when a
// query against the child returns fewer than k results, the remainder is
// topped up from the parent (and transitively from the parent's own
// fallback). The mapping must be acyclic. Only the Engine consumes this
// option.
func WithFallbackIndexes(fallbacks map[string]string) Option {
	return func(o *options) {
		o.fallbacks = fallbacks
	}
}
