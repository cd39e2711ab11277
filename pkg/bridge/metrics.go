package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus instrumentation.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "gamebridge").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus instrumentation.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "gamebridge",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Instrument registers Prometheus metrics for the bridge and installs
// the hooks that feed them. Call once per bridge, before traffic starts;
// the registry rejects duplicate registrations, so instrumenting two
// bridges against the same registry needs distinguishing ConstLabels.
//
// Metrics collected:
//   - gamebridge_dispatches_total: Counter of inbound dispatches by target
//   - gamebridge_sends_total: Counter of outbound transport writes
//   - gamebridge_sent_bytes_total: Counter of outbound wire bytes
//   - gamebridge_received_bytes_total: Counter of inbound wire bytes
//   - gamebridge_errors_total: Counter of decode and transport errors
//   - gamebridge_messages_routed_total: Counter of delivered messages
//   - gamebridge_messages_dropped_total: Counter of dropped messages
//   - gamebridge_resyncs_total: Counter of delta stream resyncs
//   - gamebridge_queued_messages: Gauge of messages queued pre-ready
//   - gamebridge_registered_targets: Gauge of registered targets
//   - gamebridge_batch_pending: Gauge of messages in the current batch
//   - gamebridge_throttle_pending: Gauge of throttled messages held back
func Instrument(b *Bridge, opts ...MetricsOption) {
	cfg := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	dispatches := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   cfg.Namespace,
		Subsystem:   cfg.Subsystem,
		Name:        "dispatches_total",
		Help:        "Total inbound messages dispatched, by target",
		ConstLabels: cfg.ConstLabels,
	}, []string{"target"})

	sends := factory.NewCounter(prometheus.CounterOpts{
		Namespace:   cfg.Namespace,
		Subsystem:   cfg.Subsystem,
		Name:        "sends_total",
		Help:        "Total outbound transport writes",
		ConstLabels: cfg.ConstLabels,
	})

	sentBytes := factory.NewCounter(prometheus.CounterOpts{
		Namespace:   cfg.Namespace,
		Subsystem:   cfg.Subsystem,
		Name:        "sent_bytes_total",
		Help:        "Total outbound wire bytes",
		ConstLabels: cfg.ConstLabels,
	})

	errorsTotal := factory.NewCounter(prometheus.CounterOpts{
		Namespace:   cfg.Namespace,
		Subsystem:   cfg.Subsystem,
		Name:        "errors_total",
		Help:        "Total decode and transport errors",
		ConstLabels: cfg.ConstLabels,
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   cfg.Namespace,
		Subsystem:   cfg.Subsystem,
		Name:        "received_bytes_total",
		Help:        "Total inbound wire bytes",
		ConstLabels: cfg.ConstLabels,
	}, func() float64 { return float64(b.bytesReceived.Load()) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   cfg.Namespace,
		Subsystem:   cfg.Subsystem,
		Name:        "messages_routed_total",
		Help:        "Total messages delivered to a registered handler",
		ConstLabels: cfg.ConstLabels,
	}, func() float64 { return float64(b.router.Statistics().MessagesRouted) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   cfg.Namespace,
		Subsystem:   cfg.Subsystem,
		Name:        "messages_dropped_total",
		Help:        "Total messages dropped by routing or throttling",
		ConstLabels: cfg.ConstLabels,
	}, func() float64 {
		return float64(b.router.Statistics().MessagesDropped + b.throttler.Stats().Dropped)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   cfg.Namespace,
		Subsystem:   cfg.Subsystem,
		Name:        "resyncs_total",
		Help:        "Total delta stream resyncs, both requested and served",
		ConstLabels: cfg.ConstLabels,
	}, func() float64 { return float64(b.resyncs.Load()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   cfg.Namespace,
		Subsystem:   cfg.Subsystem,
		Name:        "queued_messages",
		Help:        "Messages queued for targets not yet registered",
		ConstLabels: cfg.ConstLabels,
	}, func() float64 { return float64(b.router.Statistics().QueuedMessages) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   cfg.Namespace,
		Subsystem:   cfg.Subsystem,
		Name:        "registered_targets",
		Help:        "Currently registered routing targets",
		ConstLabels: cfg.ConstLabels,
	}, func() float64 { return float64(b.router.Statistics().RegisteredTargets) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   cfg.Namespace,
		Subsystem:   cfg.Subsystem,
		Name:        "batch_pending",
		Help:        "Messages accumulated in the current outbound batch",
		ConstLabels: cfg.ConstLabels,
	}, func() float64 { return float64(b.batcher.Pending()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   cfg.Namespace,
		Subsystem:   cfg.Subsystem,
		Name:        "throttle_pending",
		Help:        "Messages held back by rate limiting",
		ConstLabels: cfg.ConstLabels,
	}, func() float64 { return float64(b.throttler.PendingCount()) })

	prev := b.hooks
	b.hooks = Hooks{
		OnDispatch: func(target, method string, binary bool) {
			dispatches.WithLabelValues(target).Inc()
			if prev.OnDispatch != nil {
				prev.OnDispatch(target, method, binary)
			}
		},
		OnSend: func(bytes int) {
			sends.Inc()
			sentBytes.Add(float64(bytes))
			if prev.OnSend != nil {
				prev.OnSend(bytes)
			}
		},
		OnError: func(err error) {
			errorsTotal.Inc()
			if prev.OnError != nil {
				prev.OnError(err)
			}
		},
	}
}
