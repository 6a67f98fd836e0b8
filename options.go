package baggo

import (
	"log/slog"

	"github.com/hupe1980/baggo/catalog"
	"github.com/hupe1980/baggo/ingest"
	"github.com/hupe1980/baggo/replay"
	"github.com/hupe1980/baggo/store"
)

type options struct {
	storeOptions     []func(*store.Options)
	ingestOptions    []func(*ingest.Options)
	replayOptions    []func(*replay.Options)
	runtime          replay.Runtime
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Cockpit construction.
type Option func(*options)

// WithStoreOptions forwards options to the catalog store, e.g. write
// retry budgets.
func WithStoreOptions(optFns ...func(o *store.Options)) Option {
	return func(o *options) {
		o.storeOptions = append(o.storeOptions, optFns...)
	}
}

// WithIngestConcurrency sets the ingestion worker pool size.
// Defaults to GOMAXPROCS.
func WithIngestConcurrency(n int) Option {
	return func(o *options) {
		o.ingestOptions = append(o.ingestOptions, func(io *ingest.Options) {
			io.Concurrency = n
		})
	}
}

// WithIngestIOLimit throttles aggregate parse throughput during
// ingestion. 0 disables throttling.
func WithIngestIOLimit(bytesPerSec int) Option {
	return func(o *options) {
		o.ingestOptions = append(o.ingestOptions, func(io *ingest.Options) {
			io.IOLimitBytesPerSec = bytesPerSec
		})
	}
}

// WithClassifier overrides the category classifier applied to each
// ingested bag.
func WithClassifier(c catalog.Classifier) Option {
	return func(o *options) {
		o.ingestOptions = append(o.ingestOptions, func(io *ingest.Options) {
			io.Classifier = c
		})
	}
}

// WithArchiver mirrors every newly ingested bag into secondary
// storage, typically a blobstore.Archiver.
func WithArchiver(a ingest.Archiver) Option {
	return func(o *options) {
		o.ingestOptions = append(o.ingestOptions, func(io *ingest.Options) {
			io.Archiver = a
		})
	}
}

// WithReplayOptions forwards options to the replay controller, e.g.
// an injectable clock.
func WithReplayOptions(optFns ...func(o *replay.Options)) Option {
	return func(o *options) {
		o.replayOptions = append(o.replayOptions, optFns...)
	}
}

// WithRuntime replaces the replay environment runtime. The default
// talks to a local Docker daemon.
func WithRuntime(rt replay.Runtime) Option {
	return func(o *options) {
		o.runtime = rt
	}
}

// WithReplayImage sets the container image launched for replay
// sessions.
func WithReplayImage(image string) Option {
	return func(o *options) {
		o.replayOptions = append(o.replayOptions, func(ro *replay.Options) {
			ro.Image = image
		})
	}
}

// WithReplayLimits sets the resource limits applied to replay
// environments.
func WithReplayLimits(limits replay.Limits) Option {
	return func(o *options) {
		o.replayOptions = append(o.replayOptions, func(ro *replay.Options) {
			ro.Limits = limits
		})
	}
}

// WithMaxSessions bounds the number of concurrently running replay
// sessions. Exceeding the bound fails fast instead of queuing.
func WithMaxSessions(n int) Option {
	return func(o *options) {
		o.replayOptions = append(o.replayOptions, func(ro *replay.Options) {
			ro.MaxSessions = n
		})
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &baggo.BasicMetricsCollector{}
//	ck, _ := baggo.New("./catalog.db", baggo.WithMetricsCollector(metrics))
//	// ... use ck ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
//
// Example with JSON logging:
//
//	logger := baggo.NewJSONLogger(slog.LevelInfo)
//	ck, _ := baggo.New("./catalog.db", baggo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets
// it. Convenience wrapper for WithLogger(NewTextLogger(level)).
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
	return o
}
