package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Instruments records cache and fetch telemetry for the query core.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Context: methods must return quickly; they run on the read path.
// - Errors: methods must not panic.
type Instruments struct {
	tracer trace.Tracer
	logger Logger

	hits       metric.Int64Counter
	misses     metric.Int64Counter
	evictions  metric.Int64Counter
	dedupJoins metric.Int64Counter

	fetchTotal    metric.Int64Counter
	fetchErrors   metric.Int64Counter
	fetchDuration metric.Float64Histogram

	noop bool
}

// NewInstruments builds Instruments from an Observer.
func NewInstruments(obs Observer) (*Instruments, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	meter := obs.Meter()

	hits, err := meter.Int64Counter(
		"query.cache.hits",
		metric.WithDescription("Reads served from cache without a fetch"),
		metric.WithUnit("{read}"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"query.cache.misses",
		metric.WithDescription("Reads that triggered a fetch"),
		metric.WithUnit("{read}"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"query.cache.evictions",
		metric.WithDescription("Entries removed by the garbage collector"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	dedupJoins, err := meter.Int64Counter(
		"query.dedup.joins",
		metric.WithDescription("Fetches that joined an in-flight request"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	fetchTotal, err := meter.Int64Counter(
		"query.fetch.total",
		metric.WithDescription("Total number of physical fetches"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	fetchErrors, err := meter.Int64Counter(
		"query.fetch.errors",
		metric.WithDescription("Total number of failed fetches"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	fetchDuration, err := meter.Float64Histogram(
		"query.fetch.duration_ms",
		metric.WithDescription("Physical fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Instruments{
		tracer:        obs.Tracer(),
		logger:        obs.Logger(),
		hits:          hits,
		misses:        misses,
		evictions:     evictions,
		dedupJoins:    dedupJoins,
		fetchTotal:    fetchTotal,
		fetchErrors:   fetchErrors,
		fetchDuration: fetchDuration,
	}, nil
}

// NoopInstruments returns Instruments that record nothing. Useful when the
// query client is constructed without an Observer.
func NoopInstruments() *Instruments {
	return &Instruments{
		tracer: tracenoop.NewTracerProvider().Tracer("noop"),
		logger: &noopLogger{},
		noop:   true,
	}
}

// Logger returns the underlying logger.
func (i *Instruments) Logger() Logger { return i.logger }

// CacheHit records a read served from cache without a fetch.
func (i *Instruments) CacheHit(ctx context.Context, meta QueryMeta) {
	if i.noop {
		return
	}
	i.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("query.domain", meta.Domain)))
}

// CacheMiss records a read that had to trigger a fetch.
func (i *Instruments) CacheMiss(ctx context.Context, meta QueryMeta) {
	if i.noop {
		return
	}
	i.misses.Add(ctx, 1, metric.WithAttributes(attribute.String("query.domain", meta.Domain)))
}

// Eviction records a garbage-collected entry.
func (i *Instruments) Eviction(ctx context.Context, meta QueryMeta) {
	if i.noop {
		return
	}
	i.evictions.Add(ctx, 1, metric.WithAttributes(attribute.String("query.domain", meta.Domain)))
}

// DedupJoin records a fetch that shared an in-flight request.
func (i *Instruments) DedupJoin(ctx context.Context, meta QueryMeta) {
	if i.noop {
		return
	}
	i.dedupJoins.Add(ctx, 1, metric.WithAttributes(attribute.String("query.domain", meta.Domain)))
}

// StartFetch opens a span for one physical fetch.
func (i *Instruments) StartFetch(ctx context.Context, meta QueryMeta) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(
			attribute.String("query.domain", meta.Domain),
			attribute.String("query.key", meta.Key),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndFetch closes a fetch span and records the fetch outcome.
func (i *Instruments) EndFetch(ctx context.Context, meta QueryMeta, span trace.Span, duration time.Duration, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	if i.noop {
		return
	}

	opt := metric.WithAttributes(attribute.String("query.domain", meta.Domain))
	i.fetchTotal.Add(ctx, 1, opt)
	if err != nil {
		i.fetchErrors.Add(ctx, 1, opt)
	}
	i.fetchDuration.Record(ctx, float64(duration.Milliseconds()), opt)
}
