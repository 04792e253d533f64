// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so metrics can be scraped
// from the standard /metrics endpoint. There is no package-level default
// collector: a [Collector] is constructed explicitly from a
// [metric.MeterProvider] and handed to the components that record into it,
// which keeps tests free of cross-test pollution.
package observe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxloop/voxloop/pkg/types"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/voxloop/voxloop"

// Sample is one pipeline stage measurement. Samples are immutable once
// appended to the collector's log.
type Sample struct {
	Stage    types.Stage
	Duration time.Duration
	Success  bool
	At       time.Time
}

// Collector holds the OpenTelemetry instruments for the pipeline plus an
// in-process, append-only log of stage samples. The OTel instruments feed
// the /metrics endpoint; the sample log backs programmatic inspection
// (tests, debug endpoints) without a scrape cycle.
//
// All methods are safe for concurrent use.
type Collector struct {
	stageDuration   map[types.Stage]metric.Float64Histogram
	turns           metric.Int64Counter
	stageErrors     metric.Int64Counter
	bufferEvictions metric.Int64Counter
	cacheRequests   metric.Int64Counter
	activeTurns     metric.Int64UpDownCounter
	httpDuration    metric.Float64Histogram

	mu      sync.Mutex
	samples []Sample
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewCollector creates a fully initialised [Collector] using the given
// [metric.MeterProvider]. Returns an error if any instrument creation
// fails.
func NewCollector(mp metric.MeterProvider) (*Collector, error) {
	m := mp.Meter(meterName)
	c := &Collector{
		stageDuration: make(map[types.Stage]metric.Float64Histogram, len(types.Stages)),
	}

	var err error
	for _, stage := range types.Stages {
		if c.stageDuration[stage], err = m.Float64Histogram(
			fmt.Sprintf("voxloop.%s.duration", stage),
			metric.WithDescription(fmt.Sprintf("Latency of the %s stage.", stage)),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if c.turns, err = m.Int64Counter("voxloop.pipeline.turns",
		metric.WithDescription("Total turns processed by the pipeline."),
	); err != nil {
		return nil, err
	}
	if c.stageErrors, err = m.Int64Counter("voxloop.stage.errors",
		metric.WithDescription("Total stage failures by stage and error kind."),
	); err != nil {
		return nil, err
	}
	if c.bufferEvictions, err = m.Int64Counter("voxloop.buffer.evictions",
		metric.WithDescription("Total capture-buffer overflow evictions."),
	); err != nil {
		return nil, err
	}
	if c.cacheRequests, err = m.Int64Counter("voxloop.cache.requests",
		metric.WithDescription("Total retrieval-cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if c.activeTurns, err = m.Int64UpDownCounter("voxloop.active_turns",
		metric.WithDescription("Number of turns currently in flight."),
	); err != nil {
		return nil, err
	}
	if c.httpDuration, err = m.Float64Histogram("voxloop.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return c, nil
}

// RecordStage records one stage execution: the duration histogram, the
// error counter when kind is non-empty, and an entry in the sample log.
// Every stage invocation is recorded, successful or not.
func (c *Collector) RecordStage(ctx context.Context, stage types.Stage, d time.Duration, kind types.ErrorKind) {
	if h, ok := c.stageDuration[stage]; ok {
		h.Record(ctx, d.Seconds())
	}
	if kind != "" {
		c.stageErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", string(stage)),
			attribute.String("kind", string(kind)),
		))
	}

	c.mu.Lock()
	c.samples = append(c.samples, Sample{
		Stage:    stage,
		Duration: d,
		Success:  kind == "",
		At:       time.Now(),
	})
	c.mu.Unlock()
}

// RecordTurn counts one completed turn (successful or degraded).
func (c *Collector) RecordTurn(ctx context.Context) {
	c.turns.Add(ctx, 1)
}

// TurnStarted increments the in-flight turn gauge.
func (c *Collector) TurnStarted(ctx context.Context) {
	c.activeTurns.Add(ctx, 1)
}

// TurnFinished decrements the in-flight turn gauge.
func (c *Collector) TurnFinished(ctx context.Context) {
	c.activeTurns.Add(ctx, -1)
}

// RecordBufferEviction counts one capture-buffer overflow eviction.
func (c *Collector) RecordBufferEviction(ctx context.Context) {
	c.bufferEvictions.Add(ctx, 1)
}

// RecordCacheRequest counts one retrieval-cache lookup by result
// ("hit", "miss", "expired").
func (c *Collector) RecordCacheRequest(ctx context.Context, result string) {
	c.cacheRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// Snapshot returns a copy of the sample log in append order. The returned
// slice is the caller's to keep; later samples do not show up in it.
func (c *Collector) Snapshot() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Sample, len(c.samples))
	copy(out, c.samples)
	return out
}
