package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const pipelineMeterName = "github.com/airpulse/airpulse/internal/airquality"

// PipelineMetrics holds metrics for provider calls, cache lookups and the
// quality of served readings. A nil *PipelineMetrics records nothing.
type PipelineMetrics struct {
	requestDuration metric.Float64Histogram
	requestTotal    metric.Int64Counter
	cacheLookups    metric.Int64Counter
	served          metric.Int64Counter
}

// NewPipelineMetrics creates the pipeline instruments on the global meter.
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter(pipelineMeterName)

	requestDuration, err := meter.Float64Histogram(
		"provider.request.duration",
		metric.WithDescription("Duration of provider requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	requestTotal, err := meter.Int64Counter(
		"provider.request.total",
		metric.WithDescription("Total number of provider requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"airquality.cache.lookups",
		metric.WithDescription("Freshness cache lookups by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	served, err := meter.Int64Counter(
		"airquality.readings.served",
		metric.WithDescription("Readings served by data quality"),
		metric.WithUnit("{reading}"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLookups:    cacheLookups,
		served:          served,
	}, nil
}

// RecordProviderCall records one provider call. cause is empty on success.
func (m *PipelineMetrics) RecordProviderCall(provider, operation string, duration time.Duration, cause string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider.name", provider),
		attribute.String("provider.operation", operation),
	}
	if cause != "" {
		attrs = append(attrs,
			attribute.Bool("error", true),
			attribute.String("provider.failure_cause", cause),
		)
	}

	// Background context so a cancelled request still gets counted
	ctx := context.TODO()
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.requestTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCacheLookup records a cache hit or miss.
func (m *PipelineMetrics) RecordCacheLookup(operation string, hit bool) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.String("cache.operation", operation),
		attribute.Bool("cache.hit", hit),
	))
}

// RecordServed records the quality tag of a reading handed to a caller.
func (m *PipelineMetrics) RecordServed(operation, quality string) {
	if m == nil {
		return
	}
	m.served.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.String("airquality.operation", operation),
		attribute.String("airquality.quality", quality),
	))
}
