package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	inspector "github.com/sierra-db/sierradb-inspector"
)

// MetricsHandler translates engine events into OpenTelemetry metrics.
// It records counters for processed and skipped events and a histogram
// of run durations.
type MetricsHandler struct {
	eventsProcessed metric.Int64Counter
	eventsSkipped   metric.Int64Counter
	fetchFailures   metric.Int64Counter
	runDuration     metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create instruments for recording projection metrics.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	processed, err := meter.Int64Counter("projection.events.processed",
		metric.WithDescription("Number of events folded into projection state"),
	)
	if err != nil {
		return nil, err
	}

	skipped, err := meter.Int64Counter("projection.events.skipped",
		metric.WithDescription("Number of events skipped due to script faults"),
	)
	if err != nil {
		return nil, err
	}

	fetchFail, err := meter.Int64Counter("projection.fetch.failures",
		metric.WithDescription("Number of partitions or streams abandoned after a fetch error"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("projection.run.duration",
		metric.WithDescription("Duration of projection runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		eventsProcessed: processed,
		eventsSkipped:   skipped,
		fetchFailures:   fetchFail,
		runDuration:     runDur,
	}, nil
}

// Handle processes an engine event and records the appropriate metrics.
// It implements inspector.EventHandler semantics.
func (h *MetricsHandler) Handle(e inspector.EngineEvent) {
	switch e.Kind {
	case inspector.KindBatchApplied:
		h.handleBatchApplied(e)
	case inspector.KindEventSkipped:
		h.handleEventSkipped(e)
	case inspector.KindFetchFailed:
		h.handleFetchFailed(e)
	case inspector.KindRunFinished:
		h.handleRunFinished(e)
	}
}

// handleBatchApplied adds the batch size to the processed counter.
func (h *MetricsHandler) handleBatchApplied(e inspector.EngineEvent) {
	count, ok := e.Payload["count"].(int)
	if !ok {
		return
	}
	h.eventsProcessed.Add(context.Background(), int64(count), metric.WithAttributes(
		attribute.Int("partition", e.Partition),
	))
}

// handleEventSkipped increments the skip counter.
func (h *MetricsHandler) handleEventSkipped(e inspector.EngineEvent) {
	h.eventsSkipped.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Int("partition", e.Partition),
	))
}

// handleFetchFailed increments the fetch failure counter.
func (h *MetricsHandler) handleFetchFailed(e inspector.EngineEvent) {
	h.fetchFailures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Int("partition", e.Partition),
	))
}

// handleRunFinished records the run duration.
func (h *MetricsHandler) handleRunFinished(e inspector.EngineEvent) {
	status, _ := e.Payload["status"].(string)
	h.runDuration.Record(context.Background(), e.Elapsed.Seconds(), metric.WithAttributes(
		attribute.String("run_id", e.RunID),
		attribute.String("status", status),
	))
}
