// Package otel translates engine events into OpenTelemetry spans and
// metrics.
package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	inspector "github.com/sierra-db/sierradb-inspector"
)

// TracingHandler translates engine events into OpenTelemetry spans. It
// maintains maps of active run and partition spans, creating and ending
// them based on event kind.
type TracingHandler struct {
	tracer trace.Tracer

	mu             sync.RWMutex
	runSpans       map[string]trace.Span            // runID -> span
	runCtxs        map[string]context.Context       // runID -> context (for child spans)
	partitionSpans map[string]trace.Span            // runID:partition -> span
}

// NewTracingHandler creates a TracingHandler that uses the given tracer to
// create spans from engine events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:         tracer,
		runSpans:       make(map[string]trace.Span),
		runCtxs:        make(map[string]context.Context),
		partitionSpans: make(map[string]trace.Span),
	}
}

// Handle processes an engine event and creates or ends spans accordingly.
// It implements inspector.EventHandler semantics and is safe for
// concurrent use.
func (h *TracingHandler) Handle(e inspector.EngineEvent) {
	switch e.Kind {
	case inspector.KindRunStarted:
		h.handleRunStarted(e)
	case inspector.KindPartitionStarted:
		h.handlePartitionStarted(e)
	case inspector.KindPartitionMerged:
		h.handlePartitionMerged(e)
	case inspector.KindFetchFailed:
		h.handleFetchFailed(e)
	case inspector.KindRunFinished:
		h.handleRunFinished(e)
	}
}

// ActiveRunSpanContext returns the span context for a live run, or an
// invalid one when the run is unknown.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if span, ok := h.runSpans[runID]; ok {
		return span.SpanContext()
	}
	return trace.SpanContext{}
}

func (h *TracingHandler) handleRunStarted(e inspector.EngineEvent) {
	attrs := []attribute.KeyValue{
		attribute.String("projection.run_id", e.RunID),
	}
	if e.Stream != "" {
		attrs = append(attrs, attribute.String("projection.stream", e.Stream))
	}

	ctx, span := h.tracer.Start(context.Background(), "projection.run",
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) handlePartitionStarted(e inspector.EngineEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	parent, ok := h.runCtxs[e.RunID]
	if !ok {
		parent = context.Background()
	}

	name := fmt.Sprintf("partition:%d", e.Partition)
	if e.Stream != "" {
		name = "stream:" + e.Stream
	}
	_, span := h.tracer.Start(parent, name,
		trace.WithAttributes(
			attribute.String("projection.run_id", e.RunID),
			attribute.Int("projection.partition", e.Partition),
		),
		trace.WithTimestamp(e.Time),
	)
	h.partitionSpans[partitionKey(e)] = span
}

func (h *TracingHandler) handlePartitionMerged(e inspector.EngineEvent) {
	h.mu.Lock()
	span, ok := h.partitionSpans[partitionKey(e)]
	if ok {
		delete(h.partitionSpans, partitionKey(e))
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	if count, ok := e.Payload["count"].(int); ok {
		span.SetAttributes(attribute.Int("projection.events", count))
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleFetchFailed(e inspector.EngineEvent) {
	h.mu.Lock()
	span, ok := h.partitionSpans[partitionKey(e)]
	if ok {
		delete(h.partitionSpans, partitionKey(e))
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	if msg, ok := e.Payload["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
	} else {
		span.SetStatus(codes.Error, "fetch failed")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleRunFinished(e inspector.EngineEvent) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	delete(h.runSpans, e.RunID)
	delete(h.runCtxs, e.RunID)

	// End any partition spans the run left behind (aborted runs).
	for key, pspan := range h.partitionSpans {
		if len(key) > len(e.RunID) && key[:len(e.RunID)] == e.RunID {
			pspan.End(trace.WithTimestamp(e.Time))
			delete(h.partitionSpans, key)
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	if status, _ := e.Payload["status"].(string); status == string(inspector.StatusError) {
		msg, _ := e.Payload["error"].(string)
		span.SetStatus(codes.Error, msg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if processed, ok := e.Payload["events_processed"].(int); ok {
		span.SetAttributes(attribute.Int("projection.events_processed", processed))
	}
	span.End(trace.WithTimestamp(e.Time))
}

func partitionKey(e inspector.EngineEvent) string {
	if e.Stream != "" {
		return e.RunID + ":" + e.Stream
	}
	return fmt.Sprintf("%s:%d", e.RunID, e.Partition)
}
