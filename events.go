package inspector

import "time"

// EventKind identifies the type of engine event.
type EventKind string

const (
	// KindRunStarted is emitted when a projection run begins.
	KindRunStarted EventKind = "run_started"

	// KindPartitionStarted is emitted when a partition or stream begins
	// processing.
	KindPartitionStarted EventKind = "partition_started"

	// KindBatchApplied is emitted after a batch of events has gone through
	// the sandbox.
	KindBatchApplied EventKind = "batch_applied"

	// KindEventSkipped is emitted when a script fault causes one event to
	// be skipped.
	KindEventSkipped EventKind = "event_skipped"

	// KindFetchFailed is emitted when a partition or stream is abandoned
	// because the source failed to return a batch.
	KindFetchFailed EventKind = "fetch_failed"

	// KindPartitionMerged is emitted after a partition's result has been
	// folded into the global state.
	KindPartitionMerged EventKind = "partition_merged"

	// KindRunFinished is emitted when a projection run ends.
	KindRunFinished EventKind = "run_finished"

	// KindSessionCreated is emitted when a debug session materializes its
	// event sample.
	KindSessionCreated EventKind = "debug_session_created"

	// KindSessionStepped is emitted after each debug step.
	KindSessionStepped EventKind = "debug_session_stepped"

	// KindSessionDestroyed is emitted when a debug session is released.
	KindSessionDestroyed EventKind = "debug_session_destroyed"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// EngineEvent is a structured, streamable record of what happened during a
// run. Events are kept small; state snapshots travel on the progress
// callback, not here.
type EngineEvent struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID ties the event to one projection run or debug session.
	RunID string

	// Partition is the partition the event relates to (-1 for run-level
	// and stream events).
	Partition int

	// Stream is the stream the event relates to (empty for partition and
	// run-level events).
	Stream string

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the run started.
	Elapsed time.Duration

	// Payload contains event-specific data. Keep it small.
	Payload map[string]any
}

// NewEngineEvent creates a new event with the current timestamp.
func NewEngineEvent(kind EventKind, runID string) EngineEvent {
	return EngineEvent{
		Kind:      kind,
		RunID:     runID,
		Partition: -1,
		Time:      time.Now(),
		Payload:   make(map[string]any),
	}
}

// WithPartition sets the partition on the event.
func (e EngineEvent) WithPartition(partition int) EngineEvent {
	e.Partition = partition
	return e
}

// WithStream sets the stream on the event.
func (e EngineEvent) WithStream(stream string) EngineEvent {
	e.Stream = stream
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e EngineEvent) WithElapsed(elapsed time.Duration) EngineEvent {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e EngineEvent) WithPayload(key string, value any) EngineEvent {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventHandler receives engine events during execution.
type EventHandler func(EngineEvent)

// MultiEventHandler fans one event out to several handlers. Nil handlers
// are skipped.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e EngineEvent) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler forwards events to a channel, dropping them when the
// channel is full rather than blocking the engine.
func ChannelEventHandler(ch chan<- EngineEvent) EventHandler {
	return func(e EngineEvent) {
		select {
		case ch <- e:
		default:
		}
	}
}

// EventEmitter is the internal emission function threaded through the
// processor and orchestrator.
type EventEmitter func(EngineEvent)
