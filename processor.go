package inspector

import (
	"context"
	"log/slog"
	"time"
)

// processorPhase tracks where the per-partition loop is. Transitions are
// idle -> fetching -> executing -> fetching ... -> done.
type processorPhase string

const (
	phaseIdle      processorPhase = "idle"
	phaseFetching  processorPhase = "fetching"
	phaseExecuting processorPhase = "executing"
	phaseDone      processorPhase = "done"
)

// batchFunc fetches the page starting at start, bound to one partition or
// stream. The engine supplies it as a closure over the event source.
type batchFunc func(ctx context.Context, start uint64, maxCount int) (Batch, error)

// processor drives one partition or stream through a ScriptRunner,
// threading the running state and counting events.
type processor struct {
	runner    ScriptRunner
	batchSize int
	timeLimit time.Duration
	logger    *slog.Logger
	emit      EventEmitter
	runID     string
	runStart  time.Time
	now       func() time.Time

	// Identifies what this processor is bound to, for events and logs.
	partition int
	stream    string

	phase processorPhase
}

// run folds events into state, calling onBatch after every applied batch
// with the state so far and the number of events in the batch.
//
// Script faults skip the event: the state is left unchanged, the event is
// still counted as processed, and the loop continues. Fetch failures end
// the partition as if it were exhausted. The only error returned is the
// context's, observed before each fetch and before each event; an abort
// mid-batch returns the state accumulated up to the last applied event.
func (p *processor) run(ctx context.Context, fetch batchFunc, position func(Event) uint64, initial any, onBatch func(state any, applied int)) (any, int, error) {
	state := initial
	processed := 0
	start := uint64(0)
	p.phase = phaseIdle

	for {
		if err := ctx.Err(); err != nil {
			return state, processed, err
		}

		p.phase = phaseFetching
		batch, err := fetch(ctx, start, p.batchSize)
		if err != nil {
			ferr := &FetchError{PartitionID: p.partition, StreamID: p.stream, Err: err}
			p.logger.Warn("abandoning exhausted source after fetch failure",
				"run_id", p.runID, "partition", p.partition, "stream", p.stream, "error", err)
			p.emit(NewEngineEvent(KindFetchFailed, p.runID).
				WithPartition(p.partition).
				WithStream(p.stream).
				WithElapsed(p.now().Sub(p.runStart)).
				WithPayload("error", ferr.Error()))
			p.phase = phaseDone
			return state, processed, nil
		}
		if len(batch.Events) == 0 {
			p.phase = phaseDone
			return state, processed, nil
		}

		p.phase = phaseExecuting
		applied := 0
		for _, ev := range batch.Events {
			if err := ctx.Err(); err != nil {
				if applied > 0 && onBatch != nil {
					onBatch(state, applied)
				}
				return state, processed, err
			}

			next, err := p.runner.Invoke(state, ev.AsValue(), p.timeLimit)
			if err != nil {
				p.logger.Warn("script fault, event skipped",
					"run_id", p.runID, "event_id", ev.EventID, "error", err)
				p.emit(NewEngineEvent(KindEventSkipped, p.runID).
					WithPartition(p.partition).
					WithStream(p.stream).
					WithElapsed(p.now().Sub(p.runStart)).
					WithPayload("event_id", ev.EventID).
					WithPayload("error", err.Error()))
			} else {
				state = next
			}
			// Skipped events still count, so the processed counter stays
			// consistent with cursor advancement.
			processed++
			applied++
		}

		p.emit(NewEngineEvent(KindBatchApplied, p.runID).
			WithPartition(p.partition).
			WithStream(p.stream).
			WithElapsed(p.now().Sub(p.runStart)).
			WithPayload("count", applied))
		if onBatch != nil {
			onBatch(state, applied)
		}

		start = position(batch.Events[len(batch.Events)-1]) + 1
		if !batch.HasMore {
			p.phase = phaseDone
			return state, processed, nil
		}
	}
}
