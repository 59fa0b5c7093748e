package inspector

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Tunable defaults. Higher concurrency trades memory and event-store load
// for wall-clock time.
const (
	DefaultMaxConcurrency = 4
	DefaultBatchSize      = 200
)

// Options configures an Engine.
type Options struct {
	// Source is the event store the engine reads through. Required.
	Source EventSource

	// NewRunner compiles scripts into sandboxed runners. Required.
	NewRunner RunnerFactory

	// MaxConcurrency bounds how many partitions are in flight at once.
	// 1 forces strictly sequential processing (default: 4).
	MaxConcurrency int

	// BatchSize is the page size for event fetches (default: 200).
	BatchSize int

	// Logger receives engine diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// EventHandler receives engine events during execution. It may be
	// called from worker goroutines and must be safe for that.
	EventHandler EventHandler

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time
}

// RunRequest describes one projection run.
type RunRequest struct {
	// Script is the user-supplied projection source text.
	Script string

	// InitialState seeds the accumulated state. May be nil.
	InitialState any

	// StreamID, when set, targets a single stream instead of all
	// partitions.
	StreamID string

	// OnProgress receives a progress payload after every applied batch
	// (sequential and stream runs) and after every partition merge
	// (parallel runs), plus one terminal payload.
	OnProgress ProgressHandler
}

// Engine executes projection runs against an event source.
//
// Sequential and stream runs reuse one cached runner per script, so the
// compile cost is amortized across runs; because a runner is not safe for
// concurrent use, at most one such run may be active per Engine at a time.
// Parallel runs create a fresh runner per worker and are unaffected.
type Engine struct {
	opts    Options
	eventCh chan EngineEvent

	mu       sync.Mutex
	cached   map[string]ScriptRunner
	disposed bool
}

// New creates an Engine. Source and NewRunner are required.
func New(opts Options) (*Engine, error) {
	if opts.Source == nil {
		return nil, errors.New("engine: event source is required")
	}
	if opts.NewRunner == nil {
		return nil, errors.New("engine: runner factory is required")
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		opts:    opts,
		eventCh: make(chan EngineEvent, 100),
		cached:  make(map[string]ScriptRunner),
	}, nil
}

// Events returns a channel of engine events. Events are dropped rather
// than blocking when no one is draining the channel.
func (e *Engine) Events() <-chan EngineEvent {
	return e.eventCh
}

// runContext carries per-run bookkeeping shared by the dispatch paths.
type runContext struct {
	runID          string
	start          time.Time
	now            func() time.Time
	emit           EventEmitter
	onProgress     ProgressHandler
	total          int
	partitionsDone int
	processed      int
}

func (rc *runContext) report(status Status, state any, errMsg string) {
	if rc.onProgress == nil {
		return
	}
	rc.onProgress(Progress{
		CurrentPartition: rc.partitionsDone,
		TotalPartitions:  rc.total,
		EventsProcessed:  rc.processed,
		CurrentState:     SanitizeState(state),
		Status:           status,
		Error:            errMsg,
	})
}

// Run executes one projection run and returns the final state.
//
// Cancellation is cooperative: the context is polled before each fetch and
// before each event, in-flight sandbox invocations are not killed, and the
// state accumulated up to the last fully applied event is both reported to
// the progress sink and returned alongside ErrRunCanceled.
func (e *Engine) Run(ctx context.Context, req RunRequest) (any, error) {
	e.mu.Lock()
	disposed := e.disposed
	e.mu.Unlock()
	if disposed {
		return nil, ErrEngineDisposed
	}

	rc := &runContext{
		runID:      newRunID(),
		start:      e.opts.Now(),
		now:        e.opts.Now,
		emit:       e.emitter(),
		onProgress: req.OnProgress,
	}

	rc.emit(NewEngineEvent(KindRunStarted, rc.runID).
		WithStream(req.StreamID).
		WithPayload("parallel", req.StreamID == "" && e.opts.MaxConcurrency > 1))

	state, err := e.dispatch(ctx, req, rc)
	elapsed := rc.now().Sub(rc.start)

	switch {
	case err == nil:
		rc.partitionsDone = rc.total
		rc.report(StatusCompleted, state, "")
		rc.emit(NewEngineEvent(KindRunFinished, rc.runID).
			WithElapsed(elapsed).
			WithPayload("status", string(StatusCompleted)).
			WithPayload("events_processed", rc.processed))
		return state, nil

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Advisory abort: deliver the truncation point without forcing a
		// terminal status onto it.
		rc.report(StatusRunning, state, "")
		rc.emit(NewEngineEvent(KindRunFinished, rc.runID).
			WithElapsed(elapsed).
			WithPayload("status", "canceled").
			WithPayload("events_processed", rc.processed))
		return state, fmt.Errorf("%w: %v", ErrRunCanceled, err)

	default:
		rc.report(StatusError, state, err.Error())
		rc.emit(NewEngineEvent(KindRunFinished, rc.runID).
			WithElapsed(elapsed).
			WithPayload("status", string(StatusError)).
			WithPayload("error", err.Error()))
		return state, err
	}
}

func (e *Engine) dispatch(ctx context.Context, req RunRequest, rc *runContext) (any, error) {
	if req.StreamID != "" {
		return e.runStream(ctx, req, rc)
	}

	total, err := e.opts.Source.PartitionCount(ctx)
	if err != nil {
		return req.InitialState, fmt.Errorf("partition count: %w", err)
	}
	rc.total = total

	if e.opts.MaxConcurrency > 1 {
		return e.runParallel(ctx, req, rc)
	}
	return e.runSequential(ctx, req, rc)
}

// runStream processes a single stream sequentially.
func (e *Engine) runStream(ctx context.Context, req RunRequest, rc *runContext) (any, error) {
	rc.total = 1

	runner, err := e.sharedRunner(req.Script)
	if err != nil {
		return req.InitialState, err
	}

	rc.emit(NewEngineEvent(KindPartitionStarted, rc.runID).
		WithStream(req.StreamID).
		WithElapsed(rc.now().Sub(rc.start)))

	proc := e.newProcessor(runner, rc, -1, req.StreamID)
	fetch := func(ctx context.Context, start uint64, maxCount int) (Batch, error) {
		return e.opts.Source.ScanStream(ctx, req.StreamID, start, EndOfRange, maxCount)
	}
	state, _, err := proc.run(ctx, fetch, streamPosition, req.InitialState,
		func(state any, applied int) {
			rc.processed += applied
			rc.report(StatusRunning, state, "")
		})
	if err != nil {
		return state, err
	}
	rc.partitionsDone = 1
	e.checkDiscrepancy(rc, state)
	return state, nil
}

// runSequential threads one state through every partition in order,
// sharing a single runner.
func (e *Engine) runSequential(ctx context.Context, req RunRequest, rc *runContext) (any, error) {
	runner, err := e.sharedRunner(req.Script)
	if err != nil {
		return req.InitialState, err
	}

	state := req.InitialState
	for pid := 0; pid < rc.total; pid++ {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		rc.emit(NewEngineEvent(KindPartitionStarted, rc.runID).
			WithPartition(pid).
			WithElapsed(rc.now().Sub(rc.start)))

		proc := e.newProcessor(runner, rc, pid, "")
		next, count, err := proc.run(ctx, e.partitionFetch(pid), partitionPosition, state,
			func(state any, applied int) {
				rc.processed += applied
				rc.report(StatusRunning, state, "")
			})
		state = next
		if err != nil {
			return state, err
		}

		rc.partitionsDone = pid + 1
		rc.emit(NewEngineEvent(KindPartitionMerged, rc.runID).
			WithPartition(pid).
			WithElapsed(rc.now().Sub(rc.start)).
			WithPayload("count", count))
	}
	e.checkDiscrepancy(rc, state)
	return state, nil
}

type partitionResult struct {
	state any
	count int
	err   error
}

// runParallel fans partitions out in concurrency-bounded groups. Each
// worker gets a fresh runner and a nil initial state; partitions never
// share intermediate state. After the group joins, partition results are
// merged into the global state in dispatch order, so merges are
// reproducible given the same partition assignment.
func (e *Engine) runParallel(ctx context.Context, req RunRequest, rc *runContext) (any, error) {
	// Compile once up front so a bad script fails before any fetch.
	probe, err := e.opts.NewRunner(req.Script)
	if err != nil {
		return req.InitialState, err
	}
	probe.Dispose()

	global := req.InitialState
	for groupStart := 0; groupStart < rc.total; groupStart += e.opts.MaxConcurrency {
		if err := ctx.Err(); err != nil {
			return global, err
		}
		groupEnd := min(groupStart+e.opts.MaxConcurrency, rc.total)

		results := make([]partitionResult, groupEnd-groupStart)
		var wg sync.WaitGroup
		for pid := groupStart; pid < groupEnd; pid++ {
			wg.Add(1)
			go func(pid int) {
				defer wg.Done()
				runner, err := e.opts.NewRunner(req.Script)
				if err != nil {
					results[pid-groupStart] = partitionResult{err: err}
					return
				}
				defer runner.Dispose()

				rc.emit(NewEngineEvent(KindPartitionStarted, rc.runID).
					WithPartition(pid).
					WithElapsed(rc.now().Sub(rc.start)))

				proc := e.newProcessor(runner, rc, pid, "")
				state, count, err := proc.run(ctx, e.partitionFetch(pid), partitionPosition, nil, nil)
				results[pid-groupStart] = partitionResult{state: state, count: count, err: err}
			}(pid)
		}
		wg.Wait()

		for i, res := range results {
			pid := groupStart + i
			if res.err != nil && !errors.Is(res.err, context.Canceled) && !errors.Is(res.err, context.DeadlineExceeded) {
				// Runner creation failed mid-run; best effort, skip the
				// partition like an exhausted one.
				e.opts.Logger.Warn("skipping partition, worker setup failed",
					"run_id", rc.runID, "partition", pid, "error", res.err)
				rc.partitionsDone = pid + 1
				continue
			}

			global = MergeStates(global, res.state)
			rc.processed += res.count
			rc.partitionsDone = pid + 1
			rc.emit(NewEngineEvent(KindPartitionMerged, rc.runID).
				WithPartition(pid).
				WithElapsed(rc.now().Sub(rc.start)).
				WithPayload("count", res.count))
			rc.report(StatusRunning, global, "")
		}

		if err := ctx.Err(); err != nil {
			return global, err
		}
	}
	e.checkDiscrepancy(rc, global)
	return global, nil
}

func (e *Engine) newProcessor(runner ScriptRunner, rc *runContext, partition int, stream string) *processor {
	return &processor{
		runner:    runner,
		batchSize: e.opts.BatchSize,
		logger:    e.opts.Logger,
		emit:      rc.emit,
		runID:     rc.runID,
		runStart:  rc.start,
		now:       rc.now,
		partition: partition,
		stream:    stream,
	}
}

func (e *Engine) partitionFetch(pid int) batchFunc {
	return func(ctx context.Context, start uint64, maxCount int) (Batch, error) {
		return e.opts.Source.ScanPartition(ctx, pid, start, EndOfRange, maxCount)
	}
}

func partitionPosition(ev Event) uint64 { return ev.PartitionSequence }
func streamPosition(ev Event) uint64    { return ev.StreamVersion }

// checkDiscrepancy compares a user-tracked eventCount against the engine's
// own counter. Diagnostic only; it never changes control flow.
func (e *Engine) checkDiscrepancy(rc *runContext, state any) {
	if ec, ok := stateEventCount(state); ok && int(ec) != rc.processed {
		e.opts.Logger.Debug("state eventCount diverges from engine counter",
			"run_id", rc.runID, "state_count", ec, "engine_count", rc.processed)
	}
}

// sharedRunner returns the cached runner for a script, compiling it on
// first use.
func (e *Engine) sharedRunner(script string) (ScriptRunner, error) {
	key := fmt.Sprintf("%x", sha256.Sum256([]byte(script)))

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return nil, ErrEngineDisposed
	}
	if r, ok := e.cached[key]; ok {
		return r, nil
	}
	r, err := e.opts.NewRunner(script)
	if err != nil {
		return nil, err
	}
	e.cached[key] = r
	return r, nil
}

// Dispose releases all cached runners. Idempotent; Run fails with
// ErrEngineDisposed afterwards.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	e.disposed = true
	for _, r := range e.cached {
		r.Dispose()
	}
	e.cached = nil
}

func (e *Engine) emitter() EventEmitter {
	return func(ev EngineEvent) {
		if e.opts.EventHandler != nil {
			e.opts.EventHandler(ev)
		}
		select {
		case e.eventCh <- ev:
		default:
			// Drop when no one is draining.
		}
	}
}

// newRunID creates a unique run identifier.
func newRunID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
