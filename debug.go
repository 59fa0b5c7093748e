package inspector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Debug session defaults.
const (
	DefaultSampleCap     = 1000
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultStepTimeLimit = 5 * time.Second

	// sweepSchedule is how often idle sessions are collected.
	sweepSchedule = "*/5 * * * *"

	// sampleSweepPartitions bounds the initial partition sweep when a
	// session targets the whole store; sampleRandomProbes is how many
	// extra random partitions are tried when the sweep comes up empty.
	// A heuristic for sparse test data, not a guarantee of finding events.
	sampleSweepPartitions = 16
	sampleRandomProbes    = 4

	sessionLogCap = 500
)

// SessionStatus is the lifecycle state of a debug session.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// DebugSession holds a materialized, bounded event sample and a dedicated
// sandbox, advanced one event at a time. Unlike a projection run it stays
// alive between calls, until destroyed or collected by the idle sweep.
type DebugSession struct {
	ID string

	mu         sync.Mutex
	runner     ScriptRunner
	events     []Event
	stepIndex  int
	initial    any
	prev       any
	current    any
	logs       []string
	status     SessionStatus
	errMsg     string
	lastAccess time.Time
	destroyed  bool
}

// SessionSnapshot is a point-in-time view of a session.
type SessionSnapshot struct {
	ID         string
	StepIndex  int
	SampleSize int
	State      any
	PrevState  any
	Logs       []string
	Status     SessionStatus
	Error      string
}

// Snapshot returns a copy of the session's observable state.
func (s *DebugSession) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		ID:         s.ID,
		StepIndex:  s.stepIndex,
		SampleSize: len(s.events),
		State:      CloneValue(s.current),
		PrevState:  CloneValue(s.prev),
		Logs:       append([]string(nil), s.logs...),
		Status:     s.status,
		Error:      s.errMsg,
	}
}

// StepResult describes the outcome of a single debug step.
type StepResult struct {
	SessionID string

	// Index is the number of completed steps after this one.
	Index int

	// Event is the event that was applied.
	Event Event

	// PrevState and State are the before/after pair for this step.
	PrevState any
	State     any

	// ChangedKeys are the top-level keys that differ between the pair.
	ChangedKeys []string

	// Logs are the console lines captured during this step.
	Logs []string

	Status SessionStatus
}

// DebugManagerOptions configures a DebugManager.
type DebugManagerOptions struct {
	// Source supplies the event samples. Required.
	Source EventSource

	// NewRunner compiles session scripts. Required.
	NewRunner RunnerFactory

	// SampleCap bounds how many events a session materializes
	// (default: 1000).
	SampleCap int

	// IdleTimeout is how long an untouched session survives before the
	// background sweep destroys it (default: 30 minutes).
	IdleTimeout time.Duration

	// StepTimeLimit is the per-event wall-clock bound; stepping is an
	// interactive path, so unlike bulk runs it is enforced
	// (default: 5 seconds).
	StepTimeLimit time.Duration

	// BatchSize is the page size used while materializing samples
	// (default: 200).
	BatchSize int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// EventHandler receives session lifecycle events.
	EventHandler EventHandler

	// Now provides the current time (for testing).
	Now func() time.Time
}

// DebugManager owns all live debug sessions and the idle sweep that keeps
// abandoned sandboxes from accumulating.
type DebugManager struct {
	opts DebugManagerOptions
	cron *cron.Cron

	mu       sync.Mutex
	sessions map[string]*DebugSession
	closed   bool
}

// NewDebugManager creates a manager and starts its background sweep.
func NewDebugManager(opts DebugManagerOptions) (*DebugManager, error) {
	if opts.Source == nil {
		return nil, errors.New("debug: event source is required")
	}
	if opts.NewRunner == nil {
		return nil, errors.New("debug: runner factory is required")
	}
	if opts.SampleCap <= 0 {
		opts.SampleCap = DefaultSampleCap
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.StepTimeLimit <= 0 {
		opts.StepTimeLimit = DefaultStepTimeLimit
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

	m := &DebugManager{
		opts:     opts,
		sessions: make(map[string]*DebugSession),
	}
	m.cron = cron.New()
	if _, err := m.cron.AddFunc(sweepSchedule, m.SweepIdle); err != nil {
		return nil, fmt.Errorf("debug: schedule sweep: %w", err)
	}
	m.cron.Start()
	return m, nil
}

// CreateSession compiles the script into a dedicated sandbox and eagerly
// materializes a bounded event sample from the requested stream, or from a
// sweep across partitions when streamID is empty.
func (m *DebugManager) CreateSession(ctx context.Context, script string, initialState any, streamID string) (*DebugSession, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrManagerClosed
	}

	runner, err := m.opts.NewRunner(script)
	if err != nil {
		return nil, err
	}

	events, err := m.sample(ctx, streamID)
	if err != nil {
		runner.Dispose()
		return nil, err
	}

	s := &DebugSession{
		ID:         uuid.NewString(),
		runner:     runner,
		events:     events,
		initial:    CloneValue(initialState),
		current:    CloneValue(initialState),
		status:     SessionIdle,
		lastAccess: m.opts.Now(),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		runner.Dispose()
		return nil, ErrManagerClosed
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.emit(NewEngineEvent(KindSessionCreated, s.ID).
		WithStream(streamID).
		WithPayload("sample_size", len(events)))
	return s, nil
}

// Step executes exactly one event through the session's sandbox.
//
// On a script fault the session transitions to SessionError with the
// message recorded, and the fault is returned; state and step index stay
// where they were. Otherwise the step index advances and the session is
// SessionPaused, or SessionCompleted once the sample is exhausted.
func (m *DebugManager) Step(ctx context.Context, sessionID string) (StepResult, error) {
	s, err := m.session(sessionID)
	if err != nil {
		return StepResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = m.opts.Now()

	if s.destroyed {
		return StepResult{}, ErrSessionNotFound
	}
	if s.status == SessionCompleted || s.stepIndex >= len(s.events) {
		s.status = SessionCompleted
		return StepResult{}, ErrSessionComplete
	}
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}

	ev := s.events[s.stepIndex]
	next, err := s.runner.Invoke(s.current, ev.AsValue(), m.opts.StepTimeLimit)
	stepLogs := s.runner.DrainLogs()
	s.appendLogs(stepLogs)
	if err != nil {
		s.status = SessionError
		s.errMsg = err.Error()
		return StepResult{}, err
	}

	s.prev = s.current
	s.current = next
	s.stepIndex++
	if s.stepIndex >= len(s.events) {
		s.status = SessionCompleted
	} else {
		s.status = SessionPaused
	}

	res := StepResult{
		SessionID:   s.ID,
		Index:       s.stepIndex,
		Event:       ev,
		PrevState:   CloneValue(s.prev),
		State:       CloneValue(s.current),
		ChangedKeys: ChangedKeys(s.prev, s.current),
		Logs:        stepLogs,
		Status:      s.status,
	}

	m.emit(NewEngineEvent(KindSessionStepped, s.ID).
		WithPayload("index", s.stepIndex).
		WithPayload("event_id", ev.EventID).
		WithPayload("status", string(s.status)))
	return res, nil
}

// Reset rewinds a session to its original initial state without
// recompiling the script or reloading events.
func (m *DebugManager) Reset(sessionID string) error {
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrSessionNotFound
	}
	s.lastAccess = m.opts.Now()
	s.stepIndex = 0
	s.prev = nil
	s.current = CloneValue(s.initial)
	s.logs = nil
	s.status = SessionIdle
	s.errMsg = ""
	s.runner.DrainLogs()
	return nil
}

// DestroySession releases the session's sandbox. Idempotent: destroying an
// unknown or already-destroyed session is a no-op.
func (m *DebugManager) DestroySession(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	if !s.destroyed {
		s.destroyed = true
		s.runner.Dispose()
	}
	s.mu.Unlock()

	m.emit(NewEngineEvent(KindSessionDestroyed, sessionID))
	return nil
}

// SweepIdle destroys sessions whose last access exceeds the idle timeout.
// Called on a schedule; exported for tests and manual housekeeping.
func (m *DebugManager) SweepIdle() {
	cutoff := m.opts.Now().Add(-m.opts.IdleTimeout)

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		s.mu.Lock()
		if s.lastAccess.Before(cutoff) {
			expired = append(expired, id)
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.opts.Logger.Info("destroying idle debug session", "session_id", id)
		_ = m.DestroySession(id)
	}
}

// Close stops the sweep and destroys every session. Idempotent.
func (m *DebugManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	m.cron.Stop()
	for _, id := range ids {
		_ = m.DestroySession(id)
	}
}

func (m *DebugManager) session(id string) (*DebugSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *DebugManager) emit(ev EngineEvent) {
	if m.opts.EventHandler != nil {
		m.opts.EventHandler(ev)
	}
}

func (s *DebugSession) appendLogs(lines []string) {
	s.logs = append(s.logs, lines...)
	if overflow := len(s.logs) - sessionLogCap; overflow > 0 {
		s.logs = s.logs[overflow:]
	}
}

// sample materializes up to SampleCap events. For streams it pages through
// the one stream; otherwise it sweeps the first partitions and falls back
// to random probes when the sweep finds nothing.
func (m *DebugManager) sample(ctx context.Context, streamID string) ([]Event, error) {
	if streamID != "" {
		return m.collect(ctx, func(start uint64, max int) (Batch, error) {
			return m.opts.Source.ScanStream(ctx, streamID, start, EndOfRange, max)
		}, streamPosition, nil)
	}

	total, err := m.opts.Source.PartitionCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("partition count: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	var events []Event
	sweep := min(total, sampleSweepPartitions)
	for pid := 0; pid < sweep && len(events) < m.opts.SampleCap; pid++ {
		events, err = m.collectPartition(ctx, pid, events)
		if err != nil {
			return nil, err
		}
	}

	if len(events) == 0 && total > sweep {
		for i := 0; i < sampleRandomProbes && len(events) == 0; i++ {
			pid := sweep + rand.IntN(total-sweep)
			events, err = m.collectPartition(ctx, pid, events)
			if err != nil {
				return nil, err
			}
		}
	}
	return events, nil
}

func (m *DebugManager) collectPartition(ctx context.Context, pid int, events []Event) ([]Event, error) {
	return m.collect(ctx, func(start uint64, max int) (Batch, error) {
		return m.opts.Source.ScanPartition(ctx, pid, start, EndOfRange, max)
	}, partitionPosition, events)
}

func (m *DebugManager) collect(ctx context.Context, fetch func(start uint64, max int) (Batch, error), position func(Event) uint64, events []Event) ([]Event, error) {
	start := uint64(0)
	for len(events) < m.opts.SampleCap {
		if err := ctx.Err(); err != nil {
			return events, err
		}
		page := min(m.opts.BatchSize, m.opts.SampleCap-len(events))
		batch, err := fetch(start, page)
		if err != nil {
			return nil, err
		}
		if len(batch.Events) == 0 {
			break
		}
		events = append(events, batch.Events...)
		start = position(batch.Events[len(batch.Events)-1]) + 1
		if !batch.HasMore {
			break
		}
	}
	return events, nil
}
