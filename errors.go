package inspector

import (
	"errors"
	"fmt"
)

// Engine errors.
var (
	ErrEngineDisposed  = errors.New("engine has been disposed")
	ErrRunCanceled     = errors.New("run was canceled")
	ErrSessionNotFound = errors.New("debug session not found")
	ErrSessionComplete = errors.New("debug session has consumed all events")
	ErrManagerClosed   = errors.New("debug manager is closed")
)

// CompileError means the user script failed to load or does not define the
// required entry point. It is fatal to the whole run; no events are processed.
type CompileError struct {
	Detail string
}

func (e *CompileError) Error() string {
	return "compile script: " + e.Detail
}

// FaultKind classifies a RuntimeFault.
type FaultKind string

const (
	// FaultScript is an uncaught error raised by the script itself.
	FaultScript FaultKind = "script_error"

	// FaultTimeLimit means the invocation exceeded its wall-clock limit.
	FaultTimeLimit FaultKind = "time_limit"

	// FaultValueLimit means a value crossing the sandbox boundary exceeded
	// the size or depth ceiling.
	FaultValueLimit FaultKind = "value_limit"
)

// RuntimeFault is a per-event execution failure inside the sandbox.
// The engine recovers locally: state is left unchanged and the run
// continues with the next event.
type RuntimeFault struct {
	Kind   FaultKind
	Detail string
}

func (e *RuntimeFault) Error() string {
	return fmt.Sprintf("script fault (%s): %s", e.Kind, e.Detail)
}

// FetchError means the event source failed to return a batch. The affected
// partition or stream is treated as exhausted; there are no retries.
type FetchError struct {
	PartitionID int
	StreamID    string
	Err         error
}

func (e *FetchError) Error() string {
	if e.StreamID != "" {
		return fmt.Sprintf("fetch stream %s: %v", e.StreamID, e.Err)
	}
	return fmt.Sprintf("fetch partition %d: %v", e.PartitionID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
