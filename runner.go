package inspector

import "time"

// ScriptRunner is one compiled user script inside an isolated execution
// environment. A runner is not safe for concurrent Invoke; the parallel
// orchestrator gives each worker its own instance.
type ScriptRunner interface {
	// Invoke applies the script's entry point to (state, event) and
	// returns the new state. Values cross the boundary by copy, never by
	// reference. A timeLimit of 0 disables the wall-clock bound; the bulk
	// paths run unbounded for throughput, interactive paths do not.
	// Failures are reported as *RuntimeFault.
	Invoke(state, event any, timeLimit time.Duration) (any, error)

	// DrainLogs returns and clears any console output the script produced
	// since the last drain.
	DrainLogs() []string

	// Dispose releases the sandbox. Idempotent.
	Dispose()
}

// RunnerFactory compiles script text into a fresh ScriptRunner. A script
// that fails to load or lacks the required entry point yields a
// *CompileError.
type RunnerFactory func(script string) (ScriptRunner, error)
