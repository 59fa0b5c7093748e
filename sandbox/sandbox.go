// Package sandbox executes untrusted projection scripts inside an embedded
// Lua virtual machine with a serialized value boundary: every state and
// event crosses in and out by copy, never by reference, so scripts cannot
// hold live handles into host memory.
package sandbox

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Shopify/go-lua"

	inspector "github.com/sierra-db/sierradb-inspector"
)

// EntryPoint is the global function every projection script must define,
// taking exactly (state, event) and returning the next state.
const EntryPoint = "project"

// Defaults for the boundary ceilings.
const (
	DefaultMaxValueNodes = 100_000
	DefaultMaxDepth      = 32
	DefaultMaxLogLines   = 256
)

// Globals removed before attacker-controlled code runs. The VM is pure Go,
// but the Lua stdlib still reaches the filesystem through these.
var strippedGlobals = []string{
	"os", "io", "package", "require", "dofile", "loadfile", "load", "loadstring",
}

// Config bounds one sandbox instance.
type Config struct {
	// MaxValueNodes caps how many nodes a single state value may carry
	// across the boundary (default: 100000). This is the hard ceiling
	// that keeps a runaway script from returning an unbounded state.
	MaxValueNodes int

	// MaxDepth caps value nesting (default: 32).
	MaxDepth int

	// MaxLogLines caps the captured console ring (default: 256).
	MaxLogLines int
}

func (c Config) withDefaults() Config {
	if c.MaxValueNodes <= 0 {
		c.MaxValueNodes = DefaultMaxValueNodes
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.MaxLogLines <= 0 {
		c.MaxLogLines = DefaultMaxLogLines
	}
	return c
}

// Sandbox is one isolated Lua VM holding one compiled script. It satisfies
// inspector.ScriptRunner. Not safe for concurrent Invoke: concurrent
// workers each create their own instance.
type Sandbox struct {
	cfg Config

	l        *lua.State
	compiled bool

	// poisoned is set when a timed-out invocation may still be running in
	// the VM; the state can never be touched again after that.
	poisoned bool

	mu       sync.Mutex
	logs     []string
	disposed bool
}

// New creates an empty sandbox. Compile must be called before Invoke.
func New(cfg Config) *Sandbox {
	s := &Sandbox{cfg: cfg.withDefaults()}
	s.l = lua.NewState()
	lua.OpenLibraries(s.l)
	s.installConsole()
	s.strip(strippedGlobals...)
	return s
}

// Factory returns an inspector.RunnerFactory producing one fresh sandbox
// per script.
func Factory(cfg Config) inspector.RunnerFactory {
	return func(script string) (inspector.ScriptRunner, error) {
		s := New(cfg)
		if err := s.Compile(script); err != nil {
			s.Dispose()
			return nil, err
		}
		return s, nil
	}
}

// Compile loads and runs the script chunk, then introspects the resulting
// globals: the chunk must define a function named "project" taking exactly
// two parameters. Failure yields *inspector.CompileError.
func (s *Sandbox) Compile(script string) error {
	if s.disposed {
		return &inspector.CompileError{Detail: "sandbox is disposed"}
	}
	if s.compiled {
		return &inspector.CompileError{Detail: "sandbox already holds a script"}
	}

	top := s.l.Top()
	if err := lua.DoString(s.l, script); err != nil {
		s.l.SetTop(top)
		return &inspector.CompileError{Detail: err.Error()}
	}
	s.l.SetTop(top)

	s.l.Global(EntryPoint)
	isFunc := s.l.TypeOf(-1) == lua.TypeFunction
	s.l.Pop(1)
	if !isFunc {
		return &inspector.CompileError{
			Detail: fmt.Sprintf("script must define a function %s(state, event)", EntryPoint),
		}
	}

	if err := s.checkArity(); err != nil {
		return err
	}

	// The debug library stays available for arity introspection only.
	s.strip("debug")
	s.compiled = true
	return nil
}

// checkArity asks the Lua debug library for the entry point's parameter
// count. When introspection is unavailable the check degrades to the
// function-presence test above.
func (s *Sandbox) checkArity() error {
	top := s.l.Top()
	defer s.l.SetTop(top)

	probe := fmt.Sprintf(`
		local ok, info = pcall(function() return debug.getinfo(%s, "u") end)
		if not ok or info == nil or info.nparams == nil then return -1, false end
		return info.nparams, info.isvararg and true or false
	`, EntryPoint)
	if err := lua.DoString(s.l, probe); err != nil {
		return nil
	}
	if s.l.Top() < top+2 {
		return nil
	}

	nparams, _ := s.l.ToNumber(-2)
	vararg := s.l.ToBoolean(-1)
	if nparams < 0 {
		return nil
	}
	if int(nparams) != 2 || vararg {
		return &inspector.CompileError{
			Detail: fmt.Sprintf("%s must take exactly (state, event), got %d parameter(s)", EntryPoint, int(nparams)),
		}
	}
	return nil
}

// Invoke applies the compiled entry point to (state, event) and returns
// the new state as a fresh value tree.
//
// timeLimit > 0 enforces a wall-clock bound: on expiry the invocation is
// abandoned, a time-limit fault is returned, and the sandbox is poisoned
// for good, since the VM cannot be shared with the still-running chunk.
// Bulk paths pass 0 and run unbounded, trading safety for throughput.
func (s *Sandbox) Invoke(state, event any, timeLimit time.Duration) (any, error) {
	if s.disposed {
		return nil, &inspector.RuntimeFault{Kind: inspector.FaultScript, Detail: "sandbox is disposed"}
	}
	if s.poisoned {
		return nil, &inspector.RuntimeFault{Kind: inspector.FaultTimeLimit, Detail: "sandbox poisoned by an earlier timeout"}
	}
	if !s.compiled {
		return nil, &inspector.RuntimeFault{Kind: inspector.FaultScript, Detail: "no compiled script"}
	}

	if timeLimit <= 0 {
		return s.call(state, event)
	}

	type outcome struct {
		state any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		st, err := s.call(state, event)
		done <- outcome{state: st, err: err}
	}()

	timer := time.NewTimer(timeLimit)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.state, out.err
	case <-timer.C:
		s.poisoned = true
		return nil, &inspector.RuntimeFault{
			Kind:   inspector.FaultTimeLimit,
			Detail: fmt.Sprintf("invocation exceeded %s", timeLimit),
		}
	}
}

func (s *Sandbox) call(state, event any) (result any, err error) {
	l := s.l
	top := l.Top()
	defer func() {
		if r := recover(); r != nil {
			l.SetTop(top)
			result = nil
			err = &inspector.RuntimeFault{Kind: inspector.FaultScript, Detail: fmt.Sprintf("%v", r)}
		}
	}()

	l.Global(EntryPoint)
	if err := pushValue(l, state, 0, s.cfg.MaxDepth); err != nil {
		l.SetTop(top)
		return nil, s.boundaryFault(err)
	}
	if err := pushValue(l, event, 0, s.cfg.MaxDepth); err != nil {
		l.SetTop(top)
		return nil, s.boundaryFault(err)
	}

	if err := l.ProtectedCall(2, 1, 0); err != nil {
		l.SetTop(top)
		return nil, &inspector.RuntimeFault{Kind: inspector.FaultScript, Detail: err.Error()}
	}

	budget := s.cfg.MaxValueNodes
	out, err := pullValue(l, -1, &budget, 0, s.cfg.MaxDepth)
	l.SetTop(top)
	if err != nil {
		return nil, s.boundaryFault(err)
	}
	return out, nil
}

func (s *Sandbox) boundaryFault(err error) error {
	kind := inspector.FaultValueLimit
	if !strings.Contains(err.Error(), "ceiling") {
		kind = inspector.FaultScript
	}
	return &inspector.RuntimeFault{Kind: kind, Detail: err.Error()}
}

// DrainLogs returns and clears the captured console output.
func (s *Sandbox) DrainLogs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.logs
	s.logs = nil
	return out
}

// Dispose drops the VM so its memory can be reclaimed. Idempotent.
func (s *Sandbox) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	s.compiled = false
	s.logs = nil
}

// installConsole replaces print with a capture into the in-memory ring;
// a "log" alias matches what projection scripts conventionally call.
// Nothing a script prints ever reaches the host's stdout.
func (s *Sandbox) installConsole() {
	capture := func(l *lua.State) int {
		n := l.Top()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, displayValue(l, i, s.cfg.MaxDepth))
		}
		s.appendLog(strings.Join(parts, "\t"))
		return 0
	}
	s.l.Register("print", capture)
	s.l.Register("log", capture)
}

func (s *Sandbox) appendLog(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, line)
	if overflow := len(s.logs) - s.cfg.MaxLogLines; overflow > 0 {
		s.logs = s.logs[overflow:]
	}
}

func (s *Sandbox) strip(names ...string) {
	for _, name := range names {
		s.l.PushNil()
		s.l.SetGlobal(name)
	}
}

// Interface check against the engine contract.
var _ inspector.ScriptRunner = (*Sandbox)(nil)
