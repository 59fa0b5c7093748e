package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	inspector "github.com/sierra-db/sierradb-inspector"
	"github.com/sierra-db/sierradb-inspector/sandbox"
	"github.com/sierra-db/sierradb-inspector/store"
)

// NewDebugCmd creates the "debug" subcommand: an interactive session that
// steps a script through a sampled slice of the store one event at a time.
func NewDebugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug <script.lua>",
		Short: "Step a projection script through sampled events interactively",
		Args:  cobra.ExactArgs(1),
		RunE:  runDebug,
	}

	cmd.Flags().String("store", "", "Event database path")
	cmd.Flags().String("config", "", "Path to config file")
	cmd.Flags().String("stream", "", "Sample a single stream instead of partitions")
	cmd.Flags().StringP("initial-state", "i", "", "Initial state as inline JSON")
	cmd.Flags().Int("sample-cap", 0, "Max events to materialize for the session")

	return cmd
}

func runDebug(cmd *cobra.Command, args []string) error {
	script, err := readScript(args[0])
	if err != nil {
		return err
	}

	cfg, err := resolveConfig(cmd)
	if err != nil {
		return exitError(exitInputParse, "%v", err)
	}
	if cfg.Store == "" {
		return exitError(exitStore, "no event store configured (use --store or a config file)")
	}

	initial, err := readInitialState(cmd)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(store.SQLiteConfig{DSN: cfg.Store})
	if err != nil {
		return exitError(exitStore, "opening event store: %v", err)
	}
	defer st.Close()

	mgr, err := inspector.NewDebugManager(inspector.DebugManagerOptions{
		Source:    st,
		NewRunner: sandbox.Factory(sandbox.Config{}),
		SampleCap: cfg.SampleCap,
		BatchSize: cfg.BatchSize,
	})
	if err != nil {
		return exitError(exitRun, "%v", err)
	}
	defer mgr.Close()

	streamID, _ := cmd.Flags().GetString("stream")
	session, err := mgr.CreateSession(cmd.Context(), script, initial, streamID)
	if err != nil {
		var compileErr *inspector.CompileError
		if errors.As(err, &compileErr) {
			return exitError(exitCompile, "script rejected: %v", compileErr)
		}
		return exitError(exitRun, "creating session: %v", err)
	}
	defer func() { _ = mgr.DestroySession(session.ID) }()

	snap := session.Snapshot()
	fmt.Fprintf(cmd.OutOrStdout(), "session %s: %d events sampled\n", snap.ID, snap.SampleSize)
	fmt.Fprintln(cmd.OutOrStdout(), "commands: step [n], state, logs, reset, quit")

	return debugLoop(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), mgr, session)
}

func debugLoop(ctx context.Context, in io.Reader, out io.Writer, mgr *inspector.DebugManager, session *inspector.DebugSession) error {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "step", "s":
			n := 1
			if len(fields) > 1 {
				parsed, err := strconv.Atoi(fields[1])
				if err != nil || parsed < 1 {
					fmt.Fprintln(out, "usage: step [n]")
					continue
				}
				n = parsed
			}
			stepN(ctx, out, mgr, session.ID, n)

		case "state":
			snap := session.Snapshot()
			printJSON(out, inspector.SanitizeState(snap.State))

		case "logs":
			snap := session.Snapshot()
			if len(snap.Logs) == 0 {
				fmt.Fprintln(out, "(no output)")
				continue
			}
			for _, line := range snap.Logs {
				fmt.Fprintln(out, line)
			}

		case "reset", "r":
			if err := mgr.Reset(session.ID); err != nil {
				fmt.Fprintf(out, "reset: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "session rewound to event 0")

		case "quit", "q", "exit":
			return nil

		default:
			fmt.Fprintf(out, "unknown command %q\n", fields[0])
		}
	}
}

func stepN(ctx context.Context, out io.Writer, mgr *inspector.DebugManager, sessionID string, n int) {
	for i := 0; i < n; i++ {
		res, err := mgr.Step(ctx, sessionID)
		if err != nil {
			if errors.Is(err, inspector.ErrSessionComplete) {
				fmt.Fprintln(out, "all sampled events consumed")
				return
			}
			fmt.Fprintf(out, "step: %v\n", err)
			return
		}

		fmt.Fprintf(out, "[%d] %s (stream %s, version %d)\n",
			res.Index, res.Event.EventName, res.Event.StreamID, res.Event.StreamVersion)
		for _, line := range res.Logs {
			fmt.Fprintf(out, "  | %s\n", line)
		}
		if len(res.ChangedKeys) > 0 {
			fmt.Fprintf(out, "  changed: %s\n", strings.Join(res.ChangedKeys, ", "))
		}
		printJSON(out, inspector.SanitizeState(res.State))

		if res.Status == inspector.SessionCompleted {
			fmt.Fprintln(out, "all sampled events consumed")
			return
		}
	}
}

func printJSON(out io.Writer, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(out, "marshal state: %v\n", err)
		return
	}
	fmt.Fprintln(out, string(data))
}
