package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	inspector "github.com/sierra-db/sierradb-inspector"
	inspectorotel "github.com/sierra-db/sierradb-inspector/otel"
	"github.com/sierra-db/sierradb-inspector/sandbox"
	"github.com/sierra-db/sierradb-inspector/store"
)

// Exit codes returned to the shell.
const (
	exitSuccess      = 0
	exitCompile      = 1
	exitRun          = 2
	exitFileNotFound = 3
	exitInputParse   = 4
	exitStore        = 5
	exitCanceled     = 10
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <script.lua>",
		Short: "Run a projection script over the event store",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().String("store", "", "Event database path (or ':memory:')")
	cmd.Flags().String("config", "", "Path to config file")
	cmd.Flags().String("stream", "", "Project a single stream instead of all partitions")
	cmd.Flags().StringP("initial-state", "i", "", "Initial state as inline JSON")
	cmd.Flags().StringP("initial-state-file", "f", "", "Initial state from a JSON file")
	cmd.Flags().StringP("output", "o", "", "Write final state to file (default: stdout)")
	cmd.Flags().Int("concurrency", 0, "Max partitions processed in parallel")
	cmd.Flags().Int("batch-size", 0, "Event fetch page size")
	cmd.Flags().Duration("timeout", 0, "Abort the run after this duration (0 = no limit)")
	cmd.Flags().Bool("quiet", false, "Suppress progress output")
	cmd.Flags().String("trace", "", "OTLP/HTTP collector endpoint for tracing")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cancel context.CancelFunc
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var handler inspector.EventHandler
	if cfg.TraceEndpoint != "" {
		tracer, shutdown, terr := setupTracing(ctx, cfg.TraceEndpoint)
		if terr != nil {
			return exitError(exitRun, "setting up tracing: %v", terr)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = shutdown(sctx)
		}()
		handler = inspectorotel.NewTracingHandler(tracer).Handle
	}

	st, err := store.NewSQLiteStore(store.SQLiteConfig{DSN: cfg.Store})
	if err != nil {
		return exitError(exitStore, "opening event store: %v", err)
	}
	defer st.Close()

	eng, err := inspector.New(inspector.Options{
		Source:         st,
		NewRunner:      sandbox.Factory(sandbox.Config{}),
		MaxConcurrency: cfg.Concurrency,
		BatchSize:      cfg.BatchSize,
		EventHandler:   handler,
	})
	if err != nil {
		return exitError(exitRun, "%v", err)
	}
	defer eng.Dispose()

	streamID, _ := cmd.Flags().GetString("stream")
	quiet, _ := cmd.Flags().GetBool("quiet")

	var onProgress inspector.ProgressHandler
	if !quiet {
		onProgress = progressWriter(cmd.ErrOrStderr())
	}

	state, err := eng.Run(ctx, inspector.RunRequest{
		Script:       script,
		InitialState: initial,
		StreamID:     streamID,
		OnProgress:   onProgress,
	})
	if err != nil {
		return runError(err)
	}

	return writeState(cmd, state)
}

// progressWriter returns a handler that streams progress as JSON lines.
func progressWriter(w io.Writer) inspector.ProgressHandler {
	enc := json.NewEncoder(w)
	return func(p inspector.Progress) {
		_ = enc.Encode(p)
	}
}

func runError(err error) error {
	var compileErr *inspector.CompileError
	if errors.As(err, &compileErr) {
		return exitError(exitCompile, "script rejected: %v", compileErr)
	}
	if errors.Is(err, inspector.ErrRunCanceled) {
		return exitError(exitCanceled, "run aborted: %v", err)
	}
	return exitError(exitRun, "run failed: %v", err)
}

func readScript(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from user CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			return "", exitError(exitFileNotFound, "script not found: %s", path)
		}
		return "", exitError(exitFileNotFound, "reading script: %v", err)
	}
	return string(data), nil
}

// resolveConfig merges flag values over the discovered config file.
func resolveConfig(cmd *cobra.Command) (Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadDiscoveredConfig(configPath)
	if err != nil {
		return Config{}, err
	}

	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.Store = v
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.BatchSize, _ = cmd.Flags().GetInt("batch-size")
	}
	if cmd.Flags().Changed("partitions") {
		cfg.Partitions, _ = cmd.Flags().GetInt("partitions")
	}
	if cmd.Flags().Changed("sample-cap") {
		cfg.SampleCap, _ = cmd.Flags().GetInt("sample-cap")
	}
	if v, _ := cmd.Flags().GetString("trace"); v != "" {
		cfg.TraceEndpoint = v
	}
	return cfg, nil
}

// readInitialState parses --initial-state or --initial-state-file.
func readInitialState(cmd *cobra.Command) (any, error) {
	inline, _ := cmd.Flags().GetString("initial-state")
	file, _ := cmd.Flags().GetString("initial-state-file")

	if inline != "" && file != "" {
		return nil, exitError(exitInputParse, "cannot specify both --initial-state and --initial-state-file")
	}
	if inline == "" && file == "" {
		return nil, nil
	}

	data := []byte(inline)
	if file != "" {
		var err error
		data, err = os.ReadFile(file) // #nosec G304 -- path from user CLI flag
		if err != nil {
			return nil, exitError(exitFileNotFound, "reading initial state file: %v", err)
		}
	}

	var state any
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, exitError(exitInputParse, "parsing initial state JSON: %v", err)
	}
	return state, nil
}

// writeState marshals the final state and writes it to --output or stdout.
func writeState(cmd *cobra.Command, state any) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return exitError(exitRun, "marshaling state: %v", err)
	}

	if outputPath, _ := cmd.Flags().GetString("output"); outputPath != "" {
		if err := os.WriteFile(outputPath, append(data, '\n'), 0600); err != nil {
			return exitError(exitRun, "writing output file: %v", err)
		}
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
