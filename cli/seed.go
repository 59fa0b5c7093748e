package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sierra-db/sierradb-inspector/store"
)

// seedRecord is one line of seed input.
type seedRecord struct {
	StreamID  string `json:"stream_id"`
	EventName string `json:"event_name"`
	Metadata  any    `json:"metadata,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// NewSeedCmd creates the "seed" subcommand. It loads JSON-lines event
// exports into a local event database so scripts can be developed against
// real data.
func NewSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <events.jsonl>",
		Short: "Load a JSON-lines event export into the event database",
		Args:  cobra.ExactArgs(1),
		RunE:  runSeed,
	}

	cmd.Flags().String("store", "", "Event database path")
	cmd.Flags().String("config", "", "Path to config file")
	cmd.Flags().Int("partitions", 0, "Partition count when creating a new store")

	return cmd
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return exitError(exitInputParse, "%v", err)
	}
	if cfg.Store == "" {
		return exitError(exitStore, "no event store configured (use --store or a config file)")
	}

	f, err := os.Open(args[0]) // #nosec G304 -- path from user CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			return exitError(exitFileNotFound, "events file not found: %s", args[0])
		}
		return exitError(exitFileNotFound, "opening events file: %v", err)
	}
	defer f.Close()

	st, err := store.NewSQLiteStore(store.SQLiteConfig{
		DSN:        cfg.Store,
		Partitions: cfg.Partitions,
	})
	if err != nil {
		return exitError(exitStore, "opening event store: %v", err)
	}
	defer st.Close()

	count, err := seedEvents(cmd, st, f)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d events into %s\n", count, cfg.Store)
	return nil
}

func seedEvents(cmd *cobra.Command, st *store.SQLiteStore, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	// Payloads can be large; the default token limit is too small.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	count := 0
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec seedRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return count, exitError(exitInputParse, "line %d: %v", line, err)
		}
		if rec.StreamID == "" || rec.EventName == "" {
			return count, exitError(exitInputParse, "line %d: stream_id and event_name are required", line)
		}

		if _, err := st.Append(cmd.Context(), rec.StreamID, rec.EventName, rec.Metadata, rec.Payload); err != nil {
			return count, exitError(exitStore, "line %d: appending event: %v", line, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, exitError(exitInputParse, "reading events file: %v", err)
	}
	return count, nil
}
