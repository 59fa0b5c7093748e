package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	inspector "github.com/sierra-db/sierradb-inspector"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteConfig configures the SQLite event store.
type SQLiteConfig struct {
	// DSN is the database connection string (a file path or ":memory:").
	DSN string

	// Partitions is the partition count used when creating a new store.
	// Ignored when the database already records one (default: 8).
	Partitions int
}

// SQLiteStore is a partitioned event store in a single SQLite database,
// suitable for inspecting exported event data locally. It satisfies
// inspector.EventSource; WAL mode keeps concurrent partition scans cheap.
type SQLiteStore struct {
	db         *sql.DB
	partitions int
}

// NewSQLiteStore opens (or creates) a SQLite event store.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 8
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}

	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}

	// The partition count is fixed at creation; later opens read it back
	// so hashes keep landing in the same partitions.
	if _, err := db.Exec(
		`INSERT OR IGNORE INTO store_meta (key, value) VALUES ('partition_count', ?)`,
		strconv.Itoa(cfg.Partitions),
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: record partition count: %w", err)
	}
	var stored string
	if err := db.QueryRow(
		`SELECT value FROM store_meta WHERE key = 'partition_count'`,
	).Scan(&stored); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: read partition count: %w", err)
	}
	partitions, err := strconv.Atoi(stored)
	if err != nil || partitions <= 0 {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: invalid partition count %q", stored)
	}

	return &SQLiteStore{db: db, partitions: partitions}, nil
}

// Append stores one event on the stream, assigning identifiers, the
// partition, and both sequence numbers atomically.
func (s *SQLiteStore) Append(ctx context.Context, streamID, eventName string, metadata, payload any) (inspector.Event, error) {
	metaJSON, err := encodeBlob(metadata)
	if err != nil {
		return inspector.Event{}, fmt.Errorf("sqlitestore: marshal metadata: %w", err)
	}
	payloadJSON, err := encodeBlob(payload)
	if err != nil {
		return inspector.Event{}, fmt.Errorf("sqlitestore: marshal payload: %w", err)
	}

	pid := partitionFor(streamID, s.partitions)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inspector.Event{}, fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq, maxVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(partition_seq) FROM events WHERE partition_id = ?`, pid,
	).Scan(&maxSeq); err != nil {
		return inspector.Event{}, fmt.Errorf("sqlitestore: partition head: %w", err)
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(stream_version) FROM events WHERE stream_id = ?`, streamID,
	).Scan(&maxVersion); err != nil {
		return inspector.Event{}, fmt.Errorf("sqlitestore: stream head: %w", err)
	}

	ev := inspector.Event{
		EventID:           uuid.NewString(),
		StreamID:          streamID,
		StreamVersion:     uint64(maxVersion.Int64) + 1,
		PartitionID:       pid,
		PartitionSequence: uint64(maxSeq.Int64) + 1,
		PartitionKey:      streamID,
		TransactionID:     uuid.NewString(),
		Timestamp:         time.Now().UTC(),
		EventName:         eventName,
		Metadata:          metadata,
		Payload:           payload,
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (event_id, stream_id, stream_version, partition_id, partition_seq,
		                     partition_key, transaction_id, timestamp, event_name, metadata, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.StreamID, ev.StreamVersion, ev.PartitionID, ev.PartitionSequence,
		ev.PartitionKey, ev.TransactionID, ev.Timestamp.Format(time.RFC3339Nano),
		ev.EventName, metaJSON, payloadJSON,
	); err != nil {
		return inspector.Event{}, fmt.Errorf("sqlitestore: append: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return inspector.Event{}, fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return ev, nil
}

// PartitionCount implements inspector.EventSource.
func (s *SQLiteStore) PartitionCount(ctx context.Context) (int, error) {
	return s.partitions, nil
}

// ScanPartition implements inspector.EventSource.
func (s *SQLiteStore) ScanPartition(ctx context.Context, partitionID int, startSeq, endSeq uint64, maxCount int) (inspector.Batch, error) {
	if partitionID < 0 || partitionID >= s.partitions {
		return inspector.Batch{}, fmt.Errorf("sqlitestore: partition %d out of range", partitionID)
	}
	return s.scan(ctx,
		`SELECT event_id, stream_id, stream_version, partition_id, partition_seq,
		        partition_key, transaction_id, timestamp, event_name, metadata, payload
		   FROM events WHERE partition_id = ? AND partition_seq >= ? AND partition_seq <= ?
		  ORDER BY partition_seq ASC LIMIT ?`,
		partitionID, startSeq, boundedEnd(endSeq), maxCount)
}

// ScanStream implements inspector.EventSource.
func (s *SQLiteStore) ScanStream(ctx context.Context, streamID string, startVersion, endVersion uint64, maxCount int) (inspector.Batch, error) {
	return s.scan(ctx,
		`SELECT event_id, stream_id, stream_version, partition_id, partition_seq,
		        partition_key, transaction_id, timestamp, event_name, metadata, payload
		   FROM events WHERE stream_id = ? AND stream_version >= ? AND stream_version <= ?
		  ORDER BY stream_version ASC LIMIT ?`,
		streamID, startVersion, boundedEnd(endVersion), maxCount)
}

func (s *SQLiteStore) scan(ctx context.Context, query string, key any, start uint64, end int64, maxCount int) (inspector.Batch, error) {
	if maxCount <= 0 {
		maxCount = 1000
	}
	// Fetch one extra row to learn whether more remain.
	rows, err := s.db.QueryContext(ctx, query, key, start, end, maxCount+1)
	if err != nil {
		return inspector.Batch{}, fmt.Errorf("sqlitestore: scan: %w", err)
	}
	defer rows.Close()

	var events []inspector.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return inspector.Batch{}, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return inspector.Batch{}, fmt.Errorf("sqlitestore: scan rows: %w", err)
	}

	hasMore := false
	if len(events) > maxCount {
		events = events[:maxCount]
		hasMore = true
	}
	return inspector.Batch{Events: events, HasMore: hasMore}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanEvent(rows *sql.Rows) (inspector.Event, error) {
	var (
		ev          inspector.Event
		timeStr     string
		metaJSON    sql.NullString
		payloadJSON sql.NullString
	)
	if err := rows.Scan(
		&ev.EventID, &ev.StreamID, &ev.StreamVersion, &ev.PartitionID, &ev.PartitionSequence,
		&ev.PartitionKey, &ev.TransactionID, &timeStr, &ev.EventName, &metaJSON, &payloadJSON,
	); err != nil {
		return inspector.Event{}, fmt.Errorf("sqlitestore: scan event: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, timeStr)
	if err != nil {
		return inspector.Event{}, fmt.Errorf("sqlitestore: parse time %q: %w", timeStr, err)
	}
	ev.Timestamp = t

	if ev.Metadata, err = decodeBlob(metaJSON); err != nil {
		return inspector.Event{}, fmt.Errorf("sqlitestore: unmarshal metadata: %w", err)
	}
	if ev.Payload, err = decodeBlob(payloadJSON); err != nil {
		return inspector.Event{}, fmt.Errorf("sqlitestore: unmarshal payload: %w", err)
	}
	return ev, nil
}

func encodeBlob(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeBlob(s sql.NullString) (any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// boundedEnd translates the unbounded sentinel into a value SQLite can
// compare without uint64 overflow.
func boundedEnd(end uint64) int64 {
	if end >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(end)
}

// Interface check.
var _ inspector.EventSource = (*SQLiteStore)(nil)
