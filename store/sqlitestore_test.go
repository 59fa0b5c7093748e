package store_test

import (
	"path/filepath"
	"reflect"
	"testing"

	inspector "github.com/sierra-db/sierradb-inspector"
	"github.com/sierra-db/sierradb-inspector/store"
)

func newSQLiteStore(t *testing.T, cfg store.SQLiteConfig) *store.SQLiteStore {
	t.Helper()
	if cfg.DSN == "" {
		cfg.DSN = ":memory:"
	}
	st, err := store.NewSQLiteStore(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStore_AppendRoundtrip(t *testing.T) {
	st := newSQLiteStore(t, store.SQLiteConfig{Partitions: 4})
	ctx := t.Context()

	payload := map[string]any{"amount": float64(12.5), "items": []any{"a", "b"}}
	meta := map[string]any{"source": "import"}
	ev, err := st.Append(ctx, "order-1", "OrderPlaced", meta, payload)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if ev.StreamVersion != 1 || ev.PartitionSequence != 1 {
		t.Errorf("version, sequence = %d, %d, want 1, 1", ev.StreamVersion, ev.PartitionSequence)
	}

	batch, err := st.ScanStream(ctx, "order-1", 0, inspector.EndOfRange, 0)
	if err != nil {
		t.Fatalf("ScanStream() error = %v", err)
	}
	if len(batch.Events) != 1 {
		t.Fatalf("ScanStream() = %d events, want 1", len(batch.Events))
	}
	got := batch.Events[0]
	if got.EventID != ev.EventID || got.EventName != "OrderPlaced" {
		t.Errorf("event = %q %q, want %q OrderPlaced", got.EventID, got.EventName, ev.EventID)
	}
	if !reflect.DeepEqual(got.Payload, payload) {
		t.Errorf("Payload = %#v, want %#v", got.Payload, payload)
	}
	if !reflect.DeepEqual(got.Metadata, meta) {
		t.Errorf("Metadata = %#v, want %#v", got.Metadata, meta)
	}
	if !got.Timestamp.Equal(ev.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, ev.Timestamp)
	}
}

func TestSQLiteStore_NilBlobsStayNil(t *testing.T) {
	st := newSQLiteStore(t, store.SQLiteConfig{Partitions: 1})
	ctx := t.Context()

	if _, err := st.Append(ctx, "s", "E", nil, nil); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	batch, err := st.ScanStream(ctx, "s", 0, inspector.EndOfRange, 0)
	if err != nil {
		t.Fatalf("ScanStream() error = %v", err)
	}
	if batch.Events[0].Metadata != nil || batch.Events[0].Payload != nil {
		t.Errorf("Metadata, Payload = %#v, %#v, want nil, nil", batch.Events[0].Metadata, batch.Events[0].Payload)
	}
}

func TestSQLiteStore_SequencesAdvancePerPartitionAndStream(t *testing.T) {
	st := newSQLiteStore(t, store.SQLiteConfig{Partitions: 1})
	ctx := t.Context()

	a1, _ := st.Append(ctx, "order-1", "A", nil, nil)
	b1, _ := st.Append(ctx, "order-2", "B", nil, nil)
	a2, _ := st.Append(ctx, "order-1", "C", nil, nil)

	if a1.StreamVersion != 1 || a2.StreamVersion != 2 || b1.StreamVersion != 1 {
		t.Errorf("stream versions = %d, %d, %d, want 1, 2, 1", a1.StreamVersion, a2.StreamVersion, b1.StreamVersion)
	}
	// Single partition, so the partition sequence is global.
	if a1.PartitionSequence != 1 || b1.PartitionSequence != 2 || a2.PartitionSequence != 3 {
		t.Errorf("partition sequences = %d, %d, %d, want 1, 2, 3",
			a1.PartitionSequence, b1.PartitionSequence, a2.PartitionSequence)
	}
}

func TestSQLiteStore_ScanPartitionPages(t *testing.T) {
	st := newSQLiteStore(t, store.SQLiteConfig{Partitions: 1})
	ctx := t.Context()
	for i := 0; i < 5; i++ {
		if _, err := st.Append(ctx, "s", "E", nil, map[string]any{"i": i}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	batch, err := st.ScanPartition(ctx, 0, 0, inspector.EndOfRange, 2)
	if err != nil {
		t.Fatalf("ScanPartition() error = %v", err)
	}
	if len(batch.Events) != 2 || !batch.HasMore {
		t.Fatalf("first page = %d events, HasMore %v, want 2, true", len(batch.Events), batch.HasMore)
	}

	next := batch.Events[1].PartitionSequence + 1
	batch, err = st.ScanPartition(ctx, 0, next, inspector.EndOfRange, 10)
	if err != nil {
		t.Fatalf("ScanPartition() error = %v", err)
	}
	if len(batch.Events) != 3 || batch.HasMore {
		t.Errorf("second page = %d events, HasMore %v, want 3, false", len(batch.Events), batch.HasMore)
	}
}

func TestSQLiteStore_ScanPartitionBoundedEnd(t *testing.T) {
	st := newSQLiteStore(t, store.SQLiteConfig{Partitions: 1})
	ctx := t.Context()
	for i := 0; i < 5; i++ {
		if _, err := st.Append(ctx, "s", "E", nil, nil); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	batch, err := st.ScanPartition(ctx, 0, 2, 4, 0)
	if err != nil {
		t.Fatalf("ScanPartition() error = %v", err)
	}
	if len(batch.Events) != 3 || batch.HasMore {
		t.Fatalf("bounded scan = %d events, HasMore %v, want 3, false", len(batch.Events), batch.HasMore)
	}
	if batch.Events[0].PartitionSequence != 2 || batch.Events[2].PartitionSequence != 4 {
		t.Errorf("sequences = %d..%d, want 2..4", batch.Events[0].PartitionSequence, batch.Events[2].PartitionSequence)
	}
}

func TestSQLiteStore_ScanPartitionOutOfRange(t *testing.T) {
	st := newSQLiteStore(t, store.SQLiteConfig{Partitions: 2})
	if _, err := st.ScanPartition(t.Context(), 5, 0, inspector.EndOfRange, 0); err == nil {
		t.Error("ScanPartition(5) on a 2-partition store succeeded")
	}
}

func TestSQLiteStore_PartitionCountPersistsAcrossOpens(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "events.db")
	ctx := t.Context()

	first := newSQLiteStore(t, store.SQLiteConfig{DSN: dsn, Partitions: 4})
	ev, err := first.Append(ctx, "order-1", "OrderPlaced", nil, nil)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// A different configured count must lose to the recorded one, or
	// streams would re-hash into other partitions.
	second := newSQLiteStore(t, store.SQLiteConfig{DSN: dsn, Partitions: 16})
	n, err := second.PartitionCount(ctx)
	if err != nil {
		t.Fatalf("PartitionCount() error = %v", err)
	}
	if n != 4 {
		t.Fatalf("PartitionCount() after reopen = %d, want 4", n)
	}

	ev2, err := second.Append(ctx, "order-1", "OrderPaid", nil, nil)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if ev2.PartitionID != ev.PartitionID {
		t.Errorf("stream moved from partition %d to %d across reopen", ev.PartitionID, ev2.PartitionID)
	}
	if ev2.StreamVersion != 2 {
		t.Errorf("StreamVersion after reopen = %d, want 2", ev2.StreamVersion)
	}
}

func TestSQLiteStore_DefaultPartitions(t *testing.T) {
	st := newSQLiteStore(t, store.SQLiteConfig{})
	n, err := st.PartitionCount(t.Context())
	if err != nil {
		t.Fatalf("PartitionCount() error = %v", err)
	}
	if n != 8 {
		t.Errorf("PartitionCount() = %d, want 8", n)
	}
}
