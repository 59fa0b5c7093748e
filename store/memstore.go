// Package store provides event-source implementations backing the engine:
// an in-memory store for tests and debug sampling, and a SQLite-backed
// store for local inspection of exported event data.
package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	inspector "github.com/sierra-db/sierradb-inspector"
)

// partitionFor assigns a stream to a partition by FNV-1a hash of its key.
// Deterministic, so a stream always lands in the same partition.
func partitionFor(partitionKey string, partitions int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(partitionKey))
	return int(h.Sum32() % uint32(partitions))
}

// MemStore is a thread-safe in-memory partitioned event store.
// Sequences and versions are 1-based, monotonic and gapless.
type MemStore struct {
	mu         sync.RWMutex
	partitions [][]inspector.Event
	streams    map[string][]inspector.Event
	now        func() time.Time
}

// NewMemStore creates a store with a fixed partition count.
func NewMemStore(partitions int) *MemStore {
	if partitions <= 0 {
		partitions = 1
	}
	return &MemStore{
		partitions: make([][]inspector.Event, partitions),
		streams:    make(map[string][]inspector.Event),
		now:        time.Now,
	}
}

// SetNow overrides the append timestamp clock (for tests).
func (s *MemStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Append adds one event to the stream, assigning identifiers, the
// partition, and both sequence numbers. Returns the stored event.
func (s *MemStore) Append(streamID, eventName string, metadata, payload any) inspector.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	pid := partitionFor(streamID, len(s.partitions))
	ev := inspector.Event{
		EventID:           uuid.NewString(),
		StreamID:          streamID,
		StreamVersion:     uint64(len(s.streams[streamID]) + 1),
		PartitionID:       pid,
		PartitionSequence: uint64(len(s.partitions[pid]) + 1),
		PartitionKey:      streamID,
		TransactionID:     uuid.NewString(),
		Timestamp:         s.now().UTC(),
		EventName:         eventName,
		Metadata:          metadata,
		Payload:           payload,
	}
	s.partitions[pid] = append(s.partitions[pid], ev)
	s.streams[streamID] = append(s.streams[streamID], ev)
	return ev
}

// PartitionCount implements inspector.EventSource.
func (s *MemStore) PartitionCount(ctx context.Context) (int, error) {
	return len(s.partitions), nil
}

// ScanPartition implements inspector.EventSource.
func (s *MemStore) ScanPartition(ctx context.Context, partitionID int, startSeq, endSeq uint64, maxCount int) (inspector.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if partitionID < 0 || partitionID >= len(s.partitions) {
		return inspector.Batch{}, fmt.Errorf("partition %d out of range", partitionID)
	}
	return page(s.partitions[partitionID], startSeq, endSeq, maxCount, func(ev inspector.Event) uint64 {
		return ev.PartitionSequence
	}), nil
}

// ScanStream implements inspector.EventSource.
func (s *MemStore) ScanStream(ctx context.Context, streamID string, startVersion, endVersion uint64, maxCount int) (inspector.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.streams[streamID], startVersion, endVersion, maxCount, func(ev inspector.Event) uint64 {
		return ev.StreamVersion
	}), nil
}

// page slices an ordered event list to [start, end] with a size cap.
// A start of 0 means from the beginning; inspector.EndOfRange means
// unbounded.
func page(events []inspector.Event, start, end uint64, maxCount int, position func(inspector.Event) uint64) inspector.Batch {
	if maxCount <= 0 {
		maxCount = len(events)
	}

	var out []inspector.Event
	hasMore := false
	for _, ev := range events {
		pos := position(ev)
		if pos < start {
			continue
		}
		if end != inspector.EndOfRange && pos > end {
			break
		}
		if len(out) >= maxCount {
			hasMore = true
			break
		}
		out = append(out, ev)
	}
	return inspector.Batch{Events: out, HasMore: hasMore}
}

// Interface check.
var _ inspector.EventSource = (*MemStore)(nil)
