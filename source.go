package inspector

import "context"

// EndOfRange is the sentinel end marker meaning "to the end, unbounded".
const EndOfRange = ^uint64(0)

// EventSource is the pagination contract the engine reads events through.
// Implementations are stateless per call; the engine tracks its own cursor
// position (next start = last sequence/version + 1). A start of 0 means
// "from the beginning".
type EventSource interface {
	// PartitionCount returns the fixed number of partitions in the store.
	PartitionCount(ctx context.Context) (int, error)

	// ScanPartition returns up to maxCount events from one partition with
	// partition sequence in [startSeq, endSeq].
	ScanPartition(ctx context.Context, partitionID int, startSeq, endSeq uint64, maxCount int) (Batch, error)

	// ScanStream returns up to maxCount events from one stream with
	// stream version in [startVersion, endVersion].
	ScanStream(ctx context.Context, streamID string, startVersion, endVersion uint64, maxCount int) (Batch, error)
}
