package inspector

import "time"

// Event is one immutable, already-decoded record from the event store.
// Metadata and Payload are structured values or strings by the time they
// reach the engine; binary decoding happens upstream.
type Event struct {
	// EventID uniquely identifies the event across the store.
	EventID string `json:"event_id"`

	// StreamID is the owning stream.
	StreamID string `json:"stream_id"`

	// StreamVersion is monotonic and gapless within the stream.
	StreamVersion uint64 `json:"stream_version"`

	// PartitionID is the partition the stream is assigned to.
	PartitionID int `json:"partition_id"`

	// PartitionSequence is monotonic and gapless within the partition.
	PartitionSequence uint64 `json:"partition_sequence"`

	// PartitionKey is the key the stream was partitioned by.
	PartitionKey string `json:"partition_key"`

	// TransactionID groups events appended atomically.
	TransactionID string `json:"transaction_id"`

	// Timestamp is the wall-clock append time.
	Timestamp time.Time `json:"timestamp"`

	// EventName is the type/name tag.
	EventName string `json:"event_name"`

	// Metadata and Payload are the two optional blobs.
	Metadata any `json:"metadata,omitempty"`
	Payload  any `json:"payload,omitempty"`

	// MetadataEncoding and PayloadEncoding record how the blobs were
	// originally encoded ("json", "text", ...). Informational only.
	MetadataEncoding string `json:"metadata_encoding,omitempty"`
	PayloadEncoding  string `json:"payload_encoding,omitempty"`
}

// AsValue converts the event into the plain value tree handed to user
// scripts. Timestamps collapse to RFC 3339 strings at this boundary;
// scripts that need date arithmetic must parse them back themselves.
func (e Event) AsValue() map[string]any {
	v := map[string]any{
		"event_id":           e.EventID,
		"stream_id":          e.StreamID,
		"stream_version":     float64(e.StreamVersion),
		"partition_id":       float64(e.PartitionID),
		"partition_sequence": float64(e.PartitionSequence),
		"partition_key":      e.PartitionKey,
		"transaction_id":     e.TransactionID,
		"timestamp":          e.Timestamp.UTC().Format(time.RFC3339Nano),
		"event_name":         e.EventName,
		"metadata":           e.Metadata,
		"payload":            e.Payload,
	}
	if e.MetadataEncoding != "" {
		v["metadata_encoding"] = e.MetadataEncoding
	}
	if e.PayloadEncoding != "" {
		v["payload_encoding"] = e.PayloadEncoding
	}
	return v
}

// Batch is one page of events plus a continuation flag.
// The caller derives the next cursor position from the last event.
type Batch struct {
	Events  []Event
	HasMore bool
}
