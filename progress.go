package inspector

// Status is the lifecycle state reported on every progress callback.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Progress is the payload handed to the progress sink on every callback.
// The shape matches what the transport layer streams to clients verbatim.
//
// The final callback of a run always carries StatusCompleted (with
// CurrentPartition == TotalPartitions) or StatusError with a message.
type Progress struct {
	// CurrentPartition is the number of partitions fully merged so far.
	CurrentPartition int `json:"current_partition"`

	// TotalPartitions is the partition count for the run (1 for streams).
	TotalPartitions int `json:"total_partitions"`

	// EventsProcessed is cumulative across the whole run.
	EventsProcessed int `json:"events_processed"`

	// CurrentState is a client-safe snapshot: underscore-prefixed keys
	// are stripped recursively before it is set.
	CurrentState any `json:"current_state"`

	Status Status `json:"status"`

	// Error is present only when Status is StatusError.
	Error string `json:"error,omitempty"`
}

// ProgressHandler receives progress payloads during a run. Handlers are
// invoked synchronously from the orchestrator; long-running sinks should
// hand off to their own goroutine.
type ProgressHandler func(Progress)
