// Package inspector implements the event-sourced projection engine behind
// the SierraDB inspector: it folds user-supplied scripts over ordered event
// partitions or streams, accumulating derived state and streaming progress
// back to the caller.
//
// The root package holds the engine itself (processor loop, parallel
// orchestrator, state merge, debug sessions). Supporting concerns live in
// subpackages:
//
//	import "github.com/sierra-db/sierradb-inspector/sandbox"
//	import "github.com/sierra-db/sierradb-inspector/store"
//	import "github.com/sierra-db/sierradb-inspector/otel"
package inspector
