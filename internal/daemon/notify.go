package daemon

import (
	"log"
	"time"
)

// Result summarizes one completed sync cycle.
type Result struct {
	// Pushed reports a successful push of the local dataset.
	Pushed bool
	// PushQueued reports that the push failed and was deferred to the
	// offline queue.
	PushQueued bool
	// Merged reports that a pulled snapshot was merged and persisted.
	Merged bool
	// Drained is the number of queued operations completed this cycle.
	Drained int
	// Dropped is the number of queued operations evicted after
	// exhausting their retries.
	Dropped int
	// Deferred is the number of queued operations left for a later cycle.
	Deferred int
	// Duration is how long the cycle took.
	Duration time.Duration
	// CompletedAt is when the cycle finished.
	CompletedAt time.Time
}

// Notifier receives the single end-of-cycle notification. Every cycle
// ends with exactly one SyncSucceeded or one SyncFailed call - never both,
// never neither.
type Notifier interface {
	// SyncSucceeded reports a cycle that completed without fatal error.
	SyncSucceeded(res Result)

	// SyncFailed reports a cycle aborted by an unexpected error.
	SyncFailed(err error)
}

// LogNotifier reports cycle outcomes to a logger.
type LogNotifier struct {
	Logger *log.Logger
}

func (n *LogNotifier) SyncSucceeded(res Result) {
	n.Logger.Printf("Sync complete: pushed=%v queued=%v merged=%v drained=%d dropped=%d deferred=%d (%s)",
		res.Pushed, res.PushQueued, res.Merged, res.Drained, res.Dropped, res.Deferred, res.Duration.Round(time.Millisecond))
}

func (n *LogNotifier) SyncFailed(err error) {
	n.Logger.Printf("Sync failed: %v", err)
}
