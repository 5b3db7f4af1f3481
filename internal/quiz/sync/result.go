package sync

import "fmt"

// Source says where the data behind a refresh came from.
type Source string

const (
	// SourceRemote means the remote store answered and the cache was updated.
	SourceRemote Source = "remote"

	// SourceCache means the remote store failed and the cache was left as is.
	SourceCache Source = "cache"
)

// RefreshResult reports the outcome of a best-effort refresh.
type RefreshResult struct {
	Source Source

	// Inserted and Updated count local rows changed by the refresh
	Inserted int
	Updated  int

	// Skipped counts remote documents that were ignored (unchanged or invalid)
	Skipped int

	// Err is the remote failure when Source is SourceCache
	Err error
}

// FromRemote reports whether the refresh reached the remote store.
func (r RefreshResult) FromRemote() bool {
	return r.Source == SourceRemote
}

func (r RefreshResult) String() string {
	if r.Source == SourceCache {
		return fmt.Sprintf("served from cache: %v", r.Err)
	}
	return fmt.Sprintf("refreshed from remote: %d inserted, %d updated, %d skipped", r.Inserted, r.Updated, r.Skipped)
}

// SweepResult counts what one SyncAllUnsyncedAttempts pass did.
type SweepResult struct {
	// Pending is the number of pending rows found at the start
	Pending int
	Synced  int
	Failed  int
	// Skipped rows were claimed by another push first
	Skipped int
}

func (r SweepResult) String() string {
	return fmt.Sprintf("pending=%d synced=%d failed=%d skipped=%d", r.Pending, r.Synced, r.Failed, r.Skipped)
}
