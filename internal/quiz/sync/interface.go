package sync

import (
	"context"

	"github.com/quizapp/quizsync/internal/quiz/schema"
)

// Syncer is the contract the CLI and daemon rely on. *Engine implements it.
type Syncer interface {
	// LocalHistory returns the cached attempts of userID, newest first.
	LocalHistory(ctx context.Context, userID string) ([]*schema.QuizAttempt, error)

	// WatchHistory returns a live view of the cached history of userID.
	//
	// The current snapshot is sent immediately and a new one after every
	// local change for that user. The channel closes when ctx is done.
	WatchHistory(ctx context.Context, userID string) (<-chan []*schema.QuizAttempt, error)

	// FetchRemoteHistoryAndCache merges the remote history of userID into
	// the cache.
	//
	// Remote documents unknown locally are inserted as synced. Known ones
	// are updated in place when the remote copy is newer or the local row
	// is not synced yet. A remote failure leaves the cache untouched and is
	// reported in the result, never as an error.
	FetchRemoteHistoryAndCache(ctx context.Context, userID string) RefreshResult

	// SaveQuizAttempt records a finished quiz locally as pending and queues
	// a push. It returns as soon as the local row exists.
	SaveQuizAttempt(ctx context.Context, userID string, score, totalQuestions int) (int64, error)

	// SyncAllUnsyncedAttempts pushes every pending attempt, oldest first.
	//
	// Concurrent calls share a single sweep. The error is non-nil only if
	// the pending rows could not be read.
	SyncAllUnsyncedAttempts(ctx context.Context) (SweepResult, error)

	// GetUserName returns the cached display name of userID, refreshing
	// the cache once from the remote store if it is missing.
	GetUserName(ctx context.Context, userID string) (*string, error)

	// FetchAndCacheUserData refreshes the cached profile of userID.
	FetchAndCacheUserData(ctx context.Context, userID string) RefreshResult

	// SaveUserToRemoteAndCache writes a profile remotely, then caches it.
	// Nothing is cached if the remote write fails.
	SaveUserToRemoteAndCache(ctx context.Context, userID string, name, email *string) error

	// UpdateUserRanking adds scoreGained to the ranking total of userID in
	// one remote transaction.
	UpdateUserRanking(ctx context.Context, userID string, scoreGained int64) error
}

var _ Syncer = (*Engine)(nil)
