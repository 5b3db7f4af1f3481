package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/quizapp/quizsync/internal/quiz/local"
	"github.com/quizapp/quizsync/internal/quiz/remote"
	"github.com/quizapp/quizsync/internal/quiz/schema"
)

// LocalHistory implements Syncer.LocalHistory.
func (e *Engine) LocalHistory(ctx context.Context, userID string) ([]*schema.QuizAttempt, error) {
	attempts, err := e.local.HistoryForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return attempts, nil
}

// WatchHistory implements Syncer.WatchHistory.
func (e *Engine) WatchHistory(ctx context.Context, userID string) (<-chan []*schema.QuizAttempt, error) {
	ch, err := e.local.WatchHistory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to watch history: %w", err)
	}
	return ch, nil
}

// FetchRemoteHistoryAndCache implements Syncer.FetchRemoteHistoryAndCache.
func (e *Engine) FetchRemoteHistoryAndCache(ctx context.Context, userID string) RefreshResult {
	docs, err := e.remote.QueryCollection(ctx, remote.Query{
		Collection: schema.HistoryCollection,
		Filters:    []remote.Filter{{Field: "userId", Value: userID}},
		OrderBy:    "timestamp",
		Desc:       true,
	})
	if err != nil {
		return e.cacheFallback(EventHistoryRefreshed, userID, fmt.Errorf("failed to fetch remote history: %w", err))
	}

	e.mergeMu.Lock()
	defer e.mergeMu.Unlock()

	result := RefreshResult{Source: SourceRemote}
	for _, doc := range docs {
		incoming, err := schema.AttemptFromDocument(doc.ID, doc.Fields)
		if err != nil {
			e.logger.Printf("Skipping history document: %v", err)
			result.Skipped++
			continue
		}

		existing, err := e.local.GetAttemptByRemoteID(ctx, doc.ID)
		switch {
		case errors.Is(err, local.ErrNotFound):
			if _, err := e.local.InsertAttempt(ctx, incoming); err != nil {
				return e.cacheFallback(EventHistoryRefreshed, userID, fmt.Errorf("failed to cache remote attempt %s: %w", doc.ID, err))
			}
			result.Inserted++

		case err != nil:
			return e.cacheFallback(EventHistoryRefreshed, userID, fmt.Errorf("failed to look up remote attempt %s: %w", doc.ID, err))

		case incoming.Timestamp > existing.Timestamp || existing.SyncState != schema.SyncSynced:
			incoming.LocalID = existing.LocalID
			if err := e.local.UpdateAttempt(ctx, incoming); err != nil {
				return e.cacheFallback(EventHistoryRefreshed, userID, fmt.Errorf("failed to update cached attempt %d: %w", existing.LocalID, err))
			}
			result.Updated++

		default:
			result.Skipped++
		}
	}

	e.logger.Printf("History refresh for %s: %s", userID, result)
	e.emit(Event{Type: EventHistoryRefreshed, UserID: userID, Refresh: &result})
	return result
}

// cacheFallback logs a failed refresh and reports that the cache is being
// served. Rows merged before the failure stay merged.
func (e *Engine) cacheFallback(typ EventType, userID string, err error) RefreshResult {
	e.logger.Printf("Refresh for %s served from cache: %v", userID, err)
	result := RefreshResult{Source: SourceCache, Err: err}
	e.emit(Event{Type: typ, UserID: userID, Refresh: &result, Err: err})
	return result
}

// SaveQuizAttempt implements Syncer.SaveQuizAttempt.
func (e *Engine) SaveQuizAttempt(ctx context.Context, userID string, score, totalQuestions int) (int64, error) {
	a := schema.NewAttempt(userID, score, totalQuestions, e.now())
	id, err := e.local.InsertAttempt(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("failed to save attempt: %w", err)
	}
	e.emit(Event{Type: EventAttemptSaved, UserID: userID, Attempt: a})

	if !e.queue.enqueue(id) {
		e.logger.Printf("Push queue unavailable, attempt %d left pending for the next sweep", id)
	}
	return id, nil
}

// SyncAllUnsyncedAttempts implements Syncer.SyncAllUnsyncedAttempts.
func (e *Engine) SyncAllUnsyncedAttempts(ctx context.Context) (SweepResult, error) {
	v, err, shared := e.sweeps.Do("sweep", func() (any, error) {
		return e.sweep(ctx)
	})
	if shared {
		e.logger.Printf("Joined a sweep already in progress")
	}
	if err != nil {
		return SweepResult{}, err
	}
	return v.(SweepResult), nil
}

func (e *Engine) sweep(ctx context.Context) (SweepResult, error) {
	if err := e.recoverStaleClaims(ctx); err != nil {
		return SweepResult{}, err
	}

	pending, err := e.local.PendingAttempts(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to read pending attempts: %w", err)
	}

	result := SweepResult{Pending: len(pending)}
	for _, a := range pending {
		switch e.push(ctx, a.LocalID) {
		case pushSynced:
			result.Synced++
		case pushSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}

	if result.Pending > 0 {
		e.logger.Printf("Sweep complete: %s", result)
	}
	e.emit(Event{Type: EventSweepCompleted, Sweep: &result})
	return result, nil
}

type pushOutcome int

const (
	pushFailed pushOutcome = iota
	pushSynced
	pushSkipped
)

func (e *Engine) pushQueued(localID int64) {
	e.push(e.ctx, localID)
}

// push makes one attempt to replicate a pending row. Failures are logged and
// the row goes back to pending.
func (e *Engine) push(ctx context.Context, localID int64) pushOutcome {
	claimed, err := e.local.ClaimAttempt(ctx, localID, e.now())
	if err != nil {
		e.logger.Printf("Failed to claim attempt %d: %v", localID, err)
		return pushFailed
	}
	if !claimed {
		return pushSkipped
	}

	a, err := e.local.GetAttempt(ctx, localID)
	if err != nil {
		e.logger.Printf("Failed to load attempt %d: %v", localID, err)
		e.release(localID)
		return pushFailed
	}

	e.mergeMu.Lock()
	defer e.mergeMu.Unlock()

	// The remote call must finish well inside the lease so no other engine
	// treats this claim as abandoned while it is in flight.
	addCtx, cancel := context.WithTimeout(ctx, e.lease/2)
	remoteID, err := e.remote.AddDocument(addCtx, schema.HistoryCollection, a.Document())
	cancel()
	if err != nil {
		e.logger.Printf("Failed to push attempt %d: %v", localID, err)
		e.release(localID)
		e.emit(Event{Type: EventPushFailed, UserID: a.UserID, Attempt: a, Err: err})
		return pushFailed
	}

	if err := e.local.MarkSynced(context.WithoutCancel(ctx), localID, remoteID); err != nil {
		e.logger.Printf("Attempt %d pushed as %s but not marked synced: %v", localID, remoteID, err)
		e.release(localID)
		return pushFailed
	}

	a.RemoteID = &remoteID
	a.SyncState = schema.SyncSynced
	e.logger.Printf("Synced attempt %d as %s", localID, remoteID)
	e.emit(Event{Type: EventAttemptSynced, UserID: a.UserID, Attempt: a})
	return pushSynced
}

func (e *Engine) release(localID int64) {
	if err := e.local.ReleaseAttempt(context.WithoutCancel(e.ctx), localID); err != nil {
		e.logger.Printf("Failed to release attempt %d: %v", localID, err)
	}
}
