// Package sync reconciles the local quiz cache with the remote document store.
//
// # Overview
//
// The Engine serves every read from the local store and treats the remote
// store as the system of record. Reads are cache-first; refreshes from the
// remote store are best-effort. Writes land locally first and are pushed in
// the background.
//
// Architecture
//
//	          SaveQuizAttempt                 FetchRemoteHistoryAndCache
//	                │                                     ▲
//	                ▼                                     │
//	local.Store (pending) ──► push queue ──► worker ──► remote.Store
//	      ▲                                    │          (history,
//	      └──────────── MarkSynced ────────────┘           users,
//	                                                       ranking)
//
// Attempt lifecycle
//
//	pending ──claim──► syncing ──AddDocument ok──► synced
//	   ▲                  │
//	   └──── release ─────┘ (push failed)
//
// A claim is a compare-and-swap on the row, so an attempt is pushed by at most
// one worker or sweep at a time and never produces two remote documents. The
// claim is stamped with its start time; New and every sweep return claims
// older than Config.ClaimLease to pending, so a crashed process never strands
// a row while engines in other processes sharing the cache keep their live
// claims. A push gives up on the remote call after half the lease.
//
// Usage
//
//	store, _ := local.Open(filepath.Join(home, "quiz.db"))
//	_ = store.InitSchema(ctx)
//	docs, _ := remote.Open(ctx, "sqlite3", remotePath, remote.Options{})
//
//	engine, err := sync.New(ctx, sync.Config{
//	    Local:    store,
//	    Remote:   docs,
//	    Identity: identity.NewFileProvider(sessionPath),
//	})
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	id, _ := engine.SaveQuizAttempt(ctx, "u1", 7, 10)
//	engine.Flush(ctx)
//
// # Error Handling
//
// Refreshes never fail: they return a RefreshResult whose Source says whether
// the data came from the remote store or the cache, with Err holding the
// cause. Background pushes log failures and leave the row pending for the
// next SyncAllUnsyncedAttempts. Profile saves and ranking updates return
// their errors to the caller.
package sync
