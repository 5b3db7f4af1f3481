package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quizapp/quizsync/internal/quiz/identity"
	"github.com/quizapp/quizsync/internal/quiz/local"
	"github.com/quizapp/quizsync/internal/quiz/remote"
)

// DefaultQueueSize is the push queue capacity.
const DefaultQueueSize = 256

// DefaultClaimLease is how long a syncing claim is honored before another
// engine may return it to pending.
const DefaultClaimLease = 2 * time.Minute

// Config holds the engine's collaborators.
type Config struct {
	// Local is the on-device cache (required, schema initialized)
	Local *local.Store

	// Remote is the system of record (required)
	Remote remote.Store

	// Identity reports the signed-in user (default: signed out)
	Identity identity.Provider

	// Logger for sync activity (default: stderr with [sync] prefix)
	Logger *log.Logger

	// Listener receives engine events (optional)
	Listener Listener

	// QueueSize is the push queue capacity (default: DefaultQueueSize)
	QueueSize int

	// ClaimLease bounds a push; older syncing claims are treated as
	// abandoned (default: DefaultClaimLease)
	ClaimLease time.Duration

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// Engine is the sync engine. It is safe for concurrent use.
type Engine struct {
	local    *local.Store
	remote   remote.Store
	identity identity.Provider
	logger   *log.Logger
	listener Listener
	now      func() time.Time
	lease    time.Duration

	queue  *pushQueue
	sweeps singleflight.Group

	// mergeMu keeps history merges from running between a push's
	// AddDocument and its MarkSynced, when the remote document exists but
	// the local row doesn't carry its id yet.
	mergeMu stdsync.Mutex

	// ctx outlives callers so queued pushes finish after SaveQuizAttempt
	// returns; it is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an engine and starts its push worker.
//
// Syncing claims older than the lease are returned to pending first. Younger
// claims may belong to another process sharing the cache and are kept.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Local == nil {
		return nil, fmt.Errorf("local store is required")
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote store is required")
	}
	if cfg.Identity == nil {
		cfg.Identity = identity.Static{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = DefaultClaimLease
	}

	engineCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &Engine{
		local:    cfg.Local,
		remote:   cfg.Remote,
		identity: cfg.Identity,
		logger:   cfg.Logger,
		listener: cfg.Listener,
		now:      cfg.Now,
		lease:    cfg.ClaimLease,
		ctx:      engineCtx,
		cancel:   cancel,
	}
	if err := e.recoverStaleClaims(ctx); err != nil {
		cancel()
		return nil, err
	}
	e.queue = newPushQueue(cfg.QueueSize, e.pushQueued)
	return e, nil
}

// recoverStaleClaims returns claims older than the lease to pending.
func (e *Engine) recoverStaleClaims(ctx context.Context) error {
	n, err := e.local.ResetStaleClaims(ctx, e.now().Add(-e.lease))
	if err != nil {
		return fmt.Errorf("failed to recover interrupted pushes: %w", err)
	}
	if n > 0 {
		e.logger.Printf("Returned %d interrupted attempts to pending", n)
	}
	return nil
}

// Flush waits until every push queued before the call has been attempted.
func (e *Engine) Flush(ctx context.Context) error {
	return e.queue.flush(ctx)
}

// Close drains the push queue and stops the worker. The stores are not
// closed.
func (e *Engine) Close() error {
	e.queue.close()
	e.cancel()
	return nil
}

func (e *Engine) emit(ev Event) {
	if e.listener != nil {
		e.listener(ev)
	}
}
