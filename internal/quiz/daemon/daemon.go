// Package daemon keeps the local quiz cache converging with the remote store
// while the app is idle.
//
// The daemon:
//  1. Pushes every pending attempt on startup
//  2. Repeats the sweep on an interval
//  3. Refreshes the signed-in user's history and profile with each sweep
//  4. Watches the database file so watchers opened inside the daemon process,
//     such as the event server's subscribers, see writes made by other
//     processes
//
// A watcher in any other process needs its own Follower on its own store;
// NotifyAll only reaches subscribers of the store it is called on. The CLI's
// `history --follow` and `profile show --follow` start one.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/quizapp/quizsync/internal/quiz/identity"
	quizsync "github.com/quizapp/quizsync/internal/quiz/sync"
)

// Notifier is told when the database changed outside this process.
// *local.Store implements it.
type Notifier interface {
	NotifyAll()
}

// Config holds configuration for the daemon.
type Config struct {
	// SweepInterval is how often pending attempts are pushed again
	SweepInterval time.Duration

	// DebounceInterval is how long the database must be quiet before
	// watchers are notified. This batches the writes of one transaction.
	DebounceInterval time.Duration

	// Identity selects whose history is refreshed each sweep (optional)
	Identity identity.Provider

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SweepInterval:    30 * time.Second,
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon runs background sweeps and database watching.
type Daemon struct {
	syncer quizsync.Syncer
	dbPath string
	config *Config

	follower *Follower

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates a daemon.
//
// The daemon requires:
//   - syncer: the sync engine
//   - notifier: the local store whose watchers follow external writes
//   - dbPath: the local database file
//
// Use Start() to begin.
func New(syncer quizsync.Syncer, notifier Notifier, dbPath string) (*Daemon, error) {
	return NewWithConfig(syncer, notifier, dbPath, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer quizsync.Syncer, notifier Notifier, dbPath string, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier cannot be nil")
	}
	if dbPath == "" {
		return nil, fmt.Errorf("dbPath cannot be empty")
	}

	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	follower, err := NewFollower(notifier, dbPath, config.DebounceInterval, config.Logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:   syncer,
		dbPath:   dbPath,
		config:   config,
		follower: follower,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start runs the daemon. It performs the startup sweep, starts the watcher
// and the periodic sweep, and blocks until ctx is cancelled or Stop is
// called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	d.PerformSweep(ctx)

	if err := d.follower.Start(); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching: %s", d.dbPath)

	d.wg.Add(1)
	go d.periodicSweep()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()

		if err := d.follower.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}

		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// PerformSweep pushes pending attempts, then refreshes the signed-in user.
// Failures are logged; the next sweep tries again.
func (d *Daemon) PerformSweep(ctx context.Context) {
	result, err := d.syncer.SyncAllUnsyncedAttempts(ctx)
	if err != nil {
		d.config.Logger.Printf("Sweep failed: %v", err)
	} else if result.Pending > 0 {
		d.config.Logger.Printf("Sweep: %s", result)
	}

	if d.config.Identity == nil {
		return
	}
	userID, ok := d.config.Identity.CurrentUserID()
	if !ok {
		return
	}
	if r := d.syncer.FetchRemoteHistoryAndCache(ctx, userID); !r.FromRemote() {
		d.config.Logger.Printf("History refresh for %s: %s", userID, r)
	}
	if r := d.syncer.FetchAndCacheUserData(ctx, userID); !r.FromRemote() {
		d.config.Logger.Printf("Profile refresh for %s: %s", userID, r)
	}
}

func (d *Daemon) periodicSweep() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.PerformSweep(d.ctx)
		}
	}
}
