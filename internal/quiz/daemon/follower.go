package daemon

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Follower turns writes to the database file into NotifyAll calls on a
// Notifier, so watchers opened in this process see rows written by other
// processes. Bursts are collapsed until the file has been quiet for the
// debounce interval.
type Follower struct {
	notifier Notifier
	watcher  *DBWatcher
	debounce time.Duration
	logger   *log.Logger

	changeMu      sync.Mutex
	lastChange    time.Time
	changePending bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewFollower creates a follower for dbPath. A zero debounce uses the
// daemon default; a nil logger writes to stderr.
func NewFollower(notifier Notifier, dbPath string, debounce time.Duration, logger *log.Logger) (*Follower, error) {
	if notifier == nil {
		return nil, fmt.Errorf("notifier cannot be nil")
	}
	if debounce <= 0 {
		debounce = DefaultConfig().DebounceInterval
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[follow] ", log.LstdFlags)
	}

	watcher, err := NewDBWatcher(dbPath)
	if err != nil {
		return nil, err
	}
	return &Follower{
		notifier: notifier,
		watcher:  watcher,
		debounce: debounce,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. It returns immediately.
func (f *Follower) Start() error {
	if err := f.watcher.Start(); err != nil {
		return fmt.Errorf("failed to start database watcher: %w", err)
	}
	f.wg.Add(2)
	go f.watchEvents()
	go f.processChanges()
	return nil
}

// Stop ends watching. Safe to call more than once.
func (f *Follower) Stop() error {
	var err error
	f.stopOnce.Do(func() {
		close(f.done)
		err = f.watcher.Stop()
		f.wg.Wait()
	})
	return err
}

// IsRunning reports whether the underlying file watcher is active.
func (f *Follower) IsRunning() bool {
	return f.watcher.IsRunning()
}

func (f *Follower) watchEvents() {
	defer f.wg.Done()

	for {
		select {
		case <-f.done:
			return
		case _, ok := <-f.watcher.Events():
			if !ok {
				return
			}
			f.changeMu.Lock()
			f.lastChange = time.Now()
			f.changePending = true
			f.changeMu.Unlock()
		case err, ok := <-f.watcher.Errors():
			if !ok {
				return
			}
			f.logger.Printf("Watcher error: %v", err)
		}
	}
}

func (f *Follower) processChanges() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			if f.takeSettledChange() {
				f.notifier.NotifyAll()
			}
		}
	}
}

func (f *Follower) takeSettledChange() bool {
	f.changeMu.Lock()
	defer f.changeMu.Unlock()

	if !f.changePending || time.Since(f.lastChange) < f.debounce {
		return false
	}
	f.changePending = false
	return true
}
