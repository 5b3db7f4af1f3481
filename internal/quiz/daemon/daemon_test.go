package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quizapp/quizsync/internal/quiz/identity"
	"github.com/quizapp/quizsync/internal/quiz/schema"
	quizsync "github.com/quizapp/quizsync/internal/quiz/sync"
)

// fakeSyncer counts the calls the daemon makes.
type fakeSyncer struct {
	sweeps   atomic.Int32
	history  atomic.Int32
	profiles atomic.Int32

	mu    sync.Mutex
	users []string
}

func (f *fakeSyncer) LocalHistory(ctx context.Context, userID string) ([]*schema.QuizAttempt, error) {
	return nil, nil
}

func (f *fakeSyncer) WatchHistory(ctx context.Context, userID string) (<-chan []*schema.QuizAttempt, error) {
	return nil, nil
}

func (f *fakeSyncer) FetchRemoteHistoryAndCache(ctx context.Context, userID string) quizsync.RefreshResult {
	f.history.Add(1)
	f.mu.Lock()
	f.users = append(f.users, userID)
	f.mu.Unlock()
	return quizsync.RefreshResult{Source: quizsync.SourceRemote}
}

func (f *fakeSyncer) SaveQuizAttempt(ctx context.Context, userID string, score, total int) (int64, error) {
	return 0, nil
}

func (f *fakeSyncer) SyncAllUnsyncedAttempts(ctx context.Context) (quizsync.SweepResult, error) {
	f.sweeps.Add(1)
	return quizsync.SweepResult{}, nil
}

func (f *fakeSyncer) GetUserName(ctx context.Context, userID string) (*string, error) {
	return nil, nil
}

func (f *fakeSyncer) FetchAndCacheUserData(ctx context.Context, userID string) quizsync.RefreshResult {
	f.profiles.Add(1)
	return quizsync.RefreshResult{Source: quizsync.SourceRemote}
}

func (f *fakeSyncer) SaveUserToRemoteAndCache(ctx context.Context, userID string, name, email *string) error {
	return nil
}

func (f *fakeSyncer) UpdateUserRanking(ctx context.Context, userID string, scoreGained int64) error {
	return nil
}

type countingNotifier struct {
	calls atomic.Int32
}

func (n *countingNotifier) NotifyAll() {
	n.calls.Add(1)
}

func testConfig() *Config {
	return &Config{
		SweepInterval:    time.Hour,
		DebounceInterval: 20 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startDaemon runs Start in the background and returns a stop function.
func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Start() returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	waitFor(t, "watcher to start", d.follower.IsRunning)
}

func TestNew(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "quiz.db")
	syncer := &fakeSyncer{}
	notifier := &countingNotifier{}

	tests := []struct {
		name     string
		syncer   quizsync.Syncer
		notifier Notifier
		dbPath   string
		wantErr  bool
	}{
		{"valid configuration", syncer, notifier, dbPath, false},
		{"nil syncer", nil, notifier, dbPath, true},
		{"nil notifier", syncer, nil, dbPath, true},
		{"empty db path", syncer, notifier, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.syncer, tt.notifier, tt.dbPath)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d != nil {
				_ = d.Stop()
			}
		})
	}
}

func TestNewWithConfig_FillsDefaults(t *testing.T) {
	d, err := NewWithConfig(&fakeSyncer{}, &countingNotifier{}, filepath.Join(t.TempDir(), "quiz.db"), &Config{})
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	defer d.Stop()

	if d.config.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval = %v, want 30s", d.config.SweepInterval)
	}
	if d.config.DebounceInterval != 100*time.Millisecond {
		t.Errorf("DebounceInterval = %v, want 100ms", d.config.DebounceInterval)
	}
	if d.config.Logger == nil {
		t.Error("Logger not defaulted")
	}
}

func TestDaemon_StartupSweep(t *testing.T) {
	syncer := &fakeSyncer{}
	d, err := NewWithConfig(syncer, &countingNotifier{}, filepath.Join(t.TempDir(), "quiz.db"), testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	if got := syncer.sweeps.Load(); got != 1 {
		t.Errorf("sweeps = %d, want 1", got)
	}
	if got := syncer.history.Load(); got != 0 {
		t.Errorf("history refreshes = %d, want 0 without identity", got)
	}
}

func TestDaemon_PeriodicSweepRefreshesSignedInUser(t *testing.T) {
	syncer := &fakeSyncer{}
	cfg := testConfig()
	cfg.SweepInterval = 30 * time.Millisecond
	cfg.Identity = identity.Static{UserID: "u1"}

	d, err := NewWithConfig(syncer, &countingNotifier{}, filepath.Join(t.TempDir(), "quiz.db"), cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	waitFor(t, "periodic sweeps", func() bool { return syncer.sweeps.Load() >= 3 })
	if syncer.profiles.Load() == 0 {
		t.Error("profile was never refreshed")
	}

	syncer.mu.Lock()
	defer syncer.mu.Unlock()
	for _, u := range syncer.users {
		if u != "u1" {
			t.Errorf("refreshed history of %q, want u1", u)
		}
	}
}

func TestDaemon_ExternalWriteNotifies(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "quiz.db")
	notifier := &countingNotifier{}

	d, err := NewWithConfig(&fakeSyncer{}, notifier, dbPath, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	// A burst of WAL writes collapses into one notification.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(dbPath+"-wal", []byte{byte(i)}, 0644); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
	}
	waitFor(t, "notification", func() bool { return notifier.calls.Load() >= 1 })

	time.Sleep(100 * time.Millisecond)
	if got := notifier.calls.Load(); got > 2 {
		t.Errorf("notifications = %d, want the burst debounced", got)
	}
}

func TestDaemon_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "quiz.db")
	notifier := &countingNotifier{}

	d, err := NewWithConfig(&fakeSyncer{}, notifier, dbPath, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	for _, name := range []string{"quiz.db-shm", "session.toml", "other.db"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
	}

	time.Sleep(150 * time.Millisecond)
	if got := notifier.calls.Load(); got != 0 {
		t.Errorf("notifications = %d, want 0", got)
	}
}

func TestDaemon_StopIsIdempotent(t *testing.T) {
	d, err := NewWithConfig(&fakeSyncer{}, &countingNotifier{}, filepath.Join(t.TempDir(), "quiz.db"), testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Start(context.Background()) }()
	waitFor(t, "watcher to start", d.follower.IsRunning)

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}
