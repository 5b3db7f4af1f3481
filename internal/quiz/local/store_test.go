package local

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/quizapp/quizsync/internal/quiz/schema"
)

// openTestStore returns an initialized store in a temporary directory.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "quiz.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return store
}

func insertAttempt(t *testing.T, store *Store, userID string, score, total int, ts int64) int64 {
	t.Helper()

	a := &schema.QuizAttempt{
		UserID:         userID,
		Score:          score,
		TotalQuestions: total,
		Timestamp:      ts,
		SyncState:      schema.SyncPending,
	}
	id, err := store.InsertAttempt(context.Background(), a)
	if err != nil {
		t.Fatalf("InsertAttempt() failed: %v", err)
	}
	return id
}

func TestInitSchema_Idempotent(t *testing.T) {
	store := openTestStore(t)

	if err := store.InitSchema(context.Background()); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}

	for _, table := range []string{"users", "quiz_attempts"} {
		var count int
		err := store.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestInsertAttempt_AssignsIncreasingIDs(t *testing.T) {
	store := openTestStore(t)

	id1 := insertAttempt(t, store, "u1", 1, 5, 1000)
	id2 := insertAttempt(t, store, "u1", 2, 5, 2000)

	if id2 <= id1 {
		t.Errorf("local ids not increasing: %d then %d", id1, id2)
	}

	got, err := store.GetAttempt(context.Background(), id1)
	if err != nil {
		t.Fatalf("GetAttempt() failed: %v", err)
	}
	if got.Score != 1 || got.TotalQuestions != 5 || got.SyncState != schema.SyncPending || got.RemoteID != nil {
		t.Errorf("GetAttempt() = %+v", got)
	}
}

func TestInsertAttempt_CreatesBareProfile(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	insertAttempt(t, store, "new-user", 1, 1, 10)

	p, err := store.GetProfile(ctx, "new-user")
	if err != nil {
		t.Fatalf("GetProfile() failed: %v", err)
	}
	if p.DisplayName != nil || p.Email != nil {
		t.Errorf("bare profile has fields: %+v", p)
	}

	name, err := store.GetUserName(ctx, "new-user")
	if err != nil {
		t.Fatalf("GetUserName() failed: %v", err)
	}
	if name != nil {
		t.Errorf("GetUserName() = %q, want nil", *name)
	}
}

func TestInsertAttempt_Invalid(t *testing.T) {
	store := openTestStore(t)

	_, err := store.InsertAttempt(context.Background(), &schema.QuizAttempt{
		UserID: "u1", Score: 6, TotalQuestions: 5, Timestamp: 1, SyncState: schema.SyncPending,
	})
	if err == nil {
		t.Fatal("expected error for score above total")
	}
}

func TestGetAttempt_NotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetAttempt(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAttempt() error = %v, want ErrNotFound", err)
	}

	_, err = store.GetAttemptByRemoteID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAttemptByRemoteID() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateAttempt(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id := insertAttempt(t, store, "u1", 3, 5, 1000)
	a, err := store.GetAttempt(ctx, id)
	if err != nil {
		t.Fatalf("GetAttempt() failed: %v", err)
	}

	remote := "doc-1"
	a.RemoteID = &remote
	a.SyncState = schema.SyncSynced
	a.Timestamp = 2000
	if err := store.UpdateAttempt(ctx, a); err != nil {
		t.Fatalf("UpdateAttempt() failed: %v", err)
	}

	got, err := store.GetAttemptByRemoteID(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetAttemptByRemoteID() failed: %v", err)
	}
	if got.LocalID != id || got.Timestamp != 2000 || got.SyncState != schema.SyncSynced {
		t.Errorf("after update got %+v", got)
	}

	a.LocalID = 12345
	if err := store.UpdateAttempt(ctx, a); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateAttempt() on missing row error = %v, want ErrNotFound", err)
	}
}

func TestRemoteIDUnique(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	remote := "doc-1"
	first := &schema.QuizAttempt{UserID: "u1", Score: 1, TotalQuestions: 1, Timestamp: 1, SyncState: schema.SyncSynced, RemoteID: &remote}
	if _, err := store.InsertAttempt(ctx, first); err != nil {
		t.Fatalf("InsertAttempt() failed: %v", err)
	}

	dup := *first
	if _, err := store.InsertAttempt(ctx, &dup); err == nil {
		t.Error("expected unique constraint violation for duplicate remote id")
	}
}

func TestHistoryForUser_NewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	insertAttempt(t, store, "u1", 1, 5, 1000)
	insertAttempt(t, store, "u1", 2, 5, 3000)
	insertAttempt(t, store, "u1", 3, 5, 2000)
	insertAttempt(t, store, "u2", 4, 5, 4000)

	history, err := store.HistoryForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("HistoryForUser() failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(history))
	}
	want := []int64{3000, 2000, 1000}
	for i, a := range history {
		if a.Timestamp != want[i] {
			t.Errorf("history[%d].Timestamp = %d, want %d", i, a.Timestamp, want[i])
		}
	}
}

func TestListAttempts_Filters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	insertAttempt(t, store, "u1", 1, 5, 1000)
	insertAttempt(t, store, "u1", 2, 5, 2000)
	insertAttempt(t, store, "u1", 3, 5, 3000)

	tests := []struct {
		name   string
		filter AttemptFilter
		want   []int64
	}{
		{"since", AttemptFilter{UserID: "u1", Since: 2000}, []int64{3000, 2000}},
		{"ascending with limit", AttemptFilter{Ascending: true, Limit: 2}, []int64{1000, 2000}},
		{"by state", AttemptFilter{State: schema.SyncSynced}, nil},
		{"other user", AttemptFilter{UserID: "nobody"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListAttempts(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListAttempts() failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d attempts, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Timestamp != tt.want[i] {
					t.Errorf("got[%d].Timestamp = %d, want %d", i, got[i].Timestamp, tt.want[i])
				}
			}
		})
	}
}

func TestClaimAttempt_CompareAndSwap(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id := insertAttempt(t, store, "u1", 1, 1, 1)

	ok, err := store.ClaimAttempt(ctx, id, time.Now())
	if err != nil || !ok {
		t.Fatalf("first ClaimAttempt() = %v, %v; want true, nil", ok, err)
	}
	ok, err = store.ClaimAttempt(ctx, id, time.Now())
	if err != nil || ok {
		t.Fatalf("second ClaimAttempt() = %v, %v; want false, nil", ok, err)
	}

	pending, err := store.PendingAttempts(ctx)
	if err != nil {
		t.Fatalf("PendingAttempts() failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("claimed attempt still listed as pending")
	}

	if err := store.ReleaseAttempt(ctx, id); err != nil {
		t.Fatalf("ReleaseAttempt() failed: %v", err)
	}
	if ok, _ := store.ClaimAttempt(ctx, id, time.Now()); !ok {
		t.Error("released attempt could not be claimed again")
	}

	if err := store.MarkSynced(ctx, id, "doc-7"); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}
	got, _ := store.GetAttempt(ctx, id)
	if got.SyncState != schema.SyncSynced || got.RemoteID == nil || *got.RemoteID != "doc-7" {
		t.Errorf("after MarkSynced got %+v", got)
	}
	if ok, _ := store.ClaimAttempt(ctx, id, time.Now()); ok {
		t.Error("synced attempt must not be claimable")
	}
}

func TestResetStaleClaims(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := insertAttempt(t, store, "u1", 1, 1, 1)
	live := insertAttempt(t, store, "u1", 1, 1, 2)
	insertAttempt(t, store, "u1", 1, 1, 3)

	if ok, err := store.ClaimAttempt(ctx, stale, base); !ok || err != nil {
		t.Fatalf("ClaimAttempt(%d) = %v, %v", stale, ok, err)
	}
	if ok, err := store.ClaimAttempt(ctx, live, base.Add(time.Minute)); !ok || err != nil {
		t.Fatalf("ClaimAttempt(%d) = %v, %v", live, ok, err)
	}

	n, err := store.ResetStaleClaims(ctx, base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("ResetStaleClaims() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("ResetStaleClaims() reset %d rows, want 1", n)
	}

	got, _ := store.GetAttempt(ctx, live)
	if got.SyncState != schema.SyncSyncing {
		t.Errorf("live claim state = %s, want syncing", got.SyncState)
	}
	got, _ = store.GetAttempt(ctx, stale)
	if got.SyncState != schema.SyncPending {
		t.Errorf("stale claim state = %s, want pending", got.SyncState)
	}

	n, err = store.ResetStaleClaims(ctx, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ResetStaleClaims() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("second ResetStaleClaims() reset %d rows, want 1", n)
	}

	counts, err := store.StateCounts(ctx)
	if err != nil {
		t.Fatalf("StateCounts() failed: %v", err)
	}
	if counts[schema.SyncPending] != 3 || counts[schema.SyncSyncing] != 0 {
		t.Errorf("StateCounts() = %v", counts)
	}
}

func TestInitSchema_AddsClaimedAtToOldCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	// Cache layout written before claims carried a timestamp.
	if _, err := store.conn.ExecContext(ctx, `
		CREATE TABLE users (uid TEXT PRIMARY KEY, name TEXT, email TEXT);
		CREATE TABLE quiz_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			remote_id TEXT,
			user_id TEXT NOT NULL,
			score INTEGER NOT NULL,
			total_questions INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			sync_state TEXT NOT NULL DEFAULT 'pending'
		);
		INSERT INTO users (uid) VALUES ('u1');
		INSERT INTO quiz_attempts (user_id, score, total_questions, timestamp, sync_state)
		VALUES ('u1', 1, 2, 10, 'syncing');`); err != nil {
		t.Fatalf("failed to seed old schema: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.InitSchema(ctx); err != nil {
			t.Fatalf("InitSchema() #%d failed: %v", i+1, err)
		}
	}

	n, err := store.ResetStaleClaims(ctx, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("ResetStaleClaims() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("ResetStaleClaims() reset %d rows, want 1 (unstamped claim)", n)
	}
}

func TestUpsertProfile_Idempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	p := &schema.UserProfile{UserID: "u1", DisplayName: schema.StringPtr("Ana"), Email: schema.StringPtr("ana@example.com")}
	for i := 0; i < 2; i++ {
		if err := store.UpsertProfile(ctx, p); err != nil {
			t.Fatalf("UpsertProfile() #%d failed: %v", i+1, err)
		}
	}

	count, err := store.CountProfiles(ctx)
	if err != nil {
		t.Fatalf("CountProfiles() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 profile, got %d", count)
	}

	got, err := store.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile() failed: %v", err)
	}
	if *got.DisplayName != "Ana" || *got.Email != "ana@example.com" {
		t.Errorf("GetProfile() = %+v", got)
	}
}

func TestUpsertProfile_LastWriteWins(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_ = store.UpsertProfile(ctx, &schema.UserProfile{UserID: "u1", DisplayName: schema.StringPtr("Old")})
	_ = store.UpsertProfile(ctx, &schema.UserProfile{UserID: "u1", DisplayName: schema.StringPtr("New")})

	name, err := store.GetUserName(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserName() failed: %v", err)
	}
	if name == nil || *name != "New" {
		t.Errorf("GetUserName() = %v, want New", name)
	}
}

func TestDeleteProfile_CascadesAttempts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	insertAttempt(t, store, "u1", 1, 1, 1)
	insertAttempt(t, store, "u1", 1, 1, 2)
	insertAttempt(t, store, "u2", 1, 1, 3)

	if err := store.DeleteProfile(ctx, "u1"); err != nil {
		t.Fatalf("DeleteProfile() failed: %v", err)
	}

	n, err := store.CountAttempts(ctx, "u1")
	if err != nil {
		t.Fatalf("CountAttempts() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected cascade to remove u1 attempts, %d left", n)
	}
	if n, _ := store.CountAttempts(ctx, ""); n != 1 {
		t.Errorf("expected 1 attempt left overall, got %d", n)
	}
}

func TestDeleteAttemptsForUser(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	insertAttempt(t, store, "u1", 1, 1, 1)
	if err := store.DeleteAttemptsForUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteAttemptsForUser() failed: %v", err)
	}
	if err := store.DeleteAttemptsForUser(ctx, "u1"); err != nil {
		t.Fatalf("second DeleteAttemptsForUser() failed: %v", err)
	}
	if n, _ := store.CountAttempts(ctx, "u1"); n != 0 {
		t.Errorf("expected 0 attempts, got %d", n)
	}
}

func TestWatchHistory_ReemitsOnWrite(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	insertAttempt(t, store, "u1", 1, 5, 1000)

	ch, err := store.WatchHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("WatchHistory() failed: %v", err)
	}

	first := <-ch
	if len(first) != 1 {
		t.Fatalf("initial snapshot has %d attempts, want 1", len(first))
	}

	// A write for another user must not wake this watcher.
	insertAttempt(t, store, "u2", 1, 5, 1500)
	insertAttempt(t, store, "u1", 2, 5, 2000)

	select {
	case next := <-ch:
		if len(next) != 2 {
			t.Fatalf("second snapshot has %d attempts, want 2", len(next))
		}
		if next[0].Timestamp != 2000 {
			t.Errorf("newest attempt timestamp = %d, want 2000", next[0].Timestamp)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for re-emission")
	}
}

func TestWatchHistory_WriteDuringFirstSnapshot(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The first load reads an empty history, then a write lands before the
	// snapshot is delivered.
	var loads int
	load := func(ctx context.Context) ([]*schema.QuizAttempt, error) {
		loads++
		got, err := store.HistoryForUser(ctx, "u1")
		if loads == 1 {
			insertAttempt(t, store, "u1", 4, 5, 3000)
		}
		return got, err
	}

	ch, err := watch(ctx, store, "u1", load)
	if err != nil {
		t.Fatalf("watch() failed: %v", err)
	}
	if first := <-ch; len(first) != 0 {
		t.Fatalf("initial snapshot has %d attempts, want 0", len(first))
	}

	select {
	case next := <-ch:
		if len(next) != 1 || next[0].Timestamp != 3000 {
			t.Errorf("follow-up snapshot = %+v, want the concurrent write", next)
		}
	case <-ctx.Done():
		t.Fatal("write during the first snapshot was never re-emitted")
	}
}

func TestWatchHistory_ClosesOnCancel(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := store.WatchHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("WatchHistory() failed: %v", err)
	}
	<-ch
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// A snapshot may race with cancellation; the next read must see the close.
			if _, ok := <-ch; ok {
				t.Error("channel still open after cancel")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestWatchProfile(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := store.WatchProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("WatchProfile() failed: %v", err)
	}
	if p := <-ch; p != nil {
		t.Fatalf("initial profile = %+v, want nil", p)
	}

	if err := store.UpsertProfile(ctx, &schema.UserProfile{UserID: "u1", DisplayName: schema.StringPtr("Ana")}); err != nil {
		t.Fatalf("UpsertProfile() failed: %v", err)
	}

	select {
	case p := <-ch:
		if p == nil || p.DisplayName == nil || *p.DisplayName != "Ana" {
			t.Errorf("profile after upsert = %+v", p)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for profile update")
	}
}
