package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
)

func openTestStore(t *testing.T, maxAttempts int) *DocStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remote.db")
	s, err := Open(context.Background(), "sqlite3", path, Options{
		MaxAttempts: maxAttempts,
		Logger:      log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x", Options{})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestAddAndGetDocument(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	id, err := s.AddDocument(ctx, "history", map[string]any{"userId": "u1", "score": 7})
	if err != nil {
		t.Fatalf("AddDocument() failed: %v", err)
	}
	if len(id) != 32 {
		t.Errorf("id = %q, want 32 hex chars", id)
	}

	other, err := s.AddDocument(ctx, "history", map[string]any{"userId": "u1", "score": 3})
	if err != nil {
		t.Fatalf("AddDocument() failed: %v", err)
	}
	if other == id {
		t.Error("AddDocument() returned a duplicate id")
	}

	fields, err := s.GetDocument(ctx, "history", id)
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	if fields["userId"] != "u1" {
		t.Errorf("userId = %v, want u1", fields["userId"])
	}
	if fields["score"].(json.Number).String() != "7" {
		t.Errorf("score = %v, want 7", fields["score"])
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	s := openTestStore(t, 0)
	_, err := s.GetDocument(context.Background(), "users", "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocument() error = %v, want ErrNotFound", err)
	}
}

func TestSetDocument_Replaces(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	if err := s.SetDocument(ctx, "users", "u1", map[string]any{"name": "Ana", "email": "a@x"}); err != nil {
		t.Fatalf("SetDocument() failed: %v", err)
	}
	if err := s.SetDocument(ctx, "users", "u1", map[string]any{"name": "Bia"}); err != nil {
		t.Fatalf("SetDocument() failed: %v", err)
	}

	fields, err := s.GetDocument(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	if fields["name"] != "Bia" {
		t.Errorf("name = %v, want Bia", fields["name"])
	}
	if _, ok := fields["email"]; ok {
		t.Error("SetDocument() should replace, not merge")
	}
}

func TestInvalidPaths(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	tests := []struct {
		name       string
		collection string
		id         string
	}{
		{"empty collection", "", "a"},
		{"trailing slash", "users/", "a"},
		{"empty id", "users", ""},
		{"slash in id", "users", "a/b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SetDocument(ctx, tt.collection, tt.id, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestQueryCollection(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	docs := []map[string]any{
		{"userId": "u1", "totalScore": 10},
		{"userId": "u2", "totalScore": 30},
		{"userId": "u3", "totalScore": 20},
		{"userId": "u1", "totalScore": 5},
	}
	for _, d := range docs {
		if _, err := s.AddDocument(ctx, "ranking", d); err != nil {
			t.Fatalf("AddDocument() failed: %v", err)
		}
	}
	if _, err := s.AddDocument(ctx, "quizzes/geral/questions", map[string]any{"userId": "u1"}); err != nil {
		t.Fatalf("AddDocument() failed: %v", err)
	}

	tests := []struct {
		name      string
		query     Query
		wantUsers []string
	}{
		{
			name:      "order desc",
			query:     Query{Collection: "ranking", OrderBy: "totalScore", Desc: true},
			wantUsers: []string{"u2", "u3", "u1", "u1"},
		},
		{
			name:      "limit",
			query:     Query{Collection: "ranking", OrderBy: "totalScore", Desc: true, Limit: 2},
			wantUsers: []string{"u2", "u3"},
		},
		{
			name:      "filter",
			query:     Query{Collection: "ranking", Filters: []Filter{{Field: "userId", Value: "u1"}}, OrderBy: "totalScore"},
			wantUsers: []string{"u1", "u1"},
		},
		{
			name:      "nested collection is separate",
			query:     Query{Collection: "quizzes/geral/questions"},
			wantUsers: []string{"u1"},
		},
		{
			name:      "no match",
			query:     Query{Collection: "ranking", Filters: []Filter{{Field: "userId", Value: "zz"}}},
			wantUsers: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryCollection(ctx, tt.query)
			if err != nil {
				t.Fatalf("QueryCollection() failed: %v", err)
			}
			if len(got) != len(tt.wantUsers) {
				t.Fatalf("got %d docs, want %d", len(got), len(tt.wantUsers))
			}
			for i, d := range got {
				if d.Fields["userId"] != tt.wantUsers[i] {
					t.Errorf("doc[%d].userId = %v, want %s", i, d.Fields["userId"], tt.wantUsers[i])
				}
			}
		})
	}
}

func TestQueryCollection_RejectsBadField(t *testing.T) {
	s := openTestStore(t, 0)
	_, err := s.QueryCollection(context.Background(), Query{Collection: "ranking", OrderBy: "x'); DROP TABLE documents; --"})
	if err == nil {
		t.Fatal("expected error for invalid field name")
	}
}

func TestRunTransaction_CreateThenUpdate(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	increment := func(ctx context.Context, tx Txn) error {
		fields, exists, err := tx.Get("ranking", "u1")
		if err != nil {
			return err
		}
		if !exists {
			return tx.Set("ranking", "u1", map[string]any{"userId": "u1", "totalScore": 5})
		}
		n, _ := fields["totalScore"].(json.Number).Int64()
		return tx.Update("ranking", "u1", map[string]any{"totalScore": n + 5})
	}

	for i := 0; i < 3; i++ {
		if err := s.RunTransaction(ctx, increment); err != nil {
			t.Fatalf("RunTransaction() failed: %v", err)
		}
	}

	fields, err := s.GetDocument(ctx, "ranking", "u1")
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	if got := fields["totalScore"].(json.Number).String(); got != "15" {
		t.Errorf("totalScore = %s, want 15", got)
	}
	if fields["userId"] != "u1" {
		t.Error("Update() dropped an existing field")
	}
}

func TestRunTransaction_BodyErrorAborts(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	boom := errors.New("boom")
	calls := 0

	err := s.RunTransaction(ctx, func(ctx context.Context, tx Txn) error {
		calls++
		if err := tx.Set("ranking", "u1", map[string]any{"totalScore": 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("RunTransaction() error = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("body ran %d times, want 1", calls)
	}
	if _, err := s.GetDocument(ctx, "ranking", "u1"); !errors.Is(err, ErrNotFound) {
		t.Error("aborted transaction should not write")
	}
}

func TestRunTransaction_UpdateMissing(t *testing.T) {
	s := openTestStore(t, 0)
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx Txn) error {
		return tx.Update("ranking", "ghost", map[string]any{"totalScore": 1})
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("RunTransaction() error = %v, want ErrNotFound", err)
	}
}

func TestRunTransaction_ReadAfterWrite(t *testing.T) {
	s := openTestStore(t, 0)
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx Txn) error {
		if err := tx.Set("ranking", "a", nil); err != nil {
			return err
		}
		_, _, err := tx.Get("ranking", "b")
		return err
	})
	if err == nil {
		t.Fatal("expected error for read after write")
	}
}

func TestRunTransaction_RetriesOnConflict(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	if err := s.SetDocument(ctx, "ranking", "u1", map[string]any{"totalScore": 0}); err != nil {
		t.Fatalf("SetDocument() failed: %v", err)
	}

	calls := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx Txn) error {
		calls++
		if _, _, err := tx.Get("ranking", "u1"); err != nil {
			return err
		}
		if calls == 1 {
			// a concurrent writer moves the version under us
			if err := s.SetDocument(ctx, "ranking", "u1", map[string]any{"totalScore": 100}); err != nil {
				return err
			}
		}
		return tx.Update("ranking", "u1", map[string]any{"seen": calls})
	})
	if err != nil {
		t.Fatalf("RunTransaction() failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("body ran %d times, want 2", calls)
	}

	fields, err := s.GetDocument(ctx, "ranking", "u1")
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	if got := fields["totalScore"].(json.Number).String(); got != "100" {
		t.Errorf("totalScore = %s, want 100 (retry must re-read)", got)
	}
}

func TestRunTransaction_GivesUp(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()

	if err := s.SetDocument(ctx, "ranking", "u1", map[string]any{"totalScore": 0}); err != nil {
		t.Fatalf("SetDocument() failed: %v", err)
	}

	calls := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx Txn) error {
		calls++
		if _, _, err := tx.Get("ranking", "u1"); err != nil {
			return err
		}
		if err := s.SetDocument(ctx, "ranking", "u1", map[string]any{"totalScore": calls}); err != nil {
			return err
		}
		return tx.Update("ranking", "u1", map[string]any{"x": 1})
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("RunTransaction() error = %v, want ErrConflict", err)
	}
	if !IsRetryable(err) {
		t.Error("ErrConflict should be retryable")
	}
	if calls != 2 {
		t.Errorf("body ran %d times, want 2", calls)
	}
}

func TestRunTransaction_ConcurrentIncrements(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.RunTransaction(ctx, func(ctx context.Context, tx Txn) error {
				fields, exists, err := tx.Get("ranking", "u1")
				if err != nil {
					return err
				}
				if !exists {
					return tx.Set("ranking", "u1", map[string]any{"totalScore": 1})
				}
				n, err := fields["totalScore"].(json.Number).Int64()
				if err != nil {
					return err
				}
				return tx.Update("ranking", "u1", map[string]any{"totalScore": n + 1})
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("RunTransaction() failed: %v", err)
		}
	}

	fields, err := s.GetDocument(ctx, "ranking", "u1")
	if err != nil {
		t.Fatalf("GetDocument() failed: %v", err)
	}
	if got := fields["totalScore"].(json.Number).String(); got != "8" {
		t.Errorf("totalScore = %s, want 8", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", ErrUnavailable, true},
		{"wrapped conflict", errors.Join(errors.New("x"), ErrConflict), true},
		{"not found", ErrNotFound, false},
		{"other", errors.New("other"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDialectRebind(t *testing.T) {
	pg := dialect{name: "postgres", postgres: true}
	got := pg.rebind("SELECT * FROM documents WHERE collection = ? AND id = ?")
	want := "SELECT * FROM documents WHERE collection = $1 AND id = $2"
	if got != want {
		t.Errorf("rebind() = %q, want %q", got, want)
	}
	lite := dialect{name: "sqlite3"}
	if lite.rebind("a = ?") != "a = ?" {
		t.Error("sqlite3 rebind should be identity")
	}
}
