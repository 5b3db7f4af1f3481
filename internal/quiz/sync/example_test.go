package sync_test

import (
	"context"
	"fmt"
	"log"

	"github.com/quizapp/quizsync/internal/quiz/identity"
	"github.com/quizapp/quizsync/internal/quiz/local"
	"github.com/quizapp/quizsync/internal/quiz/remote"
	"github.com/quizapp/quizsync/internal/quiz/sync"
)

// This example demonstrates wiring the engine to its stores.
// Note: This is for documentation only and won't run as a test.
func ExampleNew() {
	ctx := context.Background()

	store, err := local.Open(".quizsync/quiz.db")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()
	if err := store.InitSchema(ctx); err != nil {
		log.Fatal(err)
	}

	docs, err := remote.Open(ctx, "sqlite3", ".quizsync/remote.db", remote.Options{})
	if err != nil {
		log.Fatal(err)
	}
	defer docs.Close()

	engine, err := sync.New(ctx, sync.Config{
		Local:    store,
		Remote:   docs,
		Identity: identity.NewFileProvider(".quizsync/session.toml"),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	result, err := engine.SyncAllUnsyncedAttempts(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("Startup sweep:", result)
}

// This example demonstrates the quiz completion flow.
func ExampleEngine_SaveQuizAttempt() {
	var engine *sync.Engine // from sync.New
	ctx := context.Background()

	id, err := engine.SaveQuizAttempt(ctx, "u1", 7, 10)
	if err != nil {
		log.Fatal(err)
	}

	// The ranking update is foreground: its error is for the user.
	if err := engine.UpdateUserRanking(ctx, "u1", 7); err != nil {
		fmt.Println("Ranking not updated:", err)
	}

	// Wait for the background push before exiting.
	_ = engine.Flush(ctx)
	fmt.Println("Saved attempt", id)
}

// This example demonstrates a cache-first history screen.
func ExampleEngine_WatchHistory() {
	var engine *sync.Engine
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	history, err := engine.WatchHistory(ctx, "u1")
	if err != nil {
		log.Fatal(err)
	}

	go func() {
		if r := engine.FetchRemoteHistoryAndCache(ctx, "u1"); !r.FromRemote() {
			log.Printf("showing cached history: %v", r.Err)
		}
	}()

	for snapshot := range history {
		fmt.Println(len(snapshot), "attempts")
	}
}
