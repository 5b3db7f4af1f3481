package main

import (
	"context"
	"fmt"
	"log"

	"github.com/quizapp/quizsync/internal/logging"
	"github.com/quizapp/quizsync/internal/quiz/daemon"
	"github.com/quizapp/quizsync/internal/quiz/identity"
	"github.com/quizapp/quizsync/internal/quiz/local"
	"github.com/quizapp/quizsync/internal/quiz/remote"
	quizsync "github.com/quizapp/quizsync/internal/quiz/sync"
)

// app bundles the stores and the engine opened by a command.
type app struct {
	logs     *logging.Factory
	local    *local.Store
	remote   *remote.DocStore
	identity *identity.FileProvider
	engine   *quizsync.Engine
}

func openLogs() (*logging.Factory, error) {
	logs, err := logging.New(cfg.Log.Logging())
	if err != nil {
		return nil, fmt.Errorf("failed to open log output: %w", err)
	}
	return logs, nil
}

// openApp opens both stores and starts the engine. listener may be nil.
func openApp(ctx context.Context, listener quizsync.Listener) (*app, error) {
	logs, err := openLogs()
	if err != nil {
		return nil, err
	}
	a := &app{logs: logs, identity: identity.NewFileProvider(cfg.Identity.Session)}

	a.local, err = local.Open(cfg.Local.Path)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open local cache: %w", err)
	}
	if err := a.local.InitSchema(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize local cache: %w", err)
	}

	a.remote, err = remote.Open(ctx, cfg.Remote.Driver, cfg.Remote.DSN, remote.Options{
		MaxAttempts: cfg.Remote.MaxAttempts,
		Logger:      logs.Logger("remote"),
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open remote store: %w", err)
	}

	a.engine, err = quizsync.New(ctx, quizsync.Config{
		Local:    a.local,
		Remote:   a.remote,
		Identity: a.identity,
		Logger:   logs.Logger("sync"),
		Listener: listener,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// close waits for queued pushes and releases everything.
func (a *app) close() {
	if a.engine != nil {
		if err := a.engine.Flush(context.Background()); err != nil {
			a.logger("sync").Printf("flush failed: %v", err)
		}
		_ = a.engine.Close()
	}
	if a.remote != nil {
		_ = a.remote.Close()
	}
	if a.local != nil {
		_ = a.local.Close()
	}
	_ = a.logs.Close()
}

func (a *app) logger(component string) *log.Logger {
	return a.logs.Logger(component)
}

// followExternalWrites relays writes other processes make to the cache file
// into this process's watchers. Call the returned func to stop.
func (a *app) followExternalWrites() (func(), error) {
	f, err := daemon.NewFollower(a.local, cfg.Local.Path, cfg.Daemon.Debounce, a.logger("follow"))
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", cfg.Local.Path, err)
	}
	if err := f.Start(); err != nil {
		return nil, err
	}
	return func() { _ = f.Stop() }, nil
}

// currentUser returns the signed-in uid or exits.
func (a *app) currentUser() string {
	uid, ok := a.identity.CurrentUserID()
	if !ok {
		a.close()
		fatalf("not signed in (run 'quizsync login')")
	}
	return uid
}

// mustOpen is openApp for commands that cannot continue without it.
func mustOpen(ctx context.Context, listener quizsync.Listener) *app {
	a, err := openApp(ctx, listener)
	if err != nil {
		fatalf("%v", err)
	}
	return a
}
