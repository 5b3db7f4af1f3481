package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quizapp/quizsync/internal/quiz/daemon"
	"github.com/quizapp/quizsync/internal/quiz/events"
	"github.com/quizapp/quizsync/internal/quiz/schema"
	quizsync "github.com/quizapp/quizsync/internal/quiz/sync"
	"github.com/quizapp/quizsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push every unsynced attempt to the remote store",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := mustOpen(ctx, nil)
		defer a.close()

		start := time.Now()
		res, err := a.engine.SyncAllUnsyncedAttempts(ctx)
		if err != nil {
			fatalf("%v", err)
		}

		mark := ui.RenderPass("✓")
		if res.Failed > 0 {
			mark = ui.RenderWarn("⚠")
		}
		fmt.Printf("%s Sync complete in %v\n", mark, time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Pending: %d\n", res.Pending)
		fmt.Printf("   Synced:  %d\n", res.Synced)
		fmt.Printf("   Failed:  %d\n", res.Failed)
		if res.Skipped > 0 {
			fmt.Printf("   Skipped: %d (pushed by another process)\n", res.Skipped)
		}
	},
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon in the foreground",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Push unsynced attempts at startup and every daemon.sweep_interval
  2. Refresh the signed-in user's history and profile on each sweep
  3. Watch the local cache so live views follow writes from other processes
  4. Broadcast engine events over WebSocket on events.port (ws://127.0.0.1:<port>/ws)`,
	Run: func(cmd *cobra.Command, args []string) {
		noEvents, _ := cmd.Flags().GetBool("no-events")
		if cmd.Flags().Changed("port") {
			cfg.Events.Port, _ = cmd.Flags().GetInt("port")
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := runDaemon(ctx, !noEvents); err != nil {
			fatalf("%v", err)
		}
	},
}

func runDaemon(ctx context.Context, withEvents bool) error {
	var (
		server   *events.Server
		listener quizsync.Listener
	)
	if withEvents {
		logs, err := openLogs()
		if err != nil {
			return err
		}
		defer logs.Close()

		server = events.NewServer(&events.Config{
			Port:   cfg.Events.Port,
			Logger: logs.Logger("events"),
		})
		listener = events.NewHandler(server, logs.Logger("events")).Handle
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start event server: %w", err)
		}
		defer server.Stop()
	}

	a, err := openApp(ctx, listener)
	if err != nil {
		return err
	}
	defer a.close()

	d, err := daemon.NewWithConfig(a.engine, a.local, cfg.Local.Path, &daemon.Config{
		SweepInterval:    cfg.Daemon.SweepInterval,
		DebounceInterval: cfg.Daemon.Debounce,
		Identity:         a.identity,
		Logger:           a.logger("daemon"),
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
	fmt.Printf("   Cache:  %s\n", cfg.Local.Path)
	fmt.Printf("   Remote: %s\n", cfg.Remote.Driver)
	fmt.Printf("   Sweep:  every %s\n", cfg.Daemon.SweepInterval)
	if server != nil {
		fmt.Printf("   Events: ws://%s/ws\n", server.GetAddr())
	}
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	// Start blocks until ctx is cancelled.
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("daemon stopped with error: %w", err)
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show cache and sync status",
	Run: func(cmd *cobra.Command, args []string) {
		info, err := os.Stat(cfg.Local.Path)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Local cache not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'quizsync login' or 'quizsync sync' to create it\n\n")
			return
		}
		if err != nil {
			fatalf("checking cache: %v", err)
		}

		ctx := cmd.Context()
		a := mustOpen(ctx, nil)
		defer a.close()

		counts, err := a.local.StateCounts(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		profiles, err := a.local.CountProfiles(ctx)
		if err != nil {
			fatalf("%v", err)
		}

		user := ui.RenderMuted("(signed out)")
		if uid, ok := a.identity.CurrentUserID(); ok {
			user = uid
			if name, ok := a.identity.CurrentDisplayName(); ok {
				user = fmt.Sprintf("%s (%s)", uid, name)
			}
		}

		fmt.Printf("\n%s quizsync status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("User:     %s\n", user)
		fmt.Printf("Cache:    %s\n", cfg.Local.Path)
		fmt.Printf("Size:     %s\n", ui.FormatBytes(info.Size()))
		fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		fmt.Printf("Profiles: %d\n", profiles)
		fmt.Printf("Attempts: %s synced, %s pending, %s syncing\n",
			ui.RenderPass(fmt.Sprint(counts[schema.SyncSynced])),
			ui.RenderWarn(fmt.Sprint(counts[schema.SyncPending])),
			ui.RenderAccent(fmt.Sprint(counts[schema.SyncSyncing])))
		fmt.Printf("Remote:   %s\n", cfg.Remote.Driver)
		fmt.Println()
	},
}

func init() {
	daemonCmd.Flags().IntP("port", "p", 0, "event server port (default: events.port)")
	daemonCmd.Flags().Bool("no-events", false, "do not start the event server")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
}
