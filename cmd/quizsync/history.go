package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/quizapp/quizsync/internal/quiz/schema"
	"github.com/quizapp/quizsync/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "quiz",
	Short:   "Show the signed-in user's quiz history",
	Long: `Show quiz attempts from the local cache, newest first.

With --refresh the remote history is merged into the cache and unsynced
attempts are pushed before printing. With --follow the list is reprinted on
every change to the cache, including attempts saved by other quizsync
processes, until interrupted.

Examples:
  quizsync history --refresh
  quizsync history --since "last week"
  quizsync history --follow`,
	Run: func(cmd *cobra.Command, args []string) {
		refresh, _ := cmd.Flags().GetBool("refresh")
		follow, _ := cmd.Flags().GetBool("follow")
		sinceText, _ := cmd.Flags().GetString("since")

		var since time.Time
		if sinceText != "" {
			var err error
			if since, err = parseSince(sinceText, time.Now()); err != nil {
				fatalf("%v", err)
			}
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a := mustOpen(ctx, nil)
		defer a.close()
		uid := a.currentUser()

		if refresh {
			res := a.engine.FetchRemoteHistoryAndCache(ctx, uid)
			if res.FromRemote() {
				fmt.Printf("%s History %s\n", ui.RenderPass("✓"), res)
			} else {
				fmt.Printf("%s History %s\n", ui.RenderWarn("⚠"), res)
			}
			if _, err := a.engine.SyncAllUnsyncedAttempts(ctx); err != nil {
				fmt.Printf("%s Sync failed: %v\n", ui.RenderWarn("⚠"), err)
			}
		}

		if !follow {
			attempts, err := a.engine.LocalHistory(ctx, uid)
			if err != nil {
				fatalf("%v", err)
			}
			ui.PrintHistory(cmd.OutOrStdout(), filterSince(attempts, since), time.Now())
			return
		}

		if err := followHistory(ctx, a, uid, since); err != nil {
			fatalf("%v", err)
		}
	},
}

func followHistory(ctx context.Context, a *app, uid string, since time.Time) error {
	stop, err := a.followExternalWrites()
	if err != nil {
		return err
	}
	defer stop()

	snapshots, err := a.engine.WatchHistory(ctx, uid)
	if err != nil {
		return err
	}
	for attempts := range snapshots {
		if ui.IsInteractive() {
			fmt.Print("\033[H\033[2J")
		}
		fmt.Printf("%s %s\n\n", ui.RenderAccent("History of"), uid)
		ui.PrintHistory(os.Stdout, filterSince(attempts, since), time.Now())
		fmt.Println(ui.RenderMuted("\nWatching for changes, Ctrl+C to stop"))
	}
	return nil
}

// parseSince accepts a Go duration ("36h") or a natural language time
// ("yesterday", "last monday", "2 weeks ago").
func parseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if d, err := time.ParseDuration(text); err == nil {
		return now.Add(-d), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --since %q", text)
	}
	return r.Time, nil
}

func filterSince(attempts []*schema.QuizAttempt, since time.Time) []*schema.QuizAttempt {
	if since.IsZero() {
		return attempts
	}
	out := attempts[:0:0]
	for _, a := range attempts {
		if !a.Time().Before(since) {
			out = append(out, a)
		}
	}
	return out
}

func init() {
	historyCmd.Flags().BoolP("follow", "f", false, "reprint on every change")
	historyCmd.Flags().Bool("refresh", false, "merge remote history and push unsynced attempts first")
	historyCmd.Flags().String("since", "", `only attempts after this time ("yesterday", "3 days ago", "48h")`)

	rootCmd.AddCommand(historyCmd)
}
