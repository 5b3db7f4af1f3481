package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quizapp/quizsync/internal/quiz/loadtest"
	"github.com/quizapp/quizsync/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "sync",
	Short:   "Stress the sync engine with concurrent players",
	Long: `Run concurrent players against a throwaway local cache and sqlite remote
store, then check that every attempt was pushed exactly once and that no
ranking points were lost.

The configured stores are not touched.`,
	Run: func(cmd *cobra.Command, args []string) {
		players, _ := cmd.Flags().GetInt("players")
		attempts, _ := cmd.Flags().GetInt("attempts")
		seed, _ := cmd.Flags().GetUint64("seed")
		keep, _ := cmd.Flags().GetBool("keep")

		dir, err := os.MkdirTemp("", "quizsync-loadtest-")
		if err != nil {
			fatalf("%v", err)
		}
		if !keep {
			defer os.RemoveAll(dir)
		}

		logs, err := openLogs()
		if err != nil {
			fatalf("%v", err)
		}
		defer logs.Close()

		ctx := cmd.Context()
		env, err := loadtest.NewEnv(ctx, dir, logs.Logger("loadtest"))
		if err != nil {
			fatalf("%v", err)
		}
		defer env.Close()

		fmt.Printf("%s Running %d players x %d attempts in %s\n", ui.RenderAccent("🔄"), players, attempts, dir)
		report, err := env.Run(ctx, loadtest.Options{Players: players, AttemptsPerPlayer: attempts, Seed: seed})
		if err != nil {
			fatalf("%v", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out)
		report.Save.Print(out, "SaveQuizAttempt")
		report.Ranking.Print(out, "UpdateUserRanking")
		fmt.Fprintf(out, "\nElapsed: %v\n", report.Elapsed.Round(time.Millisecond))
		fmt.Fprintf(out, "Sweep:   %s\n\n", report.Sweep)

		if err := report.Verify(); err != nil {
			fatalf("verification failed: %v", err)
		}
		fmt.Printf("%s %d attempts synced once, ranking total %d\n", ui.RenderPass("✓"), report.Attempts, report.RankingTotal)
	},
}

func init() {
	loadtestCmd.Flags().Int("players", 16, "concurrent players")
	loadtestCmd.Flags().Int("attempts", 20, "attempts per player")
	loadtestCmd.Flags().Uint64("seed", uint64(time.Now().UnixNano()), "score seed")
	loadtestCmd.Flags().Bool("keep", false, "keep the temporary databases")

	rootCmd.AddCommand(loadtestCmd)
}
