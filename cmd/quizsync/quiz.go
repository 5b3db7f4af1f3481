package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quizapp/quizsync/internal/quiz/schema"
	"github.com/quizapp/quizsync/internal/ui"
)

var playCmd = &cobra.Command{
	Use:     "play",
	GroupID: "quiz",
	Short:   "Play a quiz and record the result",
	Long: `Load the questions of a quiz from the remote store, ask them in random order,
then save the attempt and add the score to the ranking.`,
	Run: func(cmd *cobra.Command, args []string) {
		quizID, _ := cmd.Flags().GetString("quiz")
		count, _ := cmd.Flags().GetInt("count")

		ctx := cmd.Context()
		a := mustOpen(ctx, nil)
		defer a.close()
		uid := a.currentUser()

		questions, err := a.engine.LoadQuestions(ctx, quizID)
		if err != nil {
			fatalf("%v", err)
		}
		if len(questions) == 0 {
			fatalf("quiz %q has no questions", quizID)
		}
		if count > 0 && count < len(questions) {
			questions = questions[:count]
		}

		answers, err := ui.PlayQuiz(questions)
		if errors.Is(err, ui.ErrNotInteractive) {
			fatalf("play needs a terminal (use 'quizsync attempt save' to record a score)")
		}
		if err != nil {
			fatalf("%v", err)
		}

		score := ui.Grade(questions, answers)
		fmt.Printf("\n%s You scored %d/%d\n", ui.RenderAccent("★"), score, len(questions))
		recordResult(ctx, a, uid, score, len(questions), true)
	},
}

var attemptCmd = &cobra.Command{
	Use:     "attempt",
	GroupID: "quiz",
	Short:   "Record quiz attempts",
}

var attemptSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Record a finished quiz",
	Long: `Save an attempt locally and queue its push to the remote store. The command
returns once the push has been tried; a failed push is retried by 'quizsync sync'.`,
	Run: func(cmd *cobra.Command, args []string) {
		score, _ := cmd.Flags().GetInt("score")
		total, _ := cmd.Flags().GetInt("total")
		noRanking, _ := cmd.Flags().GetBool("no-ranking")

		ctx := cmd.Context()
		a := mustOpen(ctx, nil)
		defer a.close()

		recordResult(ctx, a, a.currentUser(), score, total, !noRanking)
	},
}

// recordResult saves the attempt, waits for its push and optionally credits
// the ranking.
func recordResult(ctx context.Context, a *app, uid string, score, total int, ranking bool) {
	id, err := a.engine.SaveQuizAttempt(ctx, uid, score, total)
	if err != nil {
		fatalf("%v", err)
	}
	if err := a.engine.Flush(ctx); err != nil {
		fatalf("%v", err)
	}

	att, err := a.local.GetAttempt(ctx, id)
	if err != nil {
		fatalf("%v", err)
	}
	if att.SyncState == schema.SyncSynced {
		fmt.Printf("%s Attempt %d saved and synced\n", ui.RenderPass("✓"), id)
	} else {
		fmt.Printf("%s Attempt %d saved locally, push pending\n", ui.RenderWarn("⚠"), id)
	}

	if !ranking || score == 0 {
		return
	}
	if err := a.engine.UpdateUserRanking(ctx, uid, int64(score)); err != nil {
		fmt.Printf("%s Ranking not updated: %v\n", ui.RenderWarn("⚠"), err)
		return
	}
	fmt.Printf("%s Ranking +%d\n", ui.RenderPass("✓"), score)
}

var rankingCmd = &cobra.Command{
	Use:     "ranking",
	GroupID: "quiz",
	Short:   "Show the global ranking",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := cmd.Context()
		a := mustOpen(ctx, nil)
		defer a.close()

		entries, err := a.engine.TopRanking(ctx, limit)
		if err != nil {
			fatalf("%v", err)
		}
		uid, _ := a.identity.CurrentUserID()
		ui.PrintRanking(cmd.OutOrStdout(), entries, uid)
	},
}

var rankingAddCmd = &cobra.Command{
	Use:   "add <points>",
	Short: "Add points to the signed-in user's ranking entry",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		points, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fatalf("invalid points %q: %v", args[0], err)
		}

		ctx := cmd.Context()
		a := mustOpen(ctx, nil)
		defer a.close()

		if err := a.engine.UpdateUserRanking(ctx, a.currentUser(), points); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Ranking +%d\n", ui.RenderPass("✓"), points)
	},
}

func init() {
	playCmd.Flags().String("quiz", schema.DefaultQuizID, "quiz id")
	playCmd.Flags().IntP("count", "n", 0, "ask at most this many questions (0 = all)")

	attemptSaveCmd.Flags().Int("score", 0, "correct answers")
	attemptSaveCmd.Flags().Int("total", 0, "number of questions")
	attemptSaveCmd.Flags().Bool("no-ranking", false, "do not add the score to the ranking")
	_ = attemptSaveCmd.MarkFlagRequired("total")
	attemptCmd.AddCommand(attemptSaveCmd)

	rankingCmd.Flags().Int("limit", 100, "number of entries")
	rankingCmd.AddCommand(rankingAddCmd)

	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(attemptCmd)
	rootCmd.AddCommand(rankingCmd)
}
