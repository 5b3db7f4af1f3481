package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/quizapp/quizsync/internal/quiz/schema"
)

// RenderState colors a sync state.
func RenderState(s schema.SyncState) string {
	switch s {
	case schema.SyncSynced:
		return RenderPass(string(s))
	case schema.SyncSyncing:
		return RenderAccent(string(s))
	default:
		return RenderWarn(string(s))
	}
}

// PrintHistory writes one line per attempt. Times are relative to now.
func PrintHistory(w io.Writer, attempts []*schema.QuizAttempt, now time.Time) {
	if len(attempts) == 0 {
		fmt.Fprintln(w, RenderMuted("No quiz attempts yet"))
		return
	}
	fmt.Fprintln(w, RenderHeader(fmt.Sprintf("%-6s %-8s %-5s %-8s %s", "ID", "SCORE", "PCT", "STATE", "WHEN")))
	for _, a := range attempts {
		pct := 0
		if a.TotalQuestions > 0 {
			pct = a.Score * 100 / a.TotalQuestions
		}
		score := fmt.Sprintf("%d/%d", a.Score, a.TotalQuestions)
		// Pad before styling so escape codes do not break alignment.
		state := RenderState(a.SyncState) + pad(len(a.SyncState), 8)
		fmt.Fprintf(w, "%-6d %-8s %-5s %s %s\n",
			a.LocalID, score, fmt.Sprintf("%d%%", pct), state,
			humanize.RelTime(a.Time(), now, "ago", "from now"))
	}
}

// PrintRanking writes the leaderboard in the order given.
func PrintRanking(w io.Writer, entries []*schema.RankingEntry, currentUserID string) {
	if len(entries) == 0 {
		fmt.Fprintln(w, RenderMuted("The ranking is empty"))
		return
	}
	fmt.Fprintln(w, RenderHeader(fmt.Sprintf("%-5s %-24s %s", "POS", "NAME", "POINTS")))
	for i, e := range entries {
		name := e.Name
		if e.UserID == currentUserID {
			name = RenderAccent(name)
		}
		name += pad(len(e.Name), 24)
		fmt.Fprintf(w, "%-5s %s %s\n", humanize.Ordinal(i+1), name, humanize.Comma(e.TotalScore))
	}
}

// PrintProfile writes a profile. A nil profile prints a hint instead.
func PrintProfile(w io.Writer, p *schema.UserProfile) {
	if p == nil {
		fmt.Fprintln(w, RenderWarn("No cached profile"))
		return
	}
	fmt.Fprintf(w, "User:  %s\n", p.UserID)
	fmt.Fprintf(w, "Name:  %s\n", orNone(p.DisplayName))
	fmt.Fprintf(w, "Email: %s\n", orNone(p.Email))
}

// FormatBytes is a human size, e.g. "1.2 MB".
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func orNone(s *string) string {
	if s == nil || *s == "" {
		return RenderMuted("(none)")
	}
	return *s
}

func pad(used, width int) string {
	if used >= width {
		return ""
	}
	return strings.Repeat(" ", width-used)
}
