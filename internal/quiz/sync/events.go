package sync

import "github.com/quizapp/quizsync/internal/quiz/schema"

// EventType identifies an engine event.
type EventType string

const (
	EventAttemptSaved     EventType = "attempt_saved"
	EventAttemptSynced    EventType = "attempt_synced"
	EventPushFailed       EventType = "push_failed"
	EventHistoryRefreshed EventType = "history_refreshed"
	EventProfileSaved     EventType = "profile_saved"
	EventProfileRefreshed EventType = "profile_refreshed"
	EventRankingUpdated   EventType = "ranking_updated"
	EventSweepCompleted   EventType = "sweep_completed"
)

// Event describes something the engine did. Only the fields relevant to
// Type are set.
type Event struct {
	Type    EventType
	UserID  string
	Attempt *schema.QuizAttempt
	Refresh *RefreshResult
	Sweep   *SweepResult
	Ranking *schema.RankingEntry
	Err     error
}

// Listener receives engine events. It is called synchronously from the
// goroutine that produced the event and must not block.
type Listener func(Event)
