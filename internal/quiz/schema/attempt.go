package schema

import (
	"fmt"
	"time"
)

// SyncState tracks whether an attempt has been replicated to the remote store.
type SyncState string

const (
	// SyncPending means the attempt exists only locally.
	SyncPending SyncState = "pending"
	// SyncSyncing means a push has claimed the row and is in flight.
	SyncSyncing SyncState = "syncing"
	// SyncSynced means the remote store acknowledged the attempt.
	SyncSynced SyncState = "synced"
)

// IsValid reports whether s is one of the known states.
func (s SyncState) IsValid() bool {
	switch s {
	case SyncPending, SyncSyncing, SyncSynced:
		return true
	}
	return false
}

// HistoryCollection is the remote collection holding quiz attempts.
const HistoryCollection = "history"

// QuizAttempt is a single completed quiz, stored in the quiz_attempts table.
type QuizAttempt struct {
	// LocalID is assigned by the local store on insert.
	LocalID int64 `json:"local_id"`

	// RemoteID is the remote document id, nil until the push is acknowledged.
	RemoteID *string `json:"remote_id,omitempty"`

	UserID         string `json:"user_id"`
	Score          int    `json:"score"`
	TotalQuestions int    `json:"total_questions"`

	// Timestamp is the creation time in milliseconds since epoch.
	Timestamp int64 `json:"timestamp"`

	SyncState SyncState `json:"sync_state"`
}

// NewAttempt builds a pending attempt stamped with now.
func NewAttempt(userID string, score, totalQuestions int, now time.Time) *QuizAttempt {
	return &QuizAttempt{
		UserID:         userID,
		Score:          score,
		TotalQuestions: totalQuestions,
		Timestamp:      now.UnixMilli(),
		SyncState:      SyncPending,
	}
}

// Validate checks the attempt's field values.
func (a *QuizAttempt) Validate() error {
	if a.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if a.TotalQuestions <= 0 {
		return fmt.Errorf("total_questions must be positive (got %d)", a.TotalQuestions)
	}
	if a.Score < 0 || a.Score > a.TotalQuestions {
		return fmt.Errorf("score must be between 0 and %d (got %d)", a.TotalQuestions, a.Score)
	}
	if a.Timestamp <= 0 {
		return fmt.Errorf("timestamp is required")
	}
	if !a.SyncState.IsValid() {
		return fmt.Errorf("invalid sync state: %q", a.SyncState)
	}
	if a.SyncState == SyncSynced && a.RemoteID == nil {
		return fmt.Errorf("synced attempt must have a remote id")
	}
	return nil
}

// Time returns the attempt timestamp as a time.Time.
func (a *QuizAttempt) Time() time.Time {
	return time.UnixMilli(a.Timestamp)
}

// Document returns the remote representation of the attempt.
// Local-only fields are left out.
func (a *QuizAttempt) Document() map[string]any {
	return map[string]any{
		"userId":         a.UserID,
		"score":          a.Score,
		"totalQuestions": a.TotalQuestions,
		"timestamp":      a.Timestamp,
	}
}

// AttemptFromDocument converts a history document into a Synced attempt.
// The returned attempt has no LocalID.
func AttemptFromDocument(id string, fields map[string]any) (*QuizAttempt, error) {
	userID, _ := StringField(fields, "userId")
	score, _ := IntField(fields, "score")
	total, _ := IntField(fields, "totalQuestions")
	ts, _ := IntField(fields, "timestamp")

	remoteID := id
	a := &QuizAttempt{
		RemoteID:       &remoteID,
		UserID:         userID,
		Score:          int(score),
		TotalQuestions: int(total),
		Timestamp:      ts,
		SyncState:      SyncSynced,
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid history document %s: %w", id, err)
	}
	return a, nil
}
