package events

import (
	"encoding/json"
	"time"
)

// MessageType defines the type of event message
type MessageType string

const (
	// MessageTypeAttemptSaved indicates an attempt was stored locally
	MessageTypeAttemptSaved MessageType = "attempt_saved"

	// MessageTypeAttemptSynced indicates an attempt reached the remote store
	MessageTypeAttemptSynced MessageType = "attempt_synced"

	// MessageTypePushFailed indicates a push failed and the attempt stays pending
	MessageTypePushFailed MessageType = "push_failed"

	// MessageTypeHistoryRefreshed indicates a remote history refresh finished
	MessageTypeHistoryRefreshed MessageType = "history_refreshed"

	// MessageTypeProfileSaved indicates a profile was registered or edited
	MessageTypeProfileSaved MessageType = "profile_saved"

	// MessageTypeProfileRefreshed indicates a remote profile refresh finished
	MessageTypeProfileRefreshed MessageType = "profile_refreshed"

	// MessageTypeRankingUpdated indicates a ranking total changed
	MessageTypeRankingUpdated MessageType = "ranking_updated"

	// MessageTypeSweepCompleted indicates a pending-attempt sweep finished
	MessageTypeSweepCompleted MessageType = "sweep_completed"

	// MessageTypeStats carries running counters; sent on connect
	MessageTypeStats MessageType = "stats"
)

// Message is one event as sent to clients. UserID names the user the event
// concerns; it is empty for events about the whole cache (stats, sweeps).
type Message struct {
	Type      MessageType     `json:"type"`
	UserID    string          `json:"user_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// AttemptData describes a quiz attempt
type AttemptData struct {
	LocalID        int64  `json:"local_id"`
	RemoteID       string `json:"remote_id,omitempty"`
	UserID         string `json:"user_id"`
	Score          int    `json:"score"`
	TotalQuestions int    `json:"total_questions"`
	SyncState      string `json:"sync_state"`
	Error          string `json:"error,omitempty"`
}

// RefreshData describes a finished refresh
type RefreshData struct {
	UserID   string `json:"user_id"`
	Source   string `json:"source"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
	Error    string `json:"error,omitempty"`
}

// RankingData describes a ranking entry after an update
type RankingData struct {
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	TotalScore int64  `json:"total_score"`
}

// SweepData describes a finished sweep
type SweepData struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// StatsData contains counters since the server started
type StatsData struct {
	Saved        int `json:"saved"`
	Synced       int `json:"synced"`
	PushFailures int `json:"push_failures"`
	Refreshes    int `json:"refreshes"`
	Sweeps       int `json:"sweeps"`
}
