package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	quizsync "github.com/quizapp/quizsync/internal/quiz/sync"
)

// Handler turns engine events into broadcast messages. Its Handle method is
// a sync.Listener.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a handler connected to an event server. New clients
// receive the handler's counters as their first message.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{
		server: server,
		logger: logger,
	}
	server.welcome = h.statsMessage
	return h
}

// Handle implements sync.Listener.
func (h *Handler) Handle(ev quizsync.Event) {
	msgType, userID, data := h.convert(ev)
	if msgType == "" {
		return
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", msgType, err)
		return
	}

	h.server.Broadcast(Message{
		Type:      msgType,
		UserID:    userID,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// convert maps an engine event to its message type, the user it concerns
// and its payload. An empty type means the event is not sent.
func (h *Handler) convert(ev quizsync.Event) (MessageType, string, any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Type {
	case quizsync.EventAttemptSaved:
		h.stats.Saved++
		return MessageTypeAttemptSaved, ev.UserID, attemptData(ev)

	case quizsync.EventAttemptSynced:
		h.stats.Synced++
		return MessageTypeAttemptSynced, ev.UserID, attemptData(ev)

	case quizsync.EventPushFailed:
		h.stats.PushFailures++
		return MessageTypePushFailed, ev.UserID, attemptData(ev)

	case quizsync.EventHistoryRefreshed:
		h.stats.Refreshes++
		return MessageTypeHistoryRefreshed, ev.UserID, refreshData(ev)

	case quizsync.EventProfileRefreshed:
		h.stats.Refreshes++
		return MessageTypeProfileRefreshed, ev.UserID, refreshData(ev)

	case quizsync.EventProfileSaved:
		return MessageTypeProfileSaved, ev.UserID, map[string]string{"user_id": ev.UserID}

	case quizsync.EventRankingUpdated:
		if ev.Ranking == nil {
			return "", "", nil
		}
		return MessageTypeRankingUpdated, ev.Ranking.UserID, RankingData{
			UserID:     ev.Ranking.UserID,
			Name:       ev.Ranking.Name,
			TotalScore: ev.Ranking.TotalScore,
		}

	case quizsync.EventSweepCompleted:
		h.stats.Sweeps++
		if ev.Sweep == nil {
			return MessageTypeSweepCompleted, "", SweepData{}
		}
		return MessageTypeSweepCompleted, "", SweepData{
			Pending: ev.Sweep.Pending,
			Synced:  ev.Sweep.Synced,
			Failed:  ev.Sweep.Failed,
			Skipped: ev.Sweep.Skipped,
		}

	default:
		h.logger.Printf("Ignoring unknown event type %q", ev.Type)
		return "", "", nil
	}
}

func attemptData(ev quizsync.Event) AttemptData {
	d := AttemptData{UserID: ev.UserID}
	if a := ev.Attempt; a != nil {
		d.LocalID = a.LocalID
		d.Score = a.Score
		d.TotalQuestions = a.TotalQuestions
		d.SyncState = string(a.SyncState)
		if a.RemoteID != nil {
			d.RemoteID = *a.RemoteID
		}
	}
	if ev.Err != nil {
		d.Error = ev.Err.Error()
	}
	return d
}

func refreshData(ev quizsync.Event) RefreshData {
	d := RefreshData{UserID: ev.UserID}
	if r := ev.Refresh; r != nil {
		d.Source = string(r.Source)
		d.Inserted = r.Inserted
		d.Updated = r.Updated
		d.Skipped = r.Skipped
		if r.Err != nil {
			d.Error = r.Err.Error()
		}
	}
	return d
}

func (h *Handler) statsMessage() Message {
	stats := h.GetStats()
	data, _ := json.Marshal(stats)
	return Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// GetStats returns the current counters
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}
