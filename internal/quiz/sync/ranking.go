package sync

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/quizapp/quizsync/internal/quiz/remote"
	"github.com/quizapp/quizsync/internal/quiz/schema"
)

// DefaultRankingLimit is the number of entries TopRanking returns by default.
const DefaultRankingLimit = 100

// UpdateUserRanking implements Syncer.UpdateUserRanking.
//
// The transaction reads the users document (for the display name) and the
// ranking document. An existing total is incremented; a missing entry is
// created with the resolved name. Conflicting concurrent updates are retried
// by the remote store, so no increment is lost.
func (e *Engine) UpdateUserRanking(ctx context.Context, userID string, scoreGained int64) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if scoreGained < 0 {
		return fmt.Errorf("score gained cannot be negative (got %d)", scoreGained)
	}

	var entry *schema.RankingEntry
	err := e.remote.RunTransaction(ctx, func(ctx context.Context, tx remote.Txn) error {
		profile, _, err := tx.Get(schema.UsersCollection, userID)
		if err != nil {
			return err
		}
		current, exists, err := tx.Get(schema.RankingCollection, userID)
		if err != nil {
			return err
		}

		if exists {
			entry = schema.RankingFromDocument(userID, current)
			entry.TotalScore += scoreGained
			return tx.Update(schema.RankingCollection, userID, map[string]any{
				"totalScore": entry.TotalScore,
			})
		}

		entry = &schema.RankingEntry{
			UserID:     userID,
			Name:       e.rankingName(userID, profile),
			TotalScore: scoreGained,
		}
		return tx.Set(schema.RankingCollection, userID, entry.Document())
	})
	if err != nil {
		return fmt.Errorf("failed to update ranking for %s: %w", userID, err)
	}

	e.logger.Printf("Ranking for %s is now %d (+%d)", userID, entry.TotalScore, scoreGained)
	e.emit(Event{Type: EventRankingUpdated, UserID: userID, Ranking: entry})
	return nil
}

// rankingName picks the profile name, then the signed-in display name, then
// the anonymous placeholder.
func (e *Engine) rankingName(userID string, profile map[string]any) string {
	if name, ok := schema.StringField(profile, "name"); ok && name != "" {
		return name
	}
	if current, ok := e.identity.CurrentUserID(); ok && current == userID {
		if name, ok := e.identity.CurrentDisplayName(); ok && name != "" {
			return name
		}
	}
	return schema.AnonymousName
}

// TopRanking returns the highest ranking totals, best first. A limit of zero
// or less means DefaultRankingLimit.
func (e *Engine) TopRanking(ctx context.Context, limit int) ([]*schema.RankingEntry, error) {
	if limit <= 0 {
		limit = DefaultRankingLimit
	}
	docs, err := e.remote.QueryCollection(ctx, remote.Query{
		Collection: schema.RankingCollection,
		OrderBy:    "totalScore",
		Desc:       true,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load ranking: %w", err)
	}

	entries := make([]*schema.RankingEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, schema.RankingFromDocument(doc.ID, doc.Fields))
	}
	return entries, nil
}

// LoadQuestions returns the questions of a quiz in random order. Invalid
// question documents are skipped.
func (e *Engine) LoadQuestions(ctx context.Context, quizID string) ([]*schema.Question, error) {
	if quizID == "" {
		quizID = schema.DefaultQuizID
	}
	docs, err := e.remote.QueryCollection(ctx, remote.Query{Collection: schema.QuestionsCollection(quizID)})
	if err != nil {
		return nil, fmt.Errorf("failed to load questions for %s: %w", quizID, err)
	}

	questions := make([]*schema.Question, 0, len(docs))
	for _, doc := range docs {
		q, err := schema.QuestionFromDocument(doc.Fields)
		if err != nil {
			e.logger.Printf("Skipping question %s: %v", doc.ID, err)
			continue
		}
		questions = append(questions, q)
	}

	rand.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
	return questions, nil
}
