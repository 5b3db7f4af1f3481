package schema

import "fmt"

// RankingCollection is the remote collection holding per-user totals keyed by user id.
const RankingCollection = "ranking"

// AnonymousName is used for ranking entries when no display name can be resolved.
const AnonymousName = "anonymous user"

// RankingEntry is a user's running score total. It only exists remotely.
type RankingEntry struct {
	UserID     string `json:"userId"`
	Name       string `json:"name"`
	TotalScore int64  `json:"totalScore"`
}

// Validate checks the entry's field values.
func (r *RankingEntry) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if r.TotalScore < 0 {
		return fmt.Errorf("totalScore cannot be negative (got %d)", r.TotalScore)
	}
	return nil
}

// Document returns the remote representation of the entry.
func (r *RankingEntry) Document() map[string]any {
	return map[string]any{
		"userId":     r.UserID,
		"name":       r.Name,
		"totalScore": r.TotalScore,
	}
}

// RankingFromDocument converts a ranking document into an entry.
// The document id is used when the userId field is missing.
func RankingFromDocument(id string, fields map[string]any) *RankingEntry {
	r := &RankingEntry{UserID: id}
	if uid, ok := StringField(fields, "userId"); ok && uid != "" {
		r.UserID = uid
	}
	r.Name, _ = StringField(fields, "name")
	r.TotalScore, _ = IntField(fields, "totalScore")
	return r
}
