package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quizapp/quizsync/internal/quiz/schema"
)

// UpsertProfile inserts or replaces the profile for p.UserID.
// Last write wins; calling it twice with the same fields leaves one row.
func (s *Store) UpsertProfile(ctx context.Context, p *schema.UserProfile) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO users (uid, name, email) VALUES (?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			name = excluded.name,
			email = excluded.email`,
		p.UserID, nullString(p.DisplayName), nullString(p.Email),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile %s: %w", p.UserID, err)
	}

	s.notifier.notify(p.UserID)
	return nil
}

// GetProfile retrieves a cached profile.
// Returns ErrNotFound if the user isn't cached.
func (s *Store) GetProfile(ctx context.Context, userID string) (*schema.UserProfile, error) {
	var name, email sql.NullString
	err := s.conn.QueryRowContext(ctx,
		`SELECT name, email FROM users WHERE uid = ?`, userID).Scan(&name, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}

	return &schema.UserProfile{
		UserID:      userID,
		DisplayName: stringPtr(name),
		Email:       stringPtr(email),
	}, nil
}

// GetUserName returns the cached display name, or nil when the user is not
// cached or has no name.
func (s *Store) GetUserName(ctx context.Context, userID string) (*string, error) {
	p, err := s.GetProfile(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.DisplayName, nil
}

// DeleteProfile removes a profile. Its attempts are removed by the cascade.
func (s *Store) DeleteProfile(ctx context.Context, userID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM users WHERE uid = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", userID, err)
	}
	s.notifier.notify(userID)
	return nil
}

// CountProfiles returns the number of cached profiles.
func (s *Store) CountProfiles(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return count, nil
}
