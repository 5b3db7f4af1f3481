package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/quizapp/quizsync/internal/quiz/local"
	"github.com/quizapp/quizsync/internal/quiz/remote"
	"github.com/quizapp/quizsync/internal/quiz/schema"
)

// WatchProfile returns a live view of the cached profile of userID. nil is
// sent while the user isn't cached.
func (e *Engine) WatchProfile(ctx context.Context, userID string) (<-chan *schema.UserProfile, error) {
	ch, err := e.local.WatchProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to watch profile: %w", err)
	}
	return ch, nil
}

// Profile returns the cached profile of userID, or nil when not cached.
func (e *Engine) Profile(ctx context.Context, userID string) (*schema.UserProfile, error) {
	p, err := e.local.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, local.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return p, nil
}

// GetUserName implements Syncer.GetUserName.
func (e *Engine) GetUserName(ctx context.Context, userID string) (*string, error) {
	name, err := e.local.GetUserName(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached name: %w", err)
	}
	if name != nil {
		return name, nil
	}

	e.FetchAndCacheUserData(ctx, userID)

	name, err = e.local.GetUserName(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached name: %w", err)
	}
	return name, nil
}

// FetchAndCacheUserData implements Syncer.FetchAndCacheUserData.
//
// When the users document is missing and the signed-in user is userID, the
// identity provider's name and email are cached instead.
func (e *Engine) FetchAndCacheUserData(ctx context.Context, userID string) RefreshResult {
	var profile *schema.UserProfile

	fields, err := e.remote.GetDocument(ctx, schema.UsersCollection, userID)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		profile = e.identityProfile(userID)
		if profile == nil {
			result := RefreshResult{Source: SourceRemote, Skipped: 1}
			e.emit(Event{Type: EventProfileRefreshed, UserID: userID, Refresh: &result})
			return result
		}
	case err != nil:
		return e.cacheFallback(EventProfileRefreshed, userID, fmt.Errorf("failed to fetch profile: %w", err))
	default:
		profile = schema.ProfileFromDocument(userID, fields)
	}

	if err := e.local.UpsertProfile(ctx, profile); err != nil {
		return e.cacheFallback(EventProfileRefreshed, userID, fmt.Errorf("failed to cache profile: %w", err))
	}

	result := RefreshResult{Source: SourceRemote, Updated: 1}
	e.emit(Event{Type: EventProfileRefreshed, UserID: userID, Refresh: &result})
	return result
}

// identityProfile builds a profile from the identity provider, or returns nil
// unless the signed-in user is userID.
func (e *Engine) identityProfile(userID string) *schema.UserProfile {
	current, ok := e.identity.CurrentUserID()
	if !ok || current != userID {
		return nil
	}
	p := &schema.UserProfile{UserID: userID}
	if name, ok := e.identity.CurrentDisplayName(); ok {
		p.DisplayName = schema.StringPtr(name)
	}
	if email, ok := e.identity.CurrentEmail(); ok {
		p.Email = schema.StringPtr(email)
	}
	return p
}

// SaveUserToRemoteAndCache implements Syncer.SaveUserToRemoteAndCache.
func (e *Engine) SaveUserToRemoteAndCache(ctx context.Context, userID string, name, email *string) error {
	profile := &schema.UserProfile{UserID: userID, DisplayName: name, Email: email}
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	if err := e.remote.SetDocument(ctx, schema.UsersCollection, userID, profile.Document()); err != nil {
		return fmt.Errorf("failed to save profile remotely: %w", unavailable(err))
	}

	if err := e.local.UpsertProfile(ctx, profile); err != nil {
		return fmt.Errorf("failed to cache profile: %w", err)
	}

	e.logger.Printf("Saved profile for %s", userID)
	e.emit(Event{Type: EventProfileSaved, UserID: userID})
	return nil
}

// unavailable makes sure a remote write failure matches remote.ErrUnavailable.
func unavailable(err error) error {
	if errors.Is(err, remote.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", remote.ErrUnavailable, err)
}
