// Package identity answers "who is signed in on this device".
//
// The sync engine only reads identity; signing in and out is the job of the
// session owner (the CLI's login/logout commands).
package identity

// Provider exposes the signed-in user, if any. Each accessor reports false
// when no user is signed in or the attribute is unknown.
type Provider interface {
	// CurrentUserID returns the uid of the signed-in user.
	CurrentUserID() (string, bool)

	// CurrentDisplayName returns the name the user signed in with. The sync
	// engine caches it when the remote store has no users document.
	CurrentDisplayName() (string, bool)

	// CurrentEmail returns the email the user signed in with, used like
	// CurrentDisplayName.
	CurrentEmail() (string, bool)
}

// Static is a fixed identity. The zero value is signed out.
type Static struct {
	UserID      string
	DisplayName string
	Email       string
}

// CurrentUserID reports false for the zero value.
func (s Static) CurrentUserID() (string, bool) {
	return s.UserID, s.UserID != ""
}

// CurrentDisplayName reports false when signed out or the name is empty.
func (s Static) CurrentDisplayName() (string, bool) {
	if s.UserID == "" {
		return "", false
	}
	return s.DisplayName, s.DisplayName != ""
}

// CurrentEmail reports false when signed out or the email is empty.
func (s Static) CurrentEmail() (string, bool) {
	if s.UserID == "" {
		return "", false
	}
	return s.Email, s.Email != ""
}
