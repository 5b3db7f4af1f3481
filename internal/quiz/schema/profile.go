package schema

import "fmt"

// UsersCollection is the remote collection holding profile documents keyed by user id.
const UsersCollection = "users"

// UserProfile is the cached identity of a user, stored in the users table.
type UserProfile struct {
	UserID      string  `json:"uid"`
	DisplayName *string `json:"name,omitempty"`
	Email       *string `json:"email,omitempty"`
}

// Validate checks the profile's field values.
func (p *UserProfile) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("uid is required")
	}
	return nil
}

// Document returns the remote representation of the profile.
func (p *UserProfile) Document() map[string]any {
	doc := map[string]any{}
	if p.DisplayName != nil {
		doc["name"] = *p.DisplayName
	}
	if p.Email != nil {
		doc["email"] = *p.Email
	}
	return doc
}

// ProfileFromDocument converts a users document into a profile.
// Missing or non-string fields become nil.
func ProfileFromDocument(userID string, fields map[string]any) *UserProfile {
	p := &UserProfile{UserID: userID}
	if name, ok := StringField(fields, "name"); ok {
		p.DisplayName = &name
	}
	if email, ok := StringField(fields, "email"); ok {
		p.Email = &email
	}
	return p
}

// StringPtr returns nil for an empty string, otherwise a pointer to s.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
