package profile

import (
	"context"
	"errors"
)

// AnonymousName is the display name used when a profile cannot be resolved.
const AnonymousName = "Anonymous"

// ErrNotFound is returned by a Store when no user document exists for an id.
var ErrNotFound = errors.New("profile: user document not found")

// AuthorProfile is the display metadata attached to each post an author
// wrote. AvatarURL may be empty.
type AuthorProfile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Anonymous returns the fallback profile for a user id.
func Anonymous(userID string) AuthorProfile {
	return AuthorProfile{UserID: userID, DisplayName: AnonymousName}
}

// Document is the subset of a stored user record that profile resolution
// reads. All fields are optional in the store.
type Document struct {
	Username  string
	FirstName string
	PhotoURL  string
}

// DisplayName picks the name to show for a document: username first, then
// first name, then the anonymous fallback.
func (d Document) DisplayName() string {
	if d.Username != "" {
		return d.Username
	}
	if d.FirstName != "" {
		return d.FirstName
	}
	return AnonymousName
}

// Store looks up user documents for resolution.
type Store interface {
	// GetProfile returns the profile fields of a user document, or
	// ErrNotFound when no document exists.
	GetProfile(ctx context.Context, userID string) (Document, error)
}

// Resolver resolves user ids to author profiles. A resolver never surfaces
// lookup failures; they collapse to the anonymous fallback. The returned
// error is non-nil only when ctx is done before a result is available.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (AuthorProfile, error)
}
