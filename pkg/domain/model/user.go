package model

import "time"

// UnknownUserName is the canonical name given to placeholder records
const UnknownUserName = "Unknown User"

// UserID is the cache key of a user within one workspace
type UserID string

// User represents one resolved identity of an integration workspace
type User struct {
	ID          UserID
	ExternalID  string    // Provider-specific identifier (e.g. raw mention token), may be empty
	Name        string    // Canonical handle (e.g. "john.doe")
	DisplayName string    // Optional human-friendly name
	FullName    string    // Optional real name (e.g. "John Doe")
	AvatarURL   string    // Avatar URL (empty string = no image)
	UpdatedAt   time.Time // Last synchronized from the provider
}

// NewPlaceholderUser builds the record stored for a key that could not be resolved
func NewPlaceholderUser(id UserID) *User {
	return &User{
		ID:   id,
		Name: UnknownUserName,
	}
}

// IsPlaceholder reports whether u was synthesized for an unresolved key
func (u *User) IsPlaceholder() bool {
	return u != nil && u.Name == UnknownUserName && u.ExternalID == "" &&
		u.DisplayName == "" && u.FullName == "" && u.AvatarURL == ""
}

// Label returns the best human-readable name of u, falling back to fallback.
// Preference: FullName, DisplayName, Name.
func (u *User) Label(fallback string) string {
	if u == nil {
		return fallback
	}
	switch {
	case u.FullName != "":
		return u.FullName
	case u.DisplayName != "":
		return u.DisplayName
	case u.Name != "":
		return u.Name
	default:
		return fallback
	}
}

// Clone returns a copy of u
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// UserDirectoryMetadata tracks the health of user directory synchronization for a workspace
type UserDirectoryMetadata struct {
	LastRefreshSuccess time.Time // Last successful refresh time
	LastRefreshAttempt time.Time // Last refresh attempt time (success or failure)
	UserCount          int       // Number of users at last successful refresh
}
