package usecase

import "errors"

// Sentinel errors for use case layer
var (
	ErrInvalidUserID   = errors.New("invalid user ID")
	ErrNoProvider      = errors.New("no user provider for workspace")
	ErrMessageTooLarge = errors.New("message is too large")
)

// Context keys for error values
const (
	WorkspaceIDKey = "workspace_id"
	UserIDKey      = "user_id"
)
