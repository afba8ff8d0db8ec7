package config

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors for configuration validation
var (
	ErrConfigNotFound       = goerr.New("configuration file not found")
	ErrInvalidConfig        = goerr.New("invalid configuration")
	ErrDuplicateWorkspaceID = goerr.New("duplicate workspace ID")
	ErrMissingCredential    = goerr.New("provider credential is required")
)

// Context keys for error values
const (
	ConfigPathKey     = "config_path"
	WorkspaceIDKey    = "workspace_id"
	WorkspaceIndexKey = "workspace_index"
)
