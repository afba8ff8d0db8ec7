package slack

import (
	"github.com/secmon-lab/mentionist/pkg/domain/interfaces"
)

// Service provides user resolution for one Slack workspace.
//
// LookupUsers resolves mention tokens (Slack user IDs) through users.info.
// ListUsers enumerates all non-deleted, non-bot users for directory sync.
type Service interface {
	interfaces.UserProvider
}
