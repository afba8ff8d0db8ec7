package notion

import (
	"github.com/secmon-lab/mentionist/pkg/domain/interfaces"
)

// Service provides user resolution for one Notion workspace.
// Keys are Notion user IDs (UUIDs).
type Service interface {
	interfaces.UserProvider
}
