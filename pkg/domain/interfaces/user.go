package interfaces

import (
	"context"

	"github.com/secmon-lab/mentionist/pkg/domain/model"
)

// UserLookup resolves user identifiers of one workspace.
// An empty result means none of ids exist; an error means the lookup itself failed.
type UserLookup interface {
	LookupUsers(ctx context.Context, workspaceID string, ids []string) ([]*model.User, error)
}

// UserLister enumerates every active user of a workspace (for directory sync)
type UserLister interface {
	ListUsers(ctx context.Context) ([]*model.User, error)
}

// UserProvider is a provider client that can both resolve and enumerate users
type UserProvider interface {
	UserLookup
	UserLister
}

// UserRepository provides persistence of the per-workspace user directory.
//
// N+1 Prevention Policy:
// - NO individual Save(user) method - always use SaveMany for batch writes
// - GetByIDs is the only read by key; missing users are not included in the result
// - Directory refresh uses bulk operations: DeleteAll → SaveMany (Replace strategy)
type UserRepository interface {
	// GetAll retrieves all users of a workspace
	GetAll(ctx context.Context, workspaceID string) ([]*model.User, error)

	// GetByIDs retrieves multiple users by IDs. Returns a map of ID -> User.
	GetByIDs(ctx context.Context, workspaceID string, ids []model.UserID) (map[model.UserID]*model.User, error)

	// SaveMany saves multiple users (upsert operation)
	SaveMany(ctx context.Context, workspaceID string, users []*model.User) error

	// DeleteAll deletes all users of a workspace
	DeleteAll(ctx context.Context, workspaceID string) error

	// GetMetadata retrieves refresh metadata. Zero value if never refreshed.
	GetMetadata(ctx context.Context, workspaceID string) (*model.UserDirectoryMetadata, error)

	// SaveMetadata saves refresh metadata
	SaveMetadata(ctx context.Context, workspaceID string, metadata *model.UserDirectoryMetadata) error
}
