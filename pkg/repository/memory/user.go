package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/secmon-lab/mentionist/pkg/domain/interfaces"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
)

type userRepository struct {
	mu       sync.RWMutex
	users    map[string]map[model.UserID]*model.User
	metadata map[string]*model.UserDirectoryMetadata
}

var _ interfaces.UserRepository = &userRepository{}

func newUserRepository() *userRepository {
	return &userRepository{
		users:    make(map[string]map[model.UserID]*model.User),
		metadata: make(map[string]*model.UserDirectoryMetadata),
	}
}

// GetAll retrieves all users of a workspace, ordered by ID
func (r *userRepository) GetAll(ctx context.Context, workspaceID string) ([]*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ws := r.users[workspaceID]
	users := make([]*model.User, 0, len(ws))
	for _, user := range ws {
		// Return a copy to prevent external modifications
		users = append(users, user.Clone())
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	return users, nil
}

// GetByIDs retrieves multiple users by IDs
func (r *userRepository) GetByIDs(ctx context.Context, workspaceID string, ids []model.UserID) (map[model.UserID]*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[model.UserID]*model.User, len(ids))
	ws := r.users[workspaceID]
	for _, id := range ids {
		if user, ok := ws[id]; ok {
			result[id] = user.Clone()
		}
	}

	return result, nil
}

// SaveMany saves multiple users (upsert operation)
func (r *userRepository) SaveMany(ctx context.Context, workspaceID string, users []*model.User) error {
	if len(users) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ws, ok := r.users[workspaceID]
	if !ok {
		ws = make(map[model.UserID]*model.User, len(users))
		r.users[workspaceID] = ws
	}
	for _, user := range users {
		ws[user.ID] = user.Clone()
	}

	return nil
}

// DeleteAll deletes all users of a workspace
func (r *userRepository) DeleteAll(ctx context.Context, workspaceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.users, workspaceID)
	return nil
}

// GetMetadata retrieves refresh metadata
func (r *userRepository) GetMetadata(ctx context.Context, workspaceID string) (*model.UserDirectoryMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	md, ok := r.metadata[workspaceID]
	if !ok {
		return &model.UserDirectoryMetadata{}, nil
	}
	copied := *md
	return &copied, nil
}

// SaveMetadata saves refresh metadata
func (r *userRepository) SaveMetadata(ctx context.Context, workspaceID string, metadata *model.UserDirectoryMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *metadata
	r.metadata[workspaceID] = &copied
	return nil
}
