package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/domain/interfaces"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
	"github.com/secmon-lab/mentionist/pkg/utils/errutil"
)

// DirectoryLookup resolves users from the synced directory first and asks the
// workspace's provider only for misses. Provider results are written back to
// the directory.
type DirectoryLookup struct {
	repo      interfaces.Repository
	providers map[string]interfaces.UserLookup
}

var _ interfaces.UserLookup = &DirectoryLookup{}

// NewDirectoryLookup creates a DirectoryLookup. providers is keyed by workspace ID.
func NewDirectoryLookup(repo interfaces.Repository, providers map[string]interfaces.UserLookup) *DirectoryLookup {
	return &DirectoryLookup{
		repo:      repo,
		providers: providers,
	}
}

// LookupUsers returns the users of ids that exist, in the order of ids
func (d *DirectoryLookup) LookupUsers(ctx context.Context, workspaceID string, ids []string) ([]*model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]model.UserID, len(ids))
	for i, id := range ids {
		keys[i] = model.UserID(id)
	}

	found, err := d.repo.User().GetByIDs(ctx, workspaceID, keys)
	if err != nil {
		// Directory is an optimization; fall through to the provider
		_ = errutil.Handle(ctx, goerr.Wrap(err, "failed to read user directory",
			goerr.V(WorkspaceIDKey, workspaceID)), "failed to read user directory")
		found = make(map[model.UserID]*model.User)
	}

	var misses []string
	for _, key := range keys {
		if _, ok := found[key]; !ok {
			misses = append(misses, string(key))
		}
	}

	if len(misses) > 0 {
		provider, ok := d.providers[workspaceID]
		if !ok {
			return nil, goerr.Wrap(ErrNoProvider, "cannot resolve users",
				goerr.V(WorkspaceIDKey, workspaceID),
				goerr.V("misses", misses))
		}

		fetched, err := provider.LookupUsers(ctx, workspaceID, misses)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to lookup users from provider",
				goerr.V(WorkspaceIDKey, workspaceID),
				goerr.V("count", len(misses)))
		}

		valid := make([]*model.User, 0, len(fetched))
		for _, u := range fetched {
			if u != nil {
				found[u.ID] = u
				valid = append(valid, u)
			}
		}

		if len(valid) > 0 {
			if err := d.repo.User().SaveMany(ctx, workspaceID, valid); err != nil {
				_ = errutil.Handle(ctx, goerr.Wrap(err, "failed to write through users",
					goerr.V(WorkspaceIDKey, workspaceID),
					goerr.V(UserIDKey, userIDs(valid))), "failed to write through users")
			}
		}
	}

	result := make([]*model.User, 0, len(found))
	for _, key := range keys {
		if u, ok := found[key]; ok {
			result = append(result, u)
		}
	}
	return result, nil
}

func userIDs(users []*model.User) []model.UserID {
	ids := make([]model.UserID, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}
