package usercache

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/domain/interfaces"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
	"github.com/secmon-lab/mentionist/pkg/utils/errutil"
)

// Cache is a workspace-scoped user cache with deduplicated lookups.
// Entries are never evicted; the cache lives as long as its workspace session.
//
// Guard order of Lookup is significant: the Loading check comes before the
// resolved map check, and a key is marked Loading before the lock is released,
// so at most one collaborator call per key is in flight.
type Cache struct {
	lookup      interfaces.UserLookup
	workspaceID string

	mu      sync.Mutex
	users   map[model.UserID]*model.User // resolved and failed (placeholder) records
	loading map[model.UserID]struct{}
	failed  map[model.UserID]struct{}

	observers
}

// Option is a functional option for Cache configuration
type Option func(*Cache)

// WithWorkspaceID tags published events with the workspace the cache belongs to
func WithWorkspaceID(workspaceID string) Option {
	return func(c *Cache) {
		c.workspaceID = workspaceID
	}
}

// New creates an empty Cache backed by lookup
func New(lookup interfaces.UserLookup, opts ...Option) *Cache {
	c := &Cache{
		lookup:  lookup,
		users:   make(map[model.UserID]*model.User),
		loading: make(map[model.UserID]struct{}),
		failed:  make(map[model.UserID]struct{}),
	}
	c.observers.init()

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WorkspaceID returns the workspace the cache was created for
func (c *Cache) WorkspaceID() string {
	return c.workspaceID
}

// Lookup returns the user for key, fetching it through the collaborator on first use.
//
// It returns nil when key or workspaceID is empty, when a lookup for key is
// already in flight, and when the collaborator call fails. A key that is not
// found resolves to the placeholder record. Both failure kinds are terminal:
// later calls return the stored placeholder without calling the collaborator.
//
// The collaborator call is detached from ctx cancellation; once started it runs
// to completion so that no key is left Loading by a departed caller.
func (c *Cache) Lookup(ctx context.Context, key, workspaceID string) *model.User {
	if key == "" || workspaceID == "" {
		return nil
	}
	id := model.UserID(key)

	c.mu.Lock()
	if _, ok := c.loading[id]; ok {
		c.mu.Unlock()
		return nil
	}
	if user, ok := c.users[id]; ok {
		c.mu.Unlock()
		return user.Clone()
	}
	c.loading[id] = struct{}{}
	c.mu.Unlock()

	c.publish(Event{WorkspaceID: c.workspaceID, Key: id, State: model.CacheStateLoading})

	users, err := c.lookup.LookupUsers(context.WithoutCancel(ctx), workspaceID, []string{key})
	if err != nil {
		_ = errutil.Handle(ctx, goerr.Wrap(err, "user lookup failed",
			goerr.V("workspace_id", workspaceID),
			goerr.V("user_id", key)), "user lookup failed")
		c.complete(id, model.NewPlaceholderUser(id), true)
		return nil
	}

	if len(users) == 0 || users[0] == nil {
		return c.complete(id, model.NewPlaceholderUser(id), true)
	}

	return c.complete(id, normalize(users[0], id), false)
}

// complete stores the outcome of the lookup of id and publishes it. A record
// seeded by Set while the lookup was in flight is kept and nothing is published.
func (c *Cache) complete(id model.UserID, user *model.User, failed bool) *model.User {
	c.mu.Lock()
	if _, ok := c.loading[id]; !ok {
		current := c.users[id]
		c.mu.Unlock()
		return current.Clone()
	}
	c.users[id] = user
	if failed {
		c.failed[id] = struct{}{}
	}
	delete(c.loading, id)
	c.mu.Unlock()

	state := model.CacheStateResolved
	if failed {
		state = model.CacheStateFailed
	}
	c.publish(Event{WorkspaceID: c.workspaceID, Key: id, State: state, User: user.Clone()})
	return user.Clone()
}

// Set stores user under its ID, replacing any previous entry (last write wins).
// A Failed key is upgraded to Resolved. A key that is Loading becomes Resolved
// at once and the in-flight lookup leaves the stored record untouched.
func (c *Cache) Set(user *model.User) {
	if user == nil || user.ID == "" {
		return
	}
	stored := user.Clone()

	c.mu.Lock()
	c.users[stored.ID] = stored
	delete(c.failed, stored.ID)
	delete(c.loading, stored.ID)
	c.mu.Unlock()

	c.publish(Event{WorkspaceID: c.workspaceID, Key: stored.ID, State: model.CacheStateResolved, User: stored.Clone()})
}

// Cached returns the current record for key without side effects.
// Absent and Loading keys return nil.
func (c *Cache) Cached(key string) *model.User {
	id := model.UserID(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.loading[id]; ok {
		return nil
	}
	return c.users[id].Clone()
}

// IsLoading reports whether a lookup for key is in flight
func (c *Cache) IsLoading(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.loading[model.UserID(key)]
	return ok
}

// HasFailed reports whether the lookup for key ended in the Failed state
func (c *Cache) HasFailed(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.failed[model.UserID(key)]
	return ok
}

// State returns the lifecycle state of key
func (c *Cache) State(key string) model.CacheState {
	id := model.UserID(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(id)
}

func (c *Cache) stateLocked(id model.UserID) model.CacheState {
	if _, ok := c.loading[id]; ok {
		return model.CacheStateLoading
	}
	if _, ok := c.failed[id]; ok {
		return model.CacheStateFailed
	}
	if _, ok := c.users[id]; ok {
		return model.CacheStateResolved
	}
	return model.CacheStateUnknown
}

// Snapshot returns a point-in-time copy of every readable entry.
// Keys that are Loading are excluded.
func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := make(Snapshot, len(c.users))
	for id, user := range c.users {
		if _, ok := c.loading[id]; ok {
			continue
		}
		snap[id] = user.Clone()
	}
	return snap
}

// Snapshot is an immutable view of a Cache
type Snapshot map[model.UserID]*model.User

// Cached returns the record for key, or nil
func (s Snapshot) Cached(key string) *model.User {
	return s[model.UserID(key)].Clone()
}

// normalize maps a provider record onto the cache key. A provider-side ID that
// differs from the key is kept as ExternalID.
func normalize(user *model.User, id model.UserID) *model.User {
	u := user.Clone()
	if u.ID != id {
		if u.ExternalID == "" {
			u.ExternalID = string(u.ID)
		}
		u.ID = id
	}
	if u.ExternalID == "" {
		u.ExternalID = string(id)
	}
	return u
}
