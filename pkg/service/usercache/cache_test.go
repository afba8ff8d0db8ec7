package usercache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
	"github.com/secmon-lab/mentionist/pkg/service/usercache"
)

// mockLookup is a controllable implementation of interfaces.UserLookup
type mockLookup struct {
	mu      sync.Mutex
	users   map[string]*model.User
	err     error
	calls   atomic.Int32
	gate    chan struct{} // when non-nil, every call blocks until it is closed
	started chan string   // receives the key of each call when non-nil
}

func newMockLookup() *mockLookup {
	return &mockLookup{users: make(map[string]*model.User)}
}

func (m *mockLookup) add(u *model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[string(u.ID)] = u
}

func (m *mockLookup) LookupUsers(ctx context.Context, workspaceID string, ids []string) ([]*model.User, error) {
	m.calls.Add(1)
	if m.started != nil {
		m.started <- ids[0]
	}
	if m.gate != nil {
		<-m.gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	var result []*model.User
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			c := *u
			result = append(result, &c)
		}
	}
	return result, nil
}

func TestCache_LookupResolved(t *testing.T) {
	lookup := newMockLookup()
	lookup.add(&model.User{ID: "U12345", Name: "ada", FullName: "Ada Lovelace"})
	cache := usercache.New(lookup)
	ctx := context.Background()

	user := cache.Lookup(ctx, "U12345", "W1")
	gt.Value(t, user).NotNil().Required()
	gt.Value(t, user.FullName).Equal("Ada Lovelace")
	gt.Value(t, user.ExternalID).Equal("U12345")

	gt.Value(t, cache.State("U12345")).Equal(model.CacheStateResolved)
	gt.Bool(t, cache.IsLoading("U12345")).False()
	gt.Bool(t, cache.HasFailed("U12345")).False()
	gt.Value(t, cache.Cached("U12345").Name).Equal("ada")
}

func TestCache_LookupNotFound(t *testing.T) {
	lookup := newMockLookup()
	cache := usercache.New(lookup)

	user := cache.Lookup(context.Background(), "U1", "W1")
	gt.Value(t, user).NotNil().Required()
	gt.Value(t, user.Name).Equal("Unknown User")
	gt.Value(t, user.DisplayName).Equal("")
	gt.Value(t, user.FullName).Equal("")
	gt.Value(t, user.AvatarURL).Equal("")

	gt.Bool(t, cache.HasFailed("U1")).True()
	gt.Value(t, cache.State("U1")).Equal(model.CacheStateFailed)
	gt.Bool(t, cache.Cached("U1").IsPlaceholder()).True()
}

func TestCache_LookupTransportFailure(t *testing.T) {
	lookup := newMockLookup()
	lookup.err = errors.New("connection reset")
	cache := usercache.New(lookup)
	ctx := context.Background()

	gt.Value(t, cache.Lookup(ctx, "U1", "W1")).Nil()
	gt.Bool(t, cache.HasFailed("U1")).True()
	gt.Bool(t, cache.IsLoading("U1")).False()

	// Failed is terminal: the placeholder is served without another call
	again := cache.Lookup(ctx, "U1", "W1")
	gt.Value(t, again).NotNil().Required()
	gt.Value(t, again.Name).Equal(model.UnknownUserName)
	gt.Value(t, lookup.calls.Load()).Equal(int32(1))
}

func TestCache_LookupInvalidRequest(t *testing.T) {
	lookup := newMockLookup()
	cache := usercache.New(lookup)
	ctx := context.Background()

	gt.Value(t, cache.Lookup(ctx, "", "W1")).Nil()
	gt.Value(t, cache.Lookup(ctx, "U1", "")).Nil()
	gt.Value(t, lookup.calls.Load()).Equal(int32(0))
	gt.Value(t, cache.State("U1")).Equal(model.CacheStateUnknown)
	gt.Bool(t, cache.HasFailed("U1")).False()
}

func TestCache_TerminalStateIsNotRefetched(t *testing.T) {
	lookup := newMockLookup()
	lookup.add(&model.User{ID: "U1", Name: "ada"})
	cache := usercache.New(lookup)
	ctx := context.Background()

	for range 5 {
		gt.Value(t, cache.Lookup(ctx, "U1", "W1")).NotNil()
		gt.Value(t, cache.Lookup(ctx, "U404", "W1")).NotNil()
	}
	gt.Value(t, lookup.calls.Load()).Equal(int32(2))
}

func TestCache_DeduplicatesConcurrentLookups(t *testing.T) {
	lookup := newMockLookup()
	lookup.add(&model.User{ID: "U1", Name: "ada"})
	lookup.gate = make(chan struct{})
	lookup.started = make(chan string, 1)
	cache := usercache.New(lookup)
	ctx := context.Background()

	first := make(chan *model.User, 1)
	go func() {
		first <- cache.Lookup(ctx, "U1", "W1")
	}()
	<-lookup.started

	gt.Bool(t, cache.IsLoading("U1")).True()
	gt.Value(t, cache.Cached("U1")).Nil()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// In-flight lookups observe Loading and return immediately
			gt.Value(t, cache.Lookup(ctx, "U1", "W1")).Nil()
		}()
	}
	wg.Wait()

	close(lookup.gate)
	user := <-first
	gt.Value(t, user).NotNil().Required()
	gt.Value(t, user.Name).Equal("ada")
	gt.Value(t, lookup.calls.Load()).Equal(int32(1))
}

func TestCache_DifferentKeysDoNotBlockEachOther(t *testing.T) {
	lookup := newMockLookup()
	lookup.add(&model.User{ID: "U1", Name: "ada"})
	lookup.add(&model.User{ID: "U2", Name: "grace"})
	cache := usercache.New(lookup)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, key := range []string{"U1", "U2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gt.Value(t, cache.Lookup(ctx, key, "W1")).NotNil()
		}()
	}
	wg.Wait()

	gt.Value(t, lookup.calls.Load()).Equal(int32(2))
	gt.Value(t, cache.State("U1")).Equal(model.CacheStateResolved)
	gt.Value(t, cache.State("U2")).Equal(model.CacheStateResolved)
}

func TestCache_LookupSurvivesCallerCancellation(t *testing.T) {
	lookup := newMockLookup()
	lookup.add(&model.User{ID: "U1", Name: "ada"})
	cache := usercache.New(lookup)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	user := cache.Lookup(ctx, "U1", "W1")
	gt.Value(t, user).NotNil()
	gt.Value(t, cache.State("U1")).Equal(model.CacheStateResolved)
}

func TestCache_NormalizesProviderID(t *testing.T) {
	lookup := &fixedLookup{user: &model.User{ID: "MDQ6VXNlcjE=", Name: "octocat"}}
	cache := usercache.New(lookup)

	user := cache.Lookup(context.Background(), "octocat", "gh")
	gt.Value(t, user).NotNil().Required()
	gt.Value(t, user.ID).Equal(model.UserID("octocat"))
	gt.Value(t, user.ExternalID).Equal("MDQ6VXNlcjE=")
}

type fixedLookup struct {
	user *model.User
}

func (f *fixedLookup) LookupUsers(ctx context.Context, workspaceID string, ids []string) ([]*model.User, error) {
	c := *f.user
	return []*model.User{&c}, nil
}

func TestCache_Set(t *testing.T) {
	lookup := newMockLookup()
	cache := usercache.New(lookup)
	ctx := context.Background()

	cache.Lookup(ctx, "U1", "W1")
	gt.Bool(t, cache.HasFailed("U1")).True()

	// Upgrading a placeholder to a real record; last write wins
	cache.Set(&model.User{ID: "U1", Name: "ada"})
	gt.Bool(t, cache.HasFailed("U1")).False()
	gt.Value(t, cache.State("U1")).Equal(model.CacheStateResolved)
	gt.Value(t, cache.Cached("U1").Name).Equal("ada")

	cache.Set(&model.User{ID: "U1", Name: "ada2"})
	gt.Value(t, cache.Cached("U1").Name).Equal("ada2")

	cache.Set(nil)
	cache.Set(&model.User{})
	gt.Value(t, lookup.calls.Load()).Equal(int32(1))
}

func TestCache_SetWhileLoading(t *testing.T) {
	lookup := newMockLookup()
	lookup.err = errors.New("connection reset")
	lookup.gate = make(chan struct{})
	lookup.started = make(chan string, 1)
	cache := usercache.New(lookup)

	var mu sync.Mutex
	var states []model.CacheState
	unsubscribe := cache.Subscribe(func(ev usercache.Event) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, ev.State)
	})
	defer unsubscribe()

	done := make(chan *model.User, 1)
	go func() {
		done <- cache.Lookup(context.Background(), "U1", "W1")
	}()
	<-lookup.started

	cache.Set(&model.User{ID: "U1", Name: "ada"})
	gt.Bool(t, cache.IsLoading("U1")).False()
	gt.Value(t, cache.State("U1")).Equal(model.CacheStateResolved)
	gt.NoError(t, cache.Wait(context.Background(), []string{"U1"}))

	// The failing lookup does not overwrite the seeded record
	close(lookup.gate)
	<-done
	gt.Value(t, cache.State("U1")).Equal(model.CacheStateResolved)
	gt.Bool(t, cache.HasFailed("U1")).False()
	gt.Value(t, cache.Cached("U1").Name).Equal("ada")

	mu.Lock()
	defer mu.Unlock()
	gt.Value(t, states).Equal([]model.CacheState{model.CacheStateLoading, model.CacheStateResolved})
}

func TestCache_Settle(t *testing.T) {
	t.Run("waits for keys not looked up yet", func(t *testing.T) {
		lookup := newMockLookup()
		lookup.add(&model.User{ID: "U1", Name: "ada"})
		cache := usercache.New(lookup)

		settled := make(chan error, 1)
		go func() {
			settled <- cache.Settle(context.Background(), []string{"U1"})
		}()

		select {
		case <-settled:
			t.Fatal("Settle returned before the key was resolved")
		case <-time.After(20 * time.Millisecond):
		}

		cache.Lookup(context.Background(), "U1", "W1")
		select {
		case err := <-settled:
			gt.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Settle did not return")
		}
	})

	t.Run("returns at once for terminal keys", func(t *testing.T) {
		cache := usercache.New(newMockLookup())
		cache.Lookup(context.Background(), "U404", "W1")
		gt.NoError(t, cache.Settle(context.Background(), []string{"U404"}))
	})

	t.Run("returns context error", func(t *testing.T) {
		cache := usercache.New(newMockLookup())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := cache.Settle(ctx, []string{"U1"})
		gt.Value(t, errors.Is(err, context.DeadlineExceeded)).Equal(true)
	})
}

func TestCache_CachedReturnsCopy(t *testing.T) {
	cache := usercache.New(newMockLookup())
	cache.Set(&model.User{ID: "U1", Name: "ada"})

	u := cache.Cached("U1")
	u.Name = "mutated"
	gt.Value(t, cache.Cached("U1").Name).Equal("ada")
}

func TestCache_Snapshot(t *testing.T) {
	lookup := newMockLookup()
	lookup.gate = make(chan struct{})
	lookup.started = make(chan string, 1)
	cache := usercache.New(lookup)
	cache.Set(&model.User{ID: "U1", Name: "ada"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		cache.Lookup(context.Background(), "U2", "W1")
	}()
	<-lookup.started

	snap := cache.Snapshot()
	gt.Value(t, snap.Cached("U1").Name).Equal("ada")
	gt.Value(t, snap.Cached("U2")).Nil()

	close(lookup.gate)
	<-done

	// The snapshot is not affected by later transitions
	gt.Value(t, snap.Cached("U2")).Nil()
	gt.Value(t, cache.Snapshot().Cached("U2")).NotNil()
}

func TestCache_Events(t *testing.T) {
	lookup := newMockLookup()
	lookup.add(&model.User{ID: "U1", Name: "ada"})
	cache := usercache.New(lookup, usercache.WithWorkspaceID("W1"))
	gt.Value(t, cache.WorkspaceID()).Equal("W1")

	var mu sync.Mutex
	var events []usercache.Event
	unsubscribe := cache.Subscribe(func(ev usercache.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	ctx := context.Background()
	cache.Lookup(ctx, "U1", "W1")
	cache.Lookup(ctx, "U404", "W1")
	cache.Lookup(ctx, "U1", "W1") // cached, no event

	unsubscribe()
	unsubscribe()
	cache.Lookup(ctx, "U2", "W1") // after unsubscribe, not observed

	mu.Lock()
	defer mu.Unlock()
	gt.Array(t, events).Length(4).Required()
	gt.Value(t, events[0].State).Equal(model.CacheStateLoading)
	gt.Value(t, events[0].Key).Equal(model.UserID("U1"))
	gt.Value(t, events[0].WorkspaceID).Equal("W1")
	gt.Value(t, events[1].State).Equal(model.CacheStateResolved)
	gt.Value(t, events[1].User.Name).Equal("ada")
	gt.Value(t, events[2].State).Equal(model.CacheStateLoading)
	gt.Value(t, events[3].State).Equal(model.CacheStateFailed)
	gt.Value(t, events[3].Key).Equal(model.UserID("U404"))
}

func TestCache_Wait(t *testing.T) {
	t.Run("returns immediately when nothing is loading", func(t *testing.T) {
		cache := usercache.New(newMockLookup())
		gt.NoError(t, cache.Wait(context.Background(), []string{"U1", "U2"}))
	})

	t.Run("returns when in-flight lookups finish", func(t *testing.T) {
		lookup := newMockLookup()
		lookup.add(&model.User{ID: "U1", Name: "ada"})
		lookup.gate = make(chan struct{})
		lookup.started = make(chan string, 1)
		cache := usercache.New(lookup)

		done := make(chan struct{})
		go func() {
			defer close(done)
			cache.Lookup(context.Background(), "U1", "W1")
		}()
		<-lookup.started

		waitErr := make(chan error, 1)
		go func() {
			waitErr <- cache.Wait(context.Background(), []string{"U1"})
		}()

		close(lookup.gate)
		<-done
		select {
		case err := <-waitErr:
			gt.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Wait did not return")
		}
	})

	t.Run("returns context error on timeout", func(t *testing.T) {
		lookup := newMockLookup()
		lookup.gate = make(chan struct{})
		lookup.started = make(chan string, 1)
		cache := usercache.New(lookup)

		done := make(chan struct{})
		go func() {
			defer close(done)
			cache.Lookup(context.Background(), "U1", "W1")
		}()
		<-lookup.started

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := cache.Wait(ctx, []string{"U1"})
		gt.Value(t, errors.Is(err, context.DeadlineExceeded)).Equal(true)

		close(lookup.gate)
		<-done
	})
}
