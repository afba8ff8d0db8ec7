package usercache

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
)

// Event is published on every state transition of a cache key
type Event struct {
	WorkspaceID string           `json:"workspace_id"`
	Key         model.UserID     `json:"key"`
	State       model.CacheState `json:"state"`
	User        *model.User      `json:"user,omitempty"`
}

// Listener receives cache events. It is called synchronously by the goroutine
// that caused the transition and must not block or call back into Subscribe.
type Listener func(Event)

type observers struct {
	mu        sync.RWMutex
	listeners map[uuid.UUID]Listener
}

func (o *observers) init() {
	o.listeners = make(map[uuid.UUID]Listener)
}

// Subscribe registers l for every subsequent event. The returned function
// removes the registration and is safe to call more than once.
func (o *observers) Subscribe(l Listener) func() {
	id := uuid.New()

	o.mu.Lock()
	o.listeners[id] = l
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

func (o *observers) publish(ev Event) {
	o.mu.RLock()
	listeners := make([]Listener, 0, len(o.listeners))
	for _, l := range o.listeners {
		listeners = append(listeners, l)
	}
	o.mu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

// Wait blocks until every key in keys has reached a terminal state or ctx is done.
// Keys that were never looked up are not waited for.
func (c *Cache) Wait(ctx context.Context, keys []string) error {
	return c.wait(ctx, keys, c.IsLoading)
}

// Settle blocks until every key in keys is Resolved or Failed, or ctx is done.
// Unlike Wait, keys that were not looked up yet are waited for, so the caller
// must make sure a lookup for each of them is started.
func (c *Cache) Settle(ctx context.Context, keys []string) error {
	return c.wait(ctx, keys, func(key string) bool {
		return !c.State(key).IsTerminal()
	})
}

func (c *Cache) wait(ctx context.Context, keys []string, isPending func(key string) bool) error {
	pending := make(map[model.UserID]struct{}, len(keys))
	done := make(chan struct{})
	var once sync.Once

	// mu is held until pending is built; listeners fired meanwhile wait for it.
	var mu sync.Mutex
	mu.Lock()
	unsubscribe := c.Subscribe(func(ev Event) {
		if !ev.State.IsTerminal() {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if _, ok := pending[ev.Key]; !ok {
			return
		}
		delete(pending, ev.Key)
		if len(pending) == 0 {
			once.Do(func() { close(done) })
		}
	})
	defer unsubscribe()

	for _, key := range keys {
		if isPending(key) {
			pending[model.UserID(key)] = struct{}{}
		}
	}
	if len(pending) == 0 {
		once.Do(func() { close(done) })
	}
	mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
