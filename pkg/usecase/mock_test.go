package usecase_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/secmon-lab/mentionist/pkg/domain/model"
)

// mockLookup is a provider double. When gate is set, every call blocks until it is closed.
type mockLookup struct {
	mu    sync.Mutex
	users map[string]*model.User
	err   error

	calls   atomic.Int32
	started chan string
	gate    chan struct{}
}

func newMockLookup(users ...*model.User) *mockLookup {
	m := &mockLookup{users: make(map[string]*model.User)}
	for _, u := range users {
		m.users[string(u.ID)] = u
	}
	return m
}

func (m *mockLookup) withGate() *mockLookup {
	m.started = make(chan string, 16)
	m.gate = make(chan struct{})
	return m
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
			result = append(result, u.Clone())
		}
	}
	return result, nil
}
