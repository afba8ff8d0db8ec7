package model

import (
	"github.com/m-mizutani/goerr/v2"
)

// Provider is the integration a workspace is synced from
type Provider string

const (
	ProviderSlack  Provider = "slack"
	ProviderNotion Provider = "notion"
	ProviderGitHub Provider = "github"
)

// Validate checks that p is a supported provider
func (p Provider) Validate() error {
	switch p {
	case ProviderSlack, ProviderNotion, ProviderGitHub:
		return nil
	default:
		return goerr.New("unsupported provider", goerr.V("provider", string(p)))
	}
}

// Workspace represents a workspace's identity
type Workspace struct {
	ID       string
	Name     string
	Provider Provider
}

// ErrWorkspaceNotFound is returned when a workspace is not found in the registry
var ErrWorkspaceNotFound = goerr.New("workspace not found")

// WorkspaceRegistry holds the configured workspaces in registration order.
// It is built at startup and read-only afterwards.
type WorkspaceRegistry struct {
	entries map[string]*Workspace
	order   []string
}

// NewWorkspaceRegistry creates a new empty WorkspaceRegistry
func NewWorkspaceRegistry() *WorkspaceRegistry {
	return &WorkspaceRegistry{
		entries: make(map[string]*Workspace),
	}
}

// Register adds a workspace to the registry, replacing any entry with the same ID
func (r *WorkspaceRegistry) Register(ws *Workspace) {
	if _, exists := r.entries[ws.ID]; !exists {
		r.order = append(r.order, ws.ID)
	}
	r.entries[ws.ID] = ws
}

// Get retrieves a workspace by ID
func (r *WorkspaceRegistry) Get(workspaceID string) (*Workspace, error) {
	ws, ok := r.entries[workspaceID]
	if !ok {
		return nil, goerr.Wrap(ErrWorkspaceNotFound, "workspace not found",
			goerr.V("workspace_id", workspaceID))
	}
	return ws, nil
}

// Workspaces returns all registered workspaces in registration order
func (r *WorkspaceRegistry) Workspaces() []Workspace {
	result := make([]Workspace, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, *r.entries[id])
	}
	return result
}
