package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/domain/interfaces"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
	"github.com/secmon-lab/mentionist/pkg/utils/errutil"
	"github.com/secmon-lab/mentionist/pkg/utils/logging"
)

// RefreshHook is called with the fresh directory of a workspace after a successful refresh
type RefreshHook func(ctx context.Context, workspaceID string, users []*model.User)

// UserDirectoryRefreshWorker manages background refresh of provider user directories into the repository
//
// Architecture assumptions:
// - Single server instance (no distributed locking)
// - Workspaces are refreshed sequentially in workspace ID order
type UserDirectoryRefreshWorker struct {
	repo     interfaces.Repository
	listers  map[string]interfaces.UserLister
	interval time.Duration
	hooks    []RefreshHook

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type Option func(*UserDirectoryRefreshWorker)

// WithRefreshHook registers hook to be called after each successful workspace refresh
func WithRefreshHook(hook RefreshHook) Option {
	return func(w *UserDirectoryRefreshWorker) {
		w.hooks = append(w.hooks, hook)
	}
}

// NewUserDirectoryRefreshWorker creates a new worker. listers is keyed by workspace ID.
func NewUserDirectoryRefreshWorker(repo interfaces.Repository, listers map[string]interfaces.UserLister, interval time.Duration, opts ...Option) *UserDirectoryRefreshWorker {
	w := &UserDirectoryRefreshWorker{
		repo:     repo,
		listers:  listers,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the background refresh loop
// - Initial sync and periodic refresh both run in a background goroutine
// - Does not block server startup
func (w *UserDirectoryRefreshWorker) Start(ctx context.Context) error {
	if w.interval <= 0 {
		return goerr.New("refresh interval must be positive", goerr.V("interval", w.interval))
	}

	logging.Default().Info("User directory refresh worker starting",
		"interval", w.interval.String(),
		"workspaces", len(w.listers))

	go w.run(ctx)

	return nil
}

// Stop signals the worker to stop and waits for completion
func (w *UserDirectoryRefreshWorker) Stop() {
	logging.Default().Info("User directory refresh worker stopping")
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
	logging.Default().Info("User directory refresh worker stopped")
}

// run is the main worker loop (runs in goroutine)
func (w *UserDirectoryRefreshWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	w.RefreshAll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RefreshAll(ctx)

		case <-w.stopCh:
			logging.Default().Info("User directory refresh worker received stop signal")
			return

		case <-ctx.Done():
			logging.Default().Info("User directory refresh worker context cancelled")
			return
		}
	}
}

// RefreshAll refreshes every workspace once. Failures are logged and the next
// workspace is still refreshed; the number of failed workspaces is returned.
func (w *UserDirectoryRefreshWorker) RefreshAll(ctx context.Context) int {
	ids := make([]string, 0, len(w.listers))
	for id := range w.listers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	failed := 0
	for i, id := range ids {
		if ctx.Err() != nil {
			// remaining workspaces count as failed
			return failed + len(ids) - i
		}
		if err := w.Refresh(ctx, id); err != nil {
			failed++
			// Log error but continue worker
			_ = errutil.Handle(ctx, goerr.Wrap(err, "user directory refresh failed", goerr.V("workspace_id", id)),
				"User directory refresh failed (will retry next interval)")
		}
	}
	return failed
}

// Refresh performs a single refresh cycle of one workspace (Replace strategy: DeleteAll → SaveMany)
func (w *UserDirectoryRefreshWorker) Refresh(ctx context.Context, workspaceID string) error {
	lister, ok := w.listers[workspaceID]
	if !ok {
		return goerr.Wrap(model.ErrWorkspaceNotFound, "no user lister for workspace",
			goerr.V("workspace_id", workspaceID))
	}

	startTime := time.Now()
	logger := logging.Default().With("workspace_id", workspaceID)
	logger.Info("Starting user directory refresh")

	userRepo := w.repo.User()

	// Get existing metadata to preserve values on failure
	existingMetadata, err := userRepo.GetMetadata(ctx, workspaceID)
	if err != nil {
		return goerr.Wrap(err, "failed to get existing metadata")
	}

	attemptMetadata := &model.UserDirectoryMetadata{
		LastRefreshSuccess: existingMetadata.LastRefreshSuccess,
		LastRefreshAttempt: startTime,
		UserCount:          existingMetadata.UserCount,
	}
	if err := userRepo.SaveMetadata(ctx, workspaceID, attemptMetadata); err != nil {
		return goerr.Wrap(err, "failed to save refresh attempt metadata")
	}

	users, err := lister.ListUsers(ctx)
	if err != nil {
		// Preserve old directory data (Graceful Degradation)
		return goerr.Wrap(err, "failed to list users from provider")
	}

	for _, u := range users {
		u.UpdatedAt = startTime
	}

	// Replace strategy: DeleteAll → SaveMany
	// This prevents orphaned records of deactivated users
	if err := userRepo.DeleteAll(ctx, workspaceID); err != nil {
		return goerr.Wrap(err, "failed to delete existing users")
	}

	if err := userRepo.SaveMany(ctx, workspaceID, users); err != nil {
		return goerr.Wrap(err, "failed to save users", goerr.V("count", len(users)))
	}

	successMetadata := &model.UserDirectoryMetadata{
		LastRefreshSuccess: startTime,
		LastRefreshAttempt: startTime,
		UserCount:          len(users),
	}
	if err := userRepo.SaveMetadata(ctx, workspaceID, successMetadata); err != nil {
		return goerr.Wrap(err, "failed to save refresh success metadata")
	}

	for _, hook := range w.hooks {
		hook(ctx, workspaceID, users)
	}

	logger.Info("User directory refresh completed",
		"count", len(users),
		"duration", time.Since(startTime).String())

	return nil
}
