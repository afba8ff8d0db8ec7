package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
	"github.com/secmon-lab/mentionist/pkg/service/mention"
	"github.com/secmon-lab/mentionist/pkg/service/usercache"
	"github.com/secmon-lab/mentionist/pkg/utils/errutil"
	"github.com/secmon-lab/mentionist/pkg/utils/logging"
)

// AnnotatedMessage is the segmented form of a message together with its plain-text rendering
type AnnotatedMessage struct {
	Segments []model.Segment `json:"segments"`
	Text     string          `json:"text"`
	// Settled is true when every mentioned user is resolved or failed
	Settled bool `json:"settled"`
}

type MentionUseCase struct {
	workspaces     *model.WorkspaceRegistry
	caches         *usercache.Registry
	settleTimeout  time.Duration
	maxMessageSize int
}

func NewMentionUseCase(workspaces *model.WorkspaceRegistry, caches *usercache.Registry, settleTimeout time.Duration, maxMessageSize int) *MentionUseCase {
	return &MentionUseCase{
		workspaces:     workspaces,
		caches:         caches,
		settleTimeout:  settleTimeout,
		maxMessageSize: maxMessageSize,
	}
}

// Workspaces returns the configured workspaces in registration order
func (uc *MentionUseCase) Workspaces() []model.Workspace {
	return uc.workspaces.Workspaces()
}

func (uc *MentionUseCase) cache(workspaceID string) (*usercache.Cache, error) {
	if _, err := uc.workspaces.Get(workspaceID); err != nil {
		return nil, err
	}
	return uc.caches.For(workspaceID), nil
}

func (uc *MentionUseCase) checkSize(text string) error {
	if uc.maxMessageSize > 0 && len(text) > uc.maxMessageSize {
		return goerr.Wrap(ErrMessageTooLarge, "cannot annotate message",
			goerr.V("size", len(text)),
			goerr.V("max", uc.maxMessageSize))
	}
	return nil
}

// ResolveUser looks up one user. The returned user is nil while the lookup is
// in flight; a failed key yields the placeholder record with CacheStateFailed.
func (uc *MentionUseCase) ResolveUser(ctx context.Context, workspaceID, userID string) (*model.User, model.CacheState, error) {
	if userID == "" {
		return nil, model.CacheStateUnknown, goerr.Wrap(ErrInvalidUserID, "user ID is empty",
			goerr.V(WorkspaceIDKey, workspaceID))
	}

	cache, err := uc.cache(workspaceID)
	if err != nil {
		return nil, model.CacheStateUnknown, err
	}

	user := cache.Lookup(ctx, userID, workspaceID)
	state := cache.State(userID)
	if user == nil && state == model.CacheStateFailed {
		user = cache.Cached(userID)
	}

	return user, state, nil
}

// UserState reports the cache state of a user without triggering a lookup
func (uc *MentionUseCase) UserState(workspaceID, userID string) (model.CacheState, error) {
	cache, err := uc.cache(workspaceID)
	if err != nil {
		return model.CacheStateUnknown, err
	}
	return cache.State(userID), nil
}

// AnnotateMessage resolves every mention of text and returns its segments.
// Lookups, started here or by other callers, are awaited up to the settle timeout
// or until ctx is done; mentions still unresolved after the timeout are labeled
// with their raw token.
func (uc *MentionUseCase) AnnotateMessage(ctx context.Context, workspaceID, text string) (*AnnotatedMessage, error) {
	if err := uc.checkSize(text); err != nil {
		return nil, err
	}

	cache, err := uc.cache(workspaceID)
	if err != nil {
		return nil, err
	}

	tokens := mention.Tokens(text)
	if len(tokens) == 0 {
		return annotate(text, tokens, cache), nil
	}

	// Lookups are detached from ctx, so only the wait below is bounded
	go func() {
		if err := usercache.Prefetch(ctx, cache, workspaceID, tokens); err != nil {
			logging.From(ctx).Debug("annotate prefetch stopped", WorkspaceIDKey, workspaceID, "error", err)
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, uc.settleTimeout)
	defer cancel()
	if err := cache.Settle(waitCtx, tokens); err != nil {
		if ctx.Err() != nil {
			return nil, goerr.Wrap(ctx.Err(), "annotation cancelled", goerr.V(WorkspaceIDKey, workspaceID))
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, goerr.Wrap(err, "failed to wait for mentioned users")
		}
		logging.From(ctx).Warn("mentioned users not settled in time",
			WorkspaceIDKey, workspaceID,
			"timeout", uc.settleTimeout.String())
	}

	return annotate(text, tokens, cache), nil
}

// WatchMessage streams annotations of text. The first value is sent immediately
// from the current cache content; another one follows every time a mentioned
// user changes state. The channel is closed once every mention is settled or
// ctx is done. Callers must drain the channel or cancel ctx.
func (uc *MentionUseCase) WatchMessage(ctx context.Context, workspaceID, text string) (<-chan *AnnotatedMessage, error) {
	if err := uc.checkSize(text); err != nil {
		return nil, err
	}

	cache, err := uc.cache(workspaceID)
	if err != nil {
		return nil, err
	}

	tokens := mention.Tokens(text)
	watched := make(map[model.UserID]struct{}, len(tokens))
	for _, t := range tokens {
		watched[model.UserID(t)] = struct{}{}
	}

	notify := make(chan struct{}, 1)
	unsubscribe := cache.Subscribe(func(ev usercache.Event) {
		if _, ok := watched[ev.Key]; !ok {
			return
		}
		select {
		case notify <- struct{}{}:
		default:
		}
	})

	out := make(chan *AnnotatedMessage)
	go func() {
		defer close(out)
		defer unsubscribe()

		// Not joined; the stream closes on ctx even while a lookup is stalled
		go func() {
			if err := usercache.Prefetch(ctx, cache, workspaceID, tokens); err != nil {
				logging.From(ctx).Debug("watch prefetch stopped", WorkspaceIDKey, workspaceID, "error", err)
			}
		}()

		for {
			msg := annotate(text, tokens, cache)
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
			if msg.Settled {
				return
			}

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// SubscribeEvents forwards every cache event of workspaceID to fn until the returned function is called
func (uc *MentionUseCase) SubscribeEvents(workspaceID string, fn usercache.Listener) (func(), error) {
	cache, err := uc.cache(workspaceID)
	if err != nil {
		return nil, err
	}
	return cache.Subscribe(fn), nil
}

// SeedUsers stores users into the workspace cache, e.g. after a directory refresh.
// Users of unknown workspaces are ignored.
func (uc *MentionUseCase) SeedUsers(ctx context.Context, workspaceID string, users []*model.User) {
	cache, err := uc.cache(workspaceID)
	if err != nil {
		_ = errutil.Handle(ctx, goerr.Wrap(err, "skip seeding users", goerr.V(WorkspaceIDKey, workspaceID)), "skip seeding users")
		return
	}
	for _, u := range users {
		cache.Set(u)
	}
}

func annotate(text string, tokens []string, cache *usercache.Cache) *AnnotatedMessage {
	// State is read before the snapshot so that Settled never claims more than the labels show
	settled := true
	for _, t := range tokens {
		if !cache.State(t).IsTerminal() {
			settled = false
			break
		}
	}

	segments := mention.Annotate(text, cache.Snapshot())
	return &AnnotatedMessage{
		Segments: segments,
		Text:     mention.Render(segments),
		Settled:  settled,
	}
}
