package usecase

import (
	"time"

	"github.com/secmon-lab/mentionist/pkg/domain/interfaces"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
	"github.com/secmon-lab/mentionist/pkg/service/usercache"
)

const (
	// DefaultSettleTimeout bounds how long AnnotateMessage waits for lookups started by other callers
	DefaultSettleTimeout = 10 * time.Second

	// DefaultMaxMessageSize is the largest message body accepted for annotation
	DefaultMaxMessageSize = 64 * 1024
)

type UseCases struct {
	workspaces     *model.WorkspaceRegistry
	caches         *usercache.Registry
	settleTimeout  time.Duration
	maxMessageSize int

	Mention *MentionUseCase
}

type Option func(*UseCases)

// WithSettleTimeout overrides DefaultSettleTimeout
func WithSettleTimeout(d time.Duration) Option {
	return func(uc *UseCases) {
		uc.settleTimeout = d
	}
}

// WithMaxMessageSize overrides DefaultMaxMessageSize
func WithMaxMessageSize(n int) Option {
	return func(uc *UseCases) {
		uc.maxMessageSize = n
	}
}

// WithCacheRegistry shares an existing cache registry instead of creating one
func WithCacheRegistry(caches *usercache.Registry) Option {
	return func(uc *UseCases) {
		uc.caches = caches
	}
}

// New wires the use cases. lookup backs every workspace cache; usually a DirectoryLookup.
func New(workspaces *model.WorkspaceRegistry, lookup interfaces.UserLookup, opts ...Option) *UseCases {
	uc := &UseCases{
		workspaces:     workspaces,
		settleTimeout:  DefaultSettleTimeout,
		maxMessageSize: DefaultMaxMessageSize,
	}

	for _, opt := range opts {
		opt(uc)
	}

	if uc.caches == nil {
		uc.caches = usercache.NewRegistry(lookup)
	}

	uc.Mention = NewMentionUseCase(workspaces, uc.caches, uc.settleTimeout, uc.maxMessageSize)

	return uc
}
