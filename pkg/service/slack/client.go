package slack

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
	"github.com/secmon-lab/mentionist/pkg/utils/logging"
	"github.com/slack-go/slack"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimit keeps users.info under Slack's Tier 4 limit (100+/min)
	DefaultRateLimit = rate.Limit(100.0 / 60.0)
	// DefaultRateBurst allows short bursts when a message with many mentions arrives
	DefaultRateBurst = 10
	// DefaultHTTPTimeout bounds a single Slack API request
	DefaultHTTPTimeout = 30 * time.Second
)

// ErrCircuitOpen is returned while the breaker rejects calls to the Slack API
var ErrCircuitOpen = goerr.New("slack API circuit breaker is open")

// client implements Service interface
type client struct {
	api     *slack.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	httpTimeout time.Duration
	apiOpts     []slack.Option
}

// Option is a functional option for client configuration
type Option func(*client)

// WithRateLimit sets the sustained rate and burst of Slack API calls
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithHTTPTimeout overrides DefaultHTTPTimeout
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *client) {
		c.httpTimeout = d
	}
}

// WithAPIURL points the client to a different Slack API endpoint (tests, proxies)
func WithAPIURL(url string) Option {
	return func(c *client) {
		c.apiOpts = append(c.apiOpts, slack.OptionAPIURL(url))
	}
}

// New creates a new Slack service with the provided bot token
func New(token string, opts ...Option) (Service, error) {
	if token == "" {
		return nil, goerr.New("Slack bot token is required")
	}

	c := &client{
		limiter:     rate.NewLimiter(DefaultRateLimit, DefaultRateBurst),
		httpTimeout: DefaultHTTPTimeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "slack",
			MaxRequests: 2,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logging.Default().Warn("Slack circuit breaker state changed",
					"from", from.String(),
					"to", to.String())
			},
		}),
	}

	for _, opt := range opts {
		opt(c)
	}
	apiOpts := append([]slack.Option{
		slack.OptionHTTPClient(&http.Client{Timeout: c.httpTimeout}),
	}, c.apiOpts...)
	c.api = slack.New(token, apiOpts...)

	return c, nil
}

// LookupUsers retrieves users for the given Slack user IDs.
// Unknown IDs are reported by Slack as an error for the whole batch; that case
// returns an empty result instead of an error.
func (c *client) LookupUsers(ctx context.Context, workspaceID string, ids []string) ([]*model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	resp, err := c.call(ctx, func() (any, error) {
		users, err := c.api.GetUsersInfoContext(ctx, ids...)
		if err != nil {
			if isUserNotFound(err) {
				return []slack.User{}, nil
			}
			return nil, err
		}
		if users == nil {
			return []slack.User{}, nil
		}
		return *users, nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get users info",
			goerr.V("workspace_id", workspaceID),
			goerr.V("user_ids", ids))
	}

	users := resp.([]slack.User)
	result := make([]*model.User, 0, len(users))
	for i := range users {
		result = append(result, convertUser(&users[i]))
	}
	return result, nil
}

// ListUsers retrieves all non-deleted, non-bot users in the workspace
func (c *client) ListUsers(ctx context.Context) ([]*model.User, error) {
	resp, err := c.call(ctx, func() (any, error) {
		return c.api.GetUsersContext(ctx)
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list users")
	}

	users := resp.([]slack.User)
	result := make([]*model.User, 0, len(users))
	for i := range users {
		u := &users[i]
		// Skip deleted users and bots
		if u.Deleted || u.IsBot {
			continue
		}
		result = append(result, convertUser(u))
	}

	return result, nil
}

// call runs fn after waiting for the rate limiter, through the circuit breaker
func (c *client) call(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, goerr.Wrap(err, "rate limiter wait aborted")
	}

	resp, err := c.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, goerr.Wrap(ErrCircuitOpen, "slack API call rejected", goerr.V("cause", err.Error()))
		}
		return nil, err
	}
	return resp, nil
}

func isUserNotFound(err error) bool {
	code := err.Error()
	var slackErr slack.SlackErrorResponse
	if errors.As(err, &slackErr) {
		code = slackErr.Err
	}
	return code == "user_not_found" || code == "users_not_found"
}

func convertUser(u *slack.User) *model.User {
	fullName := u.RealName
	if fullName == "" {
		fullName = u.Profile.RealName
	}

	return &model.User{
		ID:          model.UserID(u.ID),
		ExternalID:  u.ID,
		Name:        u.Name,
		DisplayName: u.Profile.DisplayName,
		FullName:    fullName,
		AvatarURL:   u.Profile.Image72,
		UpdatedAt:   time.Now(),
	}
}
