package notion

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jomei/notionapi"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
)

// client implements Service interface
type client struct {
	api *notionapi.Client
}

// Option is a functional option for client configuration
type Option func(*options)

type options struct {
	httpClient *http.Client
}

// WithHTTPClient replaces the HTTP client used for API calls
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// New creates a new Notion service with the provided API token
func New(token string, opts ...Option) (Service, error) {
	if token == "" {
		return nil, goerr.New("Notion API token is required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	clientOpts := []notionapi.ClientOption{
		notionapi.WithRetry(3), // Retry up to 3 times on rate limit (HTTP 429)
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, notionapi.WithHTTPClient(o.httpClient))
	}

	return &client{
		api: notionapi.NewClient(notionapi.Token(token), clientOpts...),
	}, nil
}

// LookupUsers retrieves users by Notion user ID. IDs unknown to Notion are omitted.
func (c *client) LookupUsers(ctx context.Context, workspaceID string, ids []string) ([]*model.User, error) {
	result := make([]*model.User, 0, len(ids))
	for _, id := range ids {
		user, err := c.api.User.Get(ctx, notionapi.UserID(id))
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, goerr.Wrap(err, "failed to retrieve Notion user",
				goerr.V("workspace_id", workspaceID),
				goerr.V("user_id", id))
		}
		result = append(result, convertUser(user))
	}
	return result, nil
}

// ListUsers retrieves every person user of the workspace, skipping bots
func (c *client) ListUsers(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	var cursor notionapi.Cursor

	for {
		resp, err := c.api.User.List(ctx, &notionapi.Pagination{
			StartCursor: cursor,
			PageSize:    100,
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list Notion users")
		}

		for i := range resp.Results {
			u := &resp.Results[i]
			if u.Bot != nil {
				continue
			}
			users = append(users, convertUser(u))
		}

		if !resp.HasMore {
			break
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}

	return users, nil
}

func isNotFound(err error) bool {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusNotFound
	}
	return false
}

func convertUser(u *notionapi.User) *model.User {
	return &model.User{
		ID:         model.UserID(u.ID.String()),
		ExternalID: u.ID.String(),
		Name:       u.Name,
		FullName:   u.Name,
		AvatarURL:  u.AvatarURL,
		UpdatedAt:  time.Now(),
	}
}
