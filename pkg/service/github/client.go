package github

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
	"github.com/shurcooL/githubv4"
)

type client struct {
	gql *githubv4.Client
}

// New creates a new GitHub Service using GitHub App authentication.
// privateKey can be a PEM string or a file path to a PEM file.
func New(appID, installationID int64, privateKey string) (Service, error) {
	var key []byte

	// Try reading as file path first
	// #nosec G304 -- path comes from CLI flag, not user input
	if data, err := os.ReadFile(privateKey); err == nil {
		key = data
	} else {
		// Treat as PEM string
		key = []byte(privateKey)
	}

	tr, err := ghinstallation.New(http.DefaultTransport, appID, installationID, key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create GitHub App transport")
	}

	httpClient := &http.Client{Transport: tr}
	return &client{gql: githubv4.NewClient(httpClient)}, nil
}

// NewEnterprise creates a Service for a GitHub Enterprise Server GraphQL endpoint
func NewEnterprise(endpoint string, httpClient *http.Client) Service {
	return &client{gql: githubv4.NewEnterpriseClient(endpoint, httpClient)}
}

// LookupUsers resolves GitHub logins. Logins that do not exist are omitted.
func (c *client) LookupUsers(ctx context.Context, workspaceID string, ids []string) ([]*model.User, error) {
	result := make([]*model.User, 0, len(ids))
	for _, login := range ids {
		var q userQuery
		variables := map[string]interface{}{
			"login": githubv4.String(login),
		}

		if err := c.gql.Query(ctx, &q, variables); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, goerr.Wrap(err, "failed to query GitHub user",
				goerr.V("workspace_id", workspaceID),
				goerr.V("login", login))
		}
		if q.User == nil {
			continue
		}

		result = append(result, &model.User{
			ID:         model.UserID(login),
			ExternalID: q.User.ID,
			Name:       q.User.Login,
			FullName:   q.User.Name,
			AvatarURL:  q.User.AvatarURL,
			UpdatedAt:  time.Now(),
		})
	}
	return result, nil
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "Could not resolve to a User")
}
