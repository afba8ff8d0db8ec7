package config

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/service/github"
)

// GitHubApp holds the GitHub App credentials of a github workspace
type GitHubApp struct {
	AppID          int64  `toml:"app_id"`
	InstallationID int64  `toml:"installation_id"`
	PrivateKey     string `toml:"private_key" masq:"secret"` // PEM string or file path
	PrivateKeyEnv  string `toml:"private_key_env"`

	// Endpoint is the GraphQL endpoint of a GitHub Enterprise Server. Requests
	// to it are not App-authenticated; the token comes from the workspace config.
	Endpoint string `toml:"endpoint"`
}

// LogAttrs returns log attributes for the GitHub configuration (secrets hidden)
func (g *GitHubApp) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Int64("app_id", g.AppID),
		slog.Int64("installation_id", g.InstallationID),
		slog.String("endpoint", g.Endpoint),
	}
}

func (g *GitHubApp) privateKey() string {
	if g.PrivateKeyEnv != "" {
		return os.Getenv(g.PrivateKeyEnv)
	}
	return g.PrivateKey
}

// IsConfigured returns true if all required GitHub App fields are set
func (g *GitHubApp) IsConfigured() bool {
	return g.AppID != 0 && g.InstallationID != 0 && g.privateKey() != ""
}

// Configure creates a new GitHub Service from the App credentials
func (g *GitHubApp) Configure() (github.Service, error) {
	if !g.IsConfigured() {
		return nil, goerr.Wrap(ErrMissingCredential, "GitHub App requires app_id, installation_id and private_key",
			goerr.V("app_id", g.AppID),
			goerr.V("installation_id", g.InstallationID))
	}

	svc, err := github.New(g.AppID, g.InstallationID, g.privateKey())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create GitHub service")
	}

	return svc, nil
}

// bearerTransport authenticates Enterprise Server requests with a static token
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "bearer "+t.token)
	return t.base.RoundTrip(req)
}

func newEnterpriseService(endpoint, token string) github.Service {
	hc := &http.Client{Transport: &bearerTransport{token: token, base: http.DefaultTransport}}
	return github.NewEnterprise(endpoint, hc)
}
