package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/mentionist/pkg/domain/interfaces"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
	"github.com/secmon-lab/mentionist/pkg/service/notion"
	"github.com/secmon-lab/mentionist/pkg/service/slack"
	"github.com/urfave/cli/v3"
)

// WorkspaceFile is the TOML layout of the workspace configuration file
type WorkspaceFile struct {
	Workspaces []WorkspaceEntry `toml:"workspace"`
}

// WorkspaceEntry configures one workspace and the credentials of its provider
type WorkspaceEntry struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Provider string `toml:"provider"`

	// Token is the Slack bot token, Notion integration token, or GitHub
	// Enterprise token. TokenEnv names an environment variable to read it from.
	Token    string `toml:"token" masq:"secret"`
	TokenEnv string `toml:"token_env"`

	GitHub *GitHubApp `toml:"github"`
}

func (e *WorkspaceEntry) token() string {
	if e.TokenEnv != "" {
		return os.Getenv(e.TokenEnv)
	}
	return e.Token
}

// Validate checks if the WorkspaceEntry is valid. Credentials are checked when providers are built.
func (e *WorkspaceEntry) Validate() error {
	if e.ID == "" {
		return goerr.Wrap(ErrInvalidConfig, "workspace id is required")
	}
	if err := model.Provider(e.Provider).Validate(); err != nil {
		return goerr.Wrap(ErrInvalidConfig, "invalid provider",
			goerr.V(WorkspaceIDKey, e.ID),
			goerr.V("provider", e.Provider))
	}
	return nil
}

// Validate checks every entry and rejects duplicate IDs
func (f *WorkspaceFile) Validate() error {
	if len(f.Workspaces) == 0 {
		return goerr.Wrap(ErrInvalidConfig, "at least one [[workspace]] is required")
	}

	seen := make(map[string]bool, len(f.Workspaces))
	for i, ws := range f.Workspaces {
		if err := ws.Validate(); err != nil {
			return goerr.Wrap(err, "invalid workspace", goerr.V(WorkspaceIndexKey, i))
		}
		if seen[ws.ID] {
			return goerr.Wrap(ErrDuplicateWorkspaceID, "workspace ID is used twice", goerr.V(WorkspaceIDKey, ws.ID))
		}
		seen[ws.ID] = true
	}
	return nil
}

// LoadWorkspaceFile loads and validates the workspace configuration from a TOML file
func LoadWorkspaceFile(path string) (*WorkspaceFile, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrConfigNotFound, "workspace config does not exist", goerr.V(ConfigPathKey, path))
		}
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V(ConfigPathKey, path))
	}

	var file WorkspaceFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, goerr.Wrap(err, "failed to parse TOML config", goerr.V(ConfigPathKey, path))
	}

	if err := file.Validate(); err != nil {
		return nil, goerr.Wrap(err, "config validation failed", goerr.V(ConfigPathKey, path))
	}

	return &file, nil
}

// Providers is the set of provider clients built from the workspace configuration
type Providers struct {
	Registry *model.WorkspaceRegistry
	Lookups  map[string]interfaces.UserLookup
	Listers  map[string]interfaces.UserLister
}

// Build creates the workspace registry and one provider client per workspace.
// GitHub workspaces only support lookups, so they have no lister.
func (f *WorkspaceFile) Build(slackCfg *Slack) (*Providers, error) {
	p := &Providers{
		Registry: model.NewWorkspaceRegistry(),
		Lookups:  make(map[string]interfaces.UserLookup, len(f.Workspaces)),
		Listers:  make(map[string]interfaces.UserLister, len(f.Workspaces)),
	}

	for _, entry := range f.Workspaces {
		name := entry.Name
		if name == "" {
			name = entry.ID
		}
		provider := model.Provider(entry.Provider)

		switch provider {
		case model.ProviderSlack:
			if entry.token() == "" {
				return nil, goerr.Wrap(ErrMissingCredential, "slack workspace requires a bot token", goerr.V(WorkspaceIDKey, entry.ID))
			}
			var opts []slack.Option
			if slackCfg != nil {
				opts = slackCfg.Options()
			}
			svc, err := slack.New(entry.token(), opts...)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to initialize slack service", goerr.V(WorkspaceIDKey, entry.ID))
			}
			p.Lookups[entry.ID] = svc
			p.Listers[entry.ID] = svc

		case model.ProviderNotion:
			if entry.token() == "" {
				return nil, goerr.Wrap(ErrMissingCredential, "notion workspace requires an integration token", goerr.V(WorkspaceIDKey, entry.ID))
			}
			svc, err := notion.New(entry.token())
			if err != nil {
				return nil, goerr.Wrap(err, "failed to initialize notion service", goerr.V(WorkspaceIDKey, entry.ID))
			}
			p.Lookups[entry.ID] = svc
			p.Listers[entry.ID] = svc

		case model.ProviderGitHub:
			if entry.GitHub != nil && entry.GitHub.Endpoint != "" {
				if entry.token() == "" {
					return nil, goerr.Wrap(ErrMissingCredential, "github enterprise workspace requires a token", goerr.V(WorkspaceIDKey, entry.ID))
				}
				p.Lookups[entry.ID] = newEnterpriseService(entry.GitHub.Endpoint, entry.token())
				break
			}
			if entry.GitHub == nil {
				return nil, goerr.Wrap(ErrMissingCredential, "github workspace requires a [workspace.github] section", goerr.V(WorkspaceIDKey, entry.ID))
			}
			svc, err := entry.GitHub.Configure()
			if err != nil {
				return nil, goerr.Wrap(err, "failed to initialize github service", goerr.V(WorkspaceIDKey, entry.ID))
			}
			p.Lookups[entry.ID] = svc
		}

		p.Registry.Register(&model.Workspace{ID: entry.ID, Name: name, Provider: provider})
	}

	return p, nil
}

// Workspace holds the CLI flag pointing at the workspace configuration file
type Workspace struct {
	path string
}

func (x *Workspace) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Workspace configuration file (TOML)",
			Value:       "mentionist.toml",
			Sources:     cli.EnvVars("MENTIONIST_CONFIG"),
			Destination: &x.path,
		},
	}
}

func (x Workspace) LogValue() slog.Value {
	return slog.GroupValue(slog.String("path", x.path))
}

// Configure loads the configuration file and builds the provider clients
func (x *Workspace) Configure(slackCfg *Slack) (*Providers, error) {
	file, err := LoadWorkspaceFile(x.path)
	if err != nil {
		return nil, err
	}
	return file.Build(slackCfg)
}
