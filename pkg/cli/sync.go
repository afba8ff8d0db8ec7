package cli

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/cli/config"
	"github.com/secmon-lab/mentionist/pkg/domain/interfaces"
	"github.com/secmon-lab/mentionist/pkg/service/worker"
	"github.com/secmon-lab/mentionist/pkg/utils/logging"
	"github.com/secmon-lab/mentionist/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

func cmdSync() *cli.Command {
	var workspaceIDs []string
	var wsCfg config.Workspace
	var repoCfg config.Repository
	var slackCfg config.Slack

	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "workspace",
			Aliases:     []string{"w"},
			Usage:       "Workspace ID to sync (default: every workspace with a user directory)",
			Destination: &workspaceIDs,
		},
	}
	flags = append(flags, wsCfg.Flags()...)
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, slackCfg.Flags()...)

	return &cli.Command{
		Name:  "sync",
		Usage: "Refresh the user directory of workspaces once",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			providers, err := wsCfg.Configure(&slackCfg)
			if err != nil {
				return goerr.Wrap(err, "failed to load workspace configurations")
			}

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer safe.Close(ctx, repo)

			listers := providers.Listers
			if len(workspaceIDs) > 0 {
				listers = make(map[string]interfaces.UserLister, len(workspaceIDs))
				for _, id := range workspaceIDs {
					lister, ok := providers.Listers[id]
					if !ok {
						return goerr.New("workspace has no user directory", goerr.V("workspace_id", id))
					}
					listers[id] = lister
				}
			}

			start := time.Now()
			w := worker.NewUserDirectoryRefreshWorker(repo, listers, time.Hour)
			if failed := w.RefreshAll(ctx); failed > 0 {
				return goerr.New("user directory sync failed",
					goerr.V("failed", failed),
					goerr.V("total", len(listers)))
			}

			logging.Default().Info("User directory sync completed",
				"workspaces", len(listers),
				"duration", time.Since(start).String())
			return nil
		},
	}
}
