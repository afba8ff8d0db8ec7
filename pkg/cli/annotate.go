package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/cli/config"
	"github.com/secmon-lab/mentionist/pkg/usecase"
	"github.com/secmon-lab/mentionist/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

func cmdAnnotate() *cli.Command {
	var workspaceID string
	var asJSON bool
	var wsCfg config.Workspace
	var repoCfg config.Repository
	var slackCfg config.Slack

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "workspace",
			Aliases:     []string{"w"},
			Usage:       "Workspace ID the message belongs to",
			Required:    true,
			Destination: &workspaceID,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print segments as JSON instead of rendered text",
			Destination: &asJSON,
		},
	}
	flags = append(flags, wsCfg.Flags()...)
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, slackCfg.Flags()...)

	return &cli.Command{
		Name:      "annotate",
		Usage:     "Resolve the mentions of a message and print it",
		ArgsUsage: "[text] (reads stdin when omitted)",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			text := strings.Join(c.Args().Slice(), " ")
			if c.Args().Len() == 0 {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return goerr.Wrap(err, "failed to read message from stdin")
				}
				text = strings.TrimSuffix(string(data), "\n")
			}

			providers, err := wsCfg.Configure(&slackCfg)
			if err != nil {
				return goerr.Wrap(err, "failed to load workspace configurations")
			}

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer safe.Close(ctx, repo)

			uc := usecase.New(providers.Registry, usecase.NewDirectoryLookup(repo, providers.Lookups))
			msg, err := uc.Mention.AnnotateMessage(ctx, workspaceID, text)
			if err != nil {
				return goerr.Wrap(err, "failed to annotate message", goerr.V("workspace_id", workspaceID))
			}

			return printAnnotation(c.Root().Writer, msg, asJSON)
		},
	}
}

func printAnnotation(w io.Writer, msg *usecase.AnnotatedMessage, asJSON bool) error {
	if w == nil {
		w = os.Stdout
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(msg); err != nil {
			return goerr.Wrap(err, "failed to encode annotation")
		}
		return nil
	}

	if _, err := fmt.Fprintln(w, msg.Text); err != nil {
		return goerr.Wrap(err, "failed to write annotation")
	}
	return nil
}
