package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/cli/config"
	httpctrl "github.com/secmon-lab/mentionist/pkg/controller/http"
	"github.com/secmon-lab/mentionist/pkg/service/worker"
	"github.com/secmon-lab/mentionist/pkg/usecase"
	"github.com/secmon-lab/mentionist/pkg/utils/logging"
	"github.com/secmon-lab/mentionist/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var addr string
	var refreshInterval time.Duration
	var settleTimeout time.Duration
	var originPatterns []string
	var wsCfg config.Workspace
	var repoCfg config.Repository
	var slackCfg config.Slack

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("MENTIONIST_ADDR"),
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "refresh-interval",
			Usage:       "Interval of user directory refresh (0 disables the worker)",
			Value:       10 * time.Minute,
			Sources:     cli.EnvVars("MENTIONIST_REFRESH_INTERVAL"),
			Destination: &refreshInterval,
		},
		&cli.DurationFlag{
			Name:        "settle-timeout",
			Usage:       "Maximum wait for in-flight user lookups when annotating",
			Value:       usecase.DefaultSettleTimeout,
			Sources:     cli.EnvVars("MENTIONIST_SETTLE_TIMEOUT"),
			Destination: &settleTimeout,
		},
		&cli.StringSliceFlag{
			Name:        "allowed-origin",
			Usage:       "Host pattern allowed to open websocket streams from another origin",
			Sources:     cli.EnvVars("MENTIONIST_ALLOWED_ORIGINS"),
			Destination: &originPatterns,
		},
	}

	// Add shared config flags
	flags = append(flags, wsCfg.Flags()...)
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, slackCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			providers, err := wsCfg.Configure(&slackCfg)
			if err != nil {
				return goerr.Wrap(err, "failed to load workspace configurations")
			}

			// Initialize repository based on backend type
			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer safe.Close(ctx, repo)

			lookup := usecase.NewDirectoryLookup(repo, providers.Lookups)
			uc := usecase.New(providers.Registry, lookup, usecase.WithSettleTimeout(settleTimeout))

			// N+1 Prevention Policy: Worker uses DeleteAll → SaveMany (Replace strategy)
			var refreshWorker *worker.UserDirectoryRefreshWorker
			if refreshInterval > 0 && len(providers.Listers) > 0 {
				refreshWorker = worker.NewUserDirectoryRefreshWorker(repo, providers.Listers, refreshInterval,
					worker.WithRefreshHook(uc.Mention.SeedUsers))
				if err := refreshWorker.Start(ctx); err != nil {
					return goerr.Wrap(err, "failed to start user directory refresh worker")
				}
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(uc.Mention, httpctrl.WithOriginPatterns(originPatterns...)),
				ReadHeaderTimeout: 30 * time.Second,
			}

			// Setup signal handling for graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			// Start server in goroutine
			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server",
					"addr", addr,
					"workspaces", len(providers.Registry.Workspaces()),
					"repository", repoCfg)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			// Wait for shutdown signal or server error
			select {
			case err := <-errCh:
				if refreshWorker != nil {
					refreshWorker.Stop()
				}
				return err
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)

				// Stop refresh worker first
				if refreshWorker != nil {
					refreshWorker.Stop()
				}

				// Create shutdown context with timeout
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				// Attempt graceful shutdown
				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}

				logging.Default().Info("Server shutdown completed")
				return nil
			}
		},
	}
}
