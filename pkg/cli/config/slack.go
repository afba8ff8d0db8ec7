package config

import (
	"log/slog"

	"github.com/secmon-lab/mentionist/pkg/service/slack"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"
)

// Slack holds CLI flags shared by every Slack workspace client
type Slack struct {
	ratePerMinute int
	apiURL        string
}

func (x *Slack) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "slack-rate-limit",
			Usage:       "Maximum Slack API calls per minute per workspace (0 = unlimited)",
			Category:    "Slack",
			Value:       100,
			Sources:     cli.EnvVars("MENTIONIST_SLACK_RATE_LIMIT"),
			Destination: &x.ratePerMinute,
		},
		&cli.StringFlag{
			Name:        "slack-api-url",
			Usage:       "Slack Web API base URL (for proxies and testing)",
			Category:    "Slack",
			Sources:     cli.EnvVars("MENTIONIST_SLACK_API_URL"),
			Destination: &x.apiURL,
		},
	}
}

func (x Slack) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("rate_per_minute", x.ratePerMinute),
		slog.String("api_url", x.apiURL),
	)
}

// Options converts the flags into slack client options
func (x *Slack) Options() []slack.Option {
	var opts []slack.Option
	if x.ratePerMinute > 0 {
		opts = append(opts, slack.WithRateLimit(rate.Limit(float64(x.ratePerMinute)/60), max(1, x.ratePerMinute/10)))
	} else {
		opts = append(opts, slack.WithRateLimit(rate.Inf, 1))
	}
	if x.apiURL != "" {
		opts = append(opts, slack.WithAPIURL(x.apiURL))
	}
	return opts
}
