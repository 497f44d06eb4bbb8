// Command inviter invites discovered users into a Telegram channel at a
// paced, quota-limited rate inside a daily time window.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	_ "time/tzdata"

	logx "inviter/pkg/logx"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		logx.NewConsole("info").Error("fatal", logx.Err(err))
		cancel()
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "inviter",
		Usage:   "Invite discovered users into a Telegram channel within an hourly quota",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a JSON or YAML config file (environment variables override it)",
				Sources: cli.EnvVars("INVITER_CONFIG"),
			},
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the invite loop (default)",
				Action: runAction,
			},
			{
				Name:  "migrate",
				Usage: "Apply ledger schema migrations",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runMigrate(ctx, cmd.String("config"), os.Stdout)
				},
			},
			{
				Name:  "ledger",
				Usage: "Inspect or edit the invitation ledger",
				Commands: []*cli.Command{
					{
						Name:  "stats",
						Usage: "Count recorded outcomes and pending candidates",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "since",
								Value: "24h",
								Usage: "Duration back from now (e.g. 24h) or an RFC3339 time",
							},
							formatFlag(),
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return withStore(ctx, cmd.String("config"), func(l ledger) error {
								return runStats(ctx, l, os.Stdout, cmd.String("since"), cmd.String("format"))
							})
						},
					},
					{
						Name:  "list",
						Usage: "Show the most recent ledger records",
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:    "limit",
								Aliases: []string{"n"},
								Value:   20,
								Usage:   "Number of records to show",
							},
							formatFlag(),
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return withStore(ctx, cmd.String("config"), func(l ledger) error {
								return runList(ctx, l, os.Stdout, int(cmd.Int("limit")), cmd.String("format"))
							})
						},
					},
					{
						Name:      "reset",
						Usage:     "Delete ledger records so their handles are invited again",
						ArgsUsage: "[handle]",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "outcome",
								Usage: "Only records with this outcome (e.g. flood_wait)",
							},
							&cli.StringFlag{
								Name:  "before",
								Usage: "Only records older than a duration (e.g. 72h) or an RFC3339 time",
							},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return withStore(ctx, cmd.String("config"), func(l ledger) error {
								return runReset(ctx, l, os.Stdout, cmd.Args().First(), cmd.String("outcome"), cmd.String("before"))
							})
						},
					},
				},
			},
		},
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "text",
		Usage:   "Output format: 'text' or 'json'",
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	if err := runInviter(ctx, cmd.String("config")); err != nil {
		return fmt.Errorf("inviter: %w", err)
	}
	return nil
}
