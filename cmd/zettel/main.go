package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/zettel-agent/backend/internal/app"
	"github.com/zettel-agent/backend/pkg/config"
	"github.com/zettel-agent/backend/pkg/logger"
)

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, errorColor.Sprint("Error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "zettel",
		Usage: "Ingest content into a linked note graph and ask it questions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Sources: cli.EnvVars("ZETTEL_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level written to stderr",
				Value: "warn",
			},
		},
		Commands: []*cli.Command{
			ingestCommand(),
			queryCommand(),
			exploreCommand(),
			noveltyCommand(),
			chatCommand(),
			historyCommand(),
		},
	}
}

// withApp loads configuration, builds the application and runs fn with it.
func withApp(ctx context.Context, cmd *cli.Command, fn func(a *app.App) error) error {
	cfg, err := config.LoadFile(cmd.String("config"))
	if err != nil {
		return err
	}
	if err := logger.Init(cmd.String("log-level"), "console", "stderr"); err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}
