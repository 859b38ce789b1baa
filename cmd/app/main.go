package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/dispatchd/internal"
	pkgconfig "github.com/starford/dispatchd/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func poll(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("include-null-status") {
		cfg.Poll.IncludeNullStatus = cmd.Bool("include-null-status")
	}

	if err := internal.PollOnce(ctx, cmd.String("table"), cmd.Bool("dry-run"), internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("poll error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.ServeMCP(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "dispatchd",
		Usage:  "Reconciles volunteer-coordination tickets and dispatches Slack actions on status changes",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the pollers and the operator HTTP API",
				Action: serve,
			},
			{
				Name:   "poll",
				Usage:  "Run a single reconciliation cycle for one table and print the report",
				Action: poll,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "table",
						Aliases:  []string{"t"},
						Usage:    "Table to reconcile (intake, reimbursements, volunteers)",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "include-null-status",
						Usage: "Treat records without a status as changed",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "List the records the cycle would process without running handlers",
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the operator tools over MCP stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
