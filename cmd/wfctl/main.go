package main

import (
	"context"
	"fmt"
	"os"

	"github.com/songzhibin97/itsm-workflow/logging"
	"github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  "wfctl",
		Usage:                 "Validate, route and serve ITSM workflow definitions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "evaluator",
				Usage:   "Condition expression language (expr, cel)",
				Value:   "expr",
				Sources: cli.EnvVars("WORKFLOW_EVALUATOR"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			logging.Setup(command.String("log-level"), command.String("log-format"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			NewValidateCommand(),
			NewNextCommand(),
			NewSimulateCommand(),
			NewServeCommand(),
			NewPurgeCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "wfctl:", err)
		os.Exit(1)
	}
}
