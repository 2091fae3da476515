package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/songzhibin97/itsm-workflow/loader"
	"github.com/songzhibin97/itsm-workflow/logging"
	"github.com/songzhibin97/itsm-workflow/rules"
	"github.com/songzhibin97/itsm-workflow/types"
	"github.com/songzhibin97/itsm-workflow/workflow"
	"github.com/urfave/cli/v3"
)

var errInvalidWorkflow = errors.New("workflow definition is invalid")

func variableFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "var",
			Usage: "Condition variable as key=value; the value is parsed as JSON when possible",
		},
		&cli.StringFlag{
			Name:  "vars",
			Usage: "JSON or YAML file with condition variables",
		},
	}
}

// NewValidateCommand returns the validate command. It prints the validation
// result of one definition file and fails when the definition has errors.
func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check a workflow definition for structural problems",
		ArgsUsage: "<definition.json|yaml>",
		Action: func(ctx context.Context, command *cli.Command) error {
			def, err := loadDefinition(command)
			if err != nil {
				return err
			}

			result := workflow.Validate(&def)
			if err := writeJSON(command.Root().Writer, result); err != nil {
				return err
			}
			if !result.IsValid {
				return fmt.Errorf("%w: %d error(s)", errInvalidWorkflow, len(result.Errors))
			}
			return nil
		},
	}
}

// NewNextCommand returns the next command, which resolves the successors of a
// node for the given variables.
func NewNextCommand() *cli.Command {
	return &cli.Command{
		Name:      "next",
		Aliases:   []string{"n"},
		Usage:     "Print the nodes that follow a node",
		ArgsUsage: "<definition.json|yaml> <node-id>",
		Flags:     variableFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			def, err := loadDefinition(command)
			if err != nil {
				return err
			}
			nodeID := command.Args().Get(1)
			if nodeID == "" {
				return errors.New("node id is required")
			}
			vars, err := collectVariables(command)
			if err != nil {
				return err
			}
			resolver, err := newResolver(command)
			if err != nil {
				return err
			}

			next := resolver.FindNextNodes(nodeID, &def, vars)
			return writeJSON(command.Root().Writer, map[string]interface{}{"next": next})
		},
	}
}

// NewSimulateCommand returns the simulate command. It prints the path a
// definition takes from its start node.
func NewSimulateCommand() *cli.Command {
	return &cli.Command{
		Name:      "simulate",
		Aliases:   []string{"s"},
		Usage:     "Walk a workflow from its start node and print the visited nodes",
		ArgsUsage: "<definition.json|yaml>",
		Flags: append(variableFlags(),
			&cli.IntFlag{
				Name:    "max-steps",
				Usage:   "Maximum number of visited nodes",
				Value:   workflow.DefaultMaxSteps,
				Sources: cli.EnvVars("WORKFLOW_MAX_STEPS"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			def, err := loadDefinition(command)
			if err != nil {
				return err
			}
			vars, err := collectVariables(command)
			if err != nil {
				return err
			}
			resolver, err := newResolver(command)
			if err != nil {
				return err
			}

			steps, err := resolver.Walk(&def, vars, command.Int("max-steps"))
			if err != nil && !errors.Is(err, workflow.ErrMaxStepsExceeded) {
				return err
			}
			if werr := writeJSON(command.Root().Writer, steps); werr != nil {
				return werr
			}
			return err
		},
	}
}

func loadDefinition(command *cli.Command) (types.WorkflowDefinition, error) {
	path := command.Args().First()
	if path == "" {
		return types.WorkflowDefinition{}, errors.New("definition file is required")
	}
	return loader.LoadFile(path)
}

func newResolver(command *cli.Command) (*workflow.Resolver, error) {
	evaluator, err := rules.NewEvaluator(command.String("evaluator"))
	if err != nil {
		return nil, err
	}
	return workflow.NewResolver(evaluator, logging.WithModule("resolver")), nil
}

// collectVariables merges the --vars file with --var pairs; pairs win.
func collectVariables(command *cli.Command) (map[string]interface{}, error) {
	vars := map[string]interface{}{}
	if path := command.String("vars"); path != "" {
		loaded, err := loader.LoadVariables(path)
		if err != nil {
			return nil, err
		}
		vars = loaded
	}

	pairs, err := parseVariables(command.StringSlice("var"))
	if err != nil {
		return nil, err
	}
	for k, v := range pairs {
		vars[k] = v
	}
	return vars, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
