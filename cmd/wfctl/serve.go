package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/songzhibin97/gkit/generator"
	"github.com/songzhibin97/itsm-workflow/api"
	"github.com/songzhibin97/itsm-workflow/events"
	"github.com/songzhibin97/itsm-workflow/logging"
	"github.com/songzhibin97/itsm-workflow/rules"
	"github.com/songzhibin97/itsm-workflow/storage"
	"github.com/songzhibin97/itsm-workflow/workflow"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand returns the serve command, which runs the HTTP API on the
// store chosen with --storage until SIGINT or SIGTERM.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the workflow HTTP API",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Listen address",
				Value:   ":8080",
				Sources: cli.EnvVars("WORKFLOW_ADDR"),
			},
		}, storageFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := logging.WithModule("wfctl").With("action", "serve")

			store, closeStore, err := newStorage(ctx, command)
			if err != nil {
				return err
			}
			defer closeStore()

			evaluator, err := rules.NewEvaluator(command.String("evaluator"))
			if err != nil {
				return err
			}

			engine, err := newEngine(store, evaluator)
			if err != nil {
				return err
			}

			app := api.New(engine, logging.WithModule("api"))

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Starting workflow API", "addr", command.String("addr"), "storage", command.String("storage"))
				errCh <- app.Listen(command.String("addr"))
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server stopped: %w", err)
			case <-ctx.Done():
			}

			logger.Info("Shutting down workflow API")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := app.ShutdownWithContext(shutdownCtx); err != nil {
				logger.Error("Failed to shut down HTTP server", "error", err)
			}
			return engine.Stop(shutdownCtx)
		},
	}
}

func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "storage",
			Usage:   "Definition store (memory, redis, postgres)",
			Value:   "memory",
			Sources: cli.EnvVars("WORKFLOW_STORAGE"),
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address",
			Value:   "localhost:6379",
			Sources: cli.EnvVars("REDIS_ADDR"),
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Redis password",
			Sources: cli.EnvVars("REDIS_PASSWORD"),
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Usage:   "Redis database number",
			Sources: cli.EnvVars("REDIS_DB"),
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Postgres connection URL",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
	}
}

// newEngine builds an engine on store whose lifecycle events go to the audit log.
func newEngine(store storage.Storage, evaluator rules.Evaluator) (*workflow.WorkflowEngine, error) {
	bus := events.NewEventBus(events.WithLogger(logging.WithModule("events")))
	engine, err := workflow.NewWorkflowEngine(
		generator.NewSnowflake(time.Now().Add(-time.Second), 1),
		store,
		evaluator,
		workflow.WithLogger(logging.WithModule("workflow")),
		workflow.WithEventBus(bus),
	)
	if err != nil {
		return nil, err
	}
	logEvents(engine, logging.WithModule("audit"))
	return engine, nil
}

// newStorage opens the store named by --storage and returns its close function.
func newStorage(ctx context.Context, command *cli.Command) (storage.Storage, func(), error) {
	switch command.String("storage") {
	case "", "memory":
		return storage.NewMemoryStorage(), func() {}, nil
	case "redis":
		store, err := storage.NewRedisStorage(storage.RedisOptions{
			Addr:     command.String("redis-addr"),
			Password: command.String("redis-password"),
			DB:       command.Int("redis-db"),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Error("Failed to close redis storage", "error", err)
			}
		}, nil
	case "postgres":
		url := command.String("database-url")
		if url == "" {
			return nil, nil, fmt.Errorf("--database-url is required for postgres storage")
		}
		store, err := storage.NewPostgresStorage(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		if err := store.CreateSchema(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("failed to create schema: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage %q", command.String("storage"))
	}
}

func logEvents(engine *workflow.WorkflowEngine, logger *slog.Logger) {
	for _, eventType := range []string{
		events.TypeRegistered,
		events.TypeValidationFailed,
		events.TypeActivated,
		events.TypeStatusChanged,
		events.TypeDeleted,
	} {
		engine.SubscribeEvent(eventType, events.EventHandlerFunc(func(ctx context.Context, event events.Event) error {
			logger.Info("Workflow event", "event_type", event.Type, "definition_id", event.DefinitionID, "data", event.Data)
			return nil
		}))
	}
}
