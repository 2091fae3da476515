package main

import (
	"context"
	"time"

	"github.com/songzhibin97/itsm-workflow/logging"
	"github.com/urfave/cli/v3"
)

// NewPurgeCommand returns the purge command. It deletes every archived
// definition from the store and prints their ids.
func NewPurgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Delete archived workflow definitions from the store",
		Flags: storageFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			store, closeStore, err := newStorage(ctx, command)
			if err != nil {
				return err
			}
			defer closeStore()

			engine, err := newEngine(store, nil)
			if err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = engine.Stop(stopCtx)
			}()

			start := time.Now()
			purged, err := engine.PurgeArchived(ctx)
			if err != nil {
				return err
			}
			logging.WithModule("wfctl").Info("Purged archived workflows", "count", len(purged), "took", time.Since(start))
			return writeJSON(command.Root().Writer, map[string][]string{"purged": purged})
		},
	}
}
