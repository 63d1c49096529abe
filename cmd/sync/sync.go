package sync

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leafscan/leafscan/cmd/runner"
	"github.com/leafscan/leafscan/internal/app"
	"github.com/leafscan/leafscan/internal/conf"
)

// Command creates the sync command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull every entity from the backend once and push local changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runner.Run(cmd.Context(), settings, app.Options{}, func(ctx context.Context, a *app.App) error {
				if err := a.Sync.SyncAll(ctx); err != nil {
					return err
				}
				if err := a.Sync.Flush(ctx); err != nil {
					return err
				}
				s := a.Store.Snapshot()
				fmt.Fprintf(cmd.OutOrStdout(), "synced %d farms, %d trees, %d images\n",
					len(s.Farms), len(s.Trees), len(s.Images))
				return nil
			})
		},
	}
}
