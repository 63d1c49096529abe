package pending

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/leafscan/leafscan/cmd/runner"
	"github.com/leafscan/leafscan/internal/app"
	"github.com/leafscan/leafscan/internal/conf"
	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/model"
)

// Command creates the pending command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect and process scans queued while offline",
	}
	cmd.AddCommand(
		listCommand(settings),
		processCommand(settings),
		deleteCommand(settings),
		retryCommand(settings),
	)
	return cmd
}

func withQueue(cmd *cobra.Command, settings *conf.Settings, fn func(ctx context.Context, a *app.App) error) error {
	return runner.Run(cmd.Context(), settings, app.Options{}, func(ctx context.Context, a *app.App) error {
		if a.Queue == nil {
			return errors.Newf("pending queue needs scan.endpoint to be configured").
				Component("cmd").
				Category(errors.CategoryConfiguration).
				Build()
		}
		return fn(ctx, a)
	})
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending scans in queue order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, settings, func(_ context.Context, a *app.App) error {
				return printItems(cmd.OutOrStdout(), a.Queue.List())
			})
		},
	}
}

func processCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "process [id...]",
		Short: "Process the given queued scans, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, settings, func(ctx context.Context, a *app.App) error {
				if len(args) == 0 {
					sum, err := a.Queue.Drain(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d succeeded, %d failed\n", sum.Succeeded, sum.Failed)
					return a.Sync.Flush(ctx)
				}
				sum := a.Queue.BulkProcess(ctx, args)
				fmt.Fprintf(cmd.OutOrStdout(), "%d succeeded, %d failed\n", sum.Succeeded, sum.Failed)
				return nil
			})
		},
	}
}

func deleteCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "delete id...",
		Short: "Remove pending scans and their results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, settings, func(ctx context.Context, a *app.App) error {
				return a.Queue.Delete(ctx, args...)
			})
		},
	}
}

func retryCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "retry id",
		Short: "Queue a failed scan again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, settings, func(ctx context.Context, a *app.App) error {
				item, err := a.Queue.Retry(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued as %s\n", item.ID)
				return nil
			})
		},
	}
}

func printItems(w io.Writer, items []model.PendingItem) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTREE\tSTATUS\tQUEUED\tERROR")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			it.ID, it.TreeCode, it.Status, it.QueuedAt.Format(time.DateTime), it.Error)
	}
	return tw.Flush()
}
