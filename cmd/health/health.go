package health

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/leafscan/leafscan/cmd/runner"
	"github.com/leafscan/leafscan/internal/aggregate"
	"github.com/leafscan/leafscan/internal/app"
	"github.com/leafscan/leafscan/internal/conf"
)

// Command creates the health command.
func Command(settings *conf.Settings) *cobra.Command {
	var doSync bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Print the health of every farm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runner.Run(cmd.Context(), settings, app.Options{}, func(ctx context.Context, a *app.App) error {
				if doSync {
					if err := a.Sync.SyncAll(ctx); err != nil {
						return err
					}
				}
				report := aggregate.FarmHealthReport(a.Store.Snapshot(), settings.UserID)
				return printReport(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().BoolVar(&doSync, "sync", false, "Sync with the backend before computing")
	return cmd
}

func printReport(w io.Writer, report []aggregate.FarmHealth) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FARM\tTREES\tCLASSIFIED\tHEALTHY\tDISEASED\tHEALTH %\tTOP DISEASE")
	for _, f := range report {
		top := "-"
		if len(f.Diseases) > 0 {
			top = fmt.Sprintf("%s (%d)", f.Diseases[0].Name, f.Diseases[0].Trees)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.1f\t%s\n",
			f.FarmName, f.Trees, f.Classified, f.Healthy, f.Diseased, f.Health, top)
	}
	fmt.Fprintf(tw, "OVERALL\t\t\t\t\t%.1f\t\n", aggregate.OverallHealth(report))
	return tw.Flush()
}
