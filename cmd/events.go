package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var flags gateFlags

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List events with their check-in progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			client, err := newClient(cfg, nil)
			if err != nil {
				return err
			}
			stats, err := client.Stats(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEVENT\tSOLD\tSCANNED\tREMAINING\tPROGRESS")
			for _, ev := range stats.Events {
				c := ev.Capacity()
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d%%\n", ev.EventID, ev.EventName, c.Sold, c.Scanned, c.Remaining(), c.Percent())
			}
			fmt.Fprintf(w, "\tTOTAL\t%d\t%d\t\t\n", stats.TotalSold, stats.TotalScanned)
			return w.Flush()
		},
	}
	flags.register(cmd)
	return cmd
}
