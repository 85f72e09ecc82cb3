package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/gatekeeper/internal/store"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/spf13/cobra"
)

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent unlocks from the audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := connectDB(cmd.Context()); err != nil {
			utils.ShowError("Audit log unavailable", err, nil)
			return err
		}
		events, err := DB.RecentUnlocks(cmd.Context(), eventsLimit)
		if err != nil {
			utils.ShowError("Failed to list unlock events", err, nil)
			return err
		}
		printEvents(os.Stdout, events)
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "l", 20, "Maximum number of events to show")
	rootCmd.AddCommand(eventsCmd)
}

func printEvents(out io.Writer, events []store.UnlockEvent) {
	if len(events) == 0 {
		fmt.Fprintln(out, "No unlocks recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "WHEN\tLABEL\tDISTANCE\tEVENT")
	fmt.Fprintln(w, "----\t-----\t--------\t-----")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\n", ev.UnlockedAt.Local().Format("2006-01-02 15:04:05"), ev.Label, ev.Distance, ev.ID.String()[:8])
	}
	w.Flush()
}
