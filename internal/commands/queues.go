package commands

import (
	"fmt"

	"chansync/internal/models"

	"github.com/spf13/cobra"
)

var queuesCmd = &cobra.Command{
	Use:   "queues",
	Short: "Show primary and retry queue counters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		stats, err := newClient().Queues(ctx)
		if err != nil {
			return fmt.Errorf("queues failed: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-8s %8s %8s %8s %10s %8s\n", "Queue", "Waiting", "Delayed", "Active", "Completed", "Failed")
		for _, row := range []struct {
			name   string
			counts models.QueueCounts
		}{
			{models.QueuePrimary, stats.Primary},
			{models.QueueRetry, stats.Retry},
		} {
			fmt.Fprintf(out, "%-8s %8d %8d %8d %10d %8d\n", row.name,
				row.counts.Waiting, row.counts.Delayed, row.counts.Active, row.counts.Completed, row.counts.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queuesCmd)
}
