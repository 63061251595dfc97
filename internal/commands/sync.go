package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"chansync/internal/export"
	"chansync/internal/models"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a sync request",
	Long:  "Queue a sync of the given rate records to one channel and print the sync ID.",
	RunE:  runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent syncs of a property",
	RunE:  runStatus,
}

var getCmd = &cobra.Command{
	Use:   "get <sync-id>",
	Short: "Show one ledger entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel queued syncs of a property or channel",
	Long:  "Removes waiting and delayed jobs. Syncs already being processed are not interrupted.",
	RunE:  runCancel,
}

var testChannelCmd = &cobra.Command{
	Use:   "test-channel <channel-id>",
	Short: "Check connectivity to a channel's provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestChannel,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download the sync ledger as an xlsx workbook",
	RunE:  runExport,
}

func init() {
	submitCmd.Flags().String("property", "", "property ID")
	submitCmd.Flags().String("channel", "", "channel ID")
	submitCmd.Flags().StringSlice("records", nil, "record IDs, comma separated")
	submitCmd.Flags().String("operation", string(models.OperationUpdate), "CREATE, UPDATE or DELETE")
	submitCmd.Flags().String("priority", string(models.PriorityNormal), "LOW, NORMAL or HIGH")
	submitCmd.Flags().String("requested-by", "", "who asked for the sync")
	_ = submitCmd.MarkFlagRequired("property")
	_ = submitCmd.MarkFlagRequired("channel")
	_ = submitCmd.MarkFlagRequired("records")

	for _, c := range []*cobra.Command{statusCmd, cancelCmd, exportCmd} {
		c.Flags().String("property", "", "property ID")
		c.Flags().String("channel", "", "channel ID (optional)")
		_ = c.MarkFlagRequired("property")
	}
	exportCmd.Flags().Int("limit", 0, "maximum entries (server default when 0)")
	exportCmd.Flags().StringP("out", "o", "", "output file (default sync_ledger_<property>_<time>.xlsx)")

	rootCmd.AddCommand(submitCmd, statusCmd, getCmd, cancelCmd, testChannelCmd, exportCmd)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	property, _ := cmd.Flags().GetString("property")
	channel, _ := cmd.Flags().GetString("channel")
	records, _ := cmd.Flags().GetStringSlice("records")
	operation, _ := cmd.Flags().GetString("operation")
	priority, _ := cmd.Flags().GetString("priority")
	requestedBy, _ := cmd.Flags().GetString("requested-by")

	ctx, cancel := commandContext(cmd)
	defer cancel()

	res, err := newClient().Submit(ctx, models.SyncRequest{
		PropertyID:  property,
		ChannelID:   channel,
		RecordIDs:   records,
		Operation:   models.Operation(strings.ToUpper(operation)),
		Priority:    models.Priority(strings.ToUpper(priority)),
		RequestedBy: requestedBy,
	})
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Accepted sync %s (%d records)\n", res.SyncID, len(records))
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	property, _ := cmd.Flags().GetString("property")
	channel, _ := cmd.Flags().GetString("channel")

	ctx, cancel := commandContext(cmd)
	defer cancel()

	entries, err := newClient().Status(ctx, property, channel)
	if err != nil {
		return fmt.Errorf("status failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-36s %-12s %-8s %-17s %6s %6s %6s %-20s\n",
		"Sync ID", "Channel", "Op", "Status", "Total", "OK", "Failed", "Created")
	fmt.Fprintln(out, strings.Repeat("-", 120))
	for _, e := range entries {
		fmt.Fprintf(out, "%-36s %-12s %-8s %-17s %6d %6d %6d %-20s\n",
			e.SyncID, e.ChannelID, e.Operation, e.Status,
			e.TotalRecords, e.SuccessCount, e.FailedCount,
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(out, "\nTotal: %d entries\n", len(entries))
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	e, err := newClient().Entry(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sync ID:     %s\n", e.SyncID)
	if e.ParentSyncID != "" {
		fmt.Fprintf(out, "Retry of:    %s (attempt %d)\n", e.ParentSyncID, e.RetryCount)
	}
	fmt.Fprintf(out, "Property:    %s\n", e.PropertyID)
	fmt.Fprintf(out, "Channel:     %s\n", e.ChannelID)
	fmt.Fprintf(out, "Operation:   %s (%s)\n", e.Operation, e.Priority)
	fmt.Fprintf(out, "Status:      %s\n", e.Status)
	fmt.Fprintf(out, "Records:     %d total, %d synced, %d failed\n", e.TotalRecords, e.SuccessCount, e.FailedCount)
	if e.DurationMs > 0 {
		fmt.Fprintf(out, "Duration:    %s\n", time.Duration(e.DurationMs)*time.Millisecond)
	}
	if e.ErrorSummary != "" {
		fmt.Fprintf(out, "Errors:      %s\n", e.ErrorSummary)
	}
	return nil
}

func runCancel(cmd *cobra.Command, _ []string) error {
	property, _ := cmd.Flags().GetString("property")
	channel, _ := cmd.Flags().GetString("channel")

	ctx, cancel := commandContext(cmd)
	defer cancel()

	n, err := newClient().Cancel(ctx, property, channel)
	if err != nil {
		return fmt.Errorf("cancel failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %d queued syncs\n", n)
	return nil
}

func runTestChannel(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	res, err := newClient().TestChannel(ctx, args[0])
	if err != nil {
		return fmt.Errorf("test failed: %w", err)
	}
	if !res.Success {
		return errors.New("connection failed: " + res.Message)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Channel %s OK: %s\n", args[0], res.Message)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	property, _ := cmd.Flags().GetString("property")
	channel, _ := cmd.Flags().GetString("channel")
	limit, _ := cmd.Flags().GetInt("limit")
	path, _ := cmd.Flags().GetString("out")
	if path == "" {
		path = export.FileName(property, time.Now())
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := newClient().Export(ctx, property, channel, limit, f); err != nil {
		f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("export failed: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
