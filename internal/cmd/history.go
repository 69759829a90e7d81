package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lakefront/s3console/pkg/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and manage the operation history",
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show recorded operations",
	Long: `Show the operation history for the current identity, newest first.

Examples:
  # Last 20 operations
  s3console history show --limit 20

  # Failed uploads only
  s3console history show --status error --type object.upload

  # Everything that touched PDFs under docs/
  s3console history show --glob "docs/**/*.pdf"`,
	Args: cobra.NoArgs,
	RunE: runHistoryShow,
}

var historySyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push pending entries and pull the remote history now",
	Args:  cobra.NoArgs,
	RunE:  runHistorySync,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the history for the current identity",
	Long: `Clear the local history partition and, when a history service is
configured, request the remote clear as well. The local clear always
happens; a remote failure is reported but not fatal.`,
	Args: cobra.NoArgs,
	RunE: runHistoryClear,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the history partition",
	Args:  cobra.NoArgs,
	RunE:  runHistoryStats,
}

var historyLoggingCmd = &cobra.Command{
	Use:   "logging <on|off>",
	Short: "Toggle history recording for the current identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryLogging,
}

var historySyncingCmd = &cobra.Command{
	Use:   "syncing <on|off>",
	Short: "Toggle background history sync for the current identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistorySyncing,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historySyncCmd)
	historyCmd.AddCommand(historyClearCmd)
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyLoggingCmd)
	historyCmd.AddCommand(historySyncingCmd)

	f := historyShowCmd.Flags()
	f.Int("limit", 50, "Maximum entries to show (0 for all)")
	f.String("status", "", "Filter by status (started, progress, success, error)")
	f.String("type", "", "Filter by operation type (e.g. object.upload)")
	f.String("glob", "", "Filter by bucket/object path glob")
	f.Bool("json", false, "Output as JSON")
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")
	status, _ := cmd.Flags().GetString("status")
	opType, _ := cmd.Flags().GetString("type")
	glob, _ := cmd.Flags().GetString("glob")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.history.List(ctx, s.user, history.Filter{
		Limit:         limit,
		Status:        history.Status(status),
		OperationType: history.OperationType(opType),
		NameGlob:      glob,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tOPERATION\tSTATUS\tTARGET\tMESSAGE")
	for _, e := range entries {
		target := e.BucketName
		if e.ObjectName != "" {
			target += "/" + e.ObjectName
		}
		msg := e.UserMessage
		if msg == "" && e.ErrorCode != "" {
			msg = e.ErrorCode
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.OperationType, e.Status, target, msg)
	}
	return w.Flush()
}

func runHistorySync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.sync == nil {
		return fmt.Errorf("no history service configured: set history.service_url or the profile's history_url")
	}

	err = s.tracker.Run(ctx, history.OpHistorySync, "", "", func(ctx context.Context) error {
		return s.sync.FullSync(ctx)
	})
	if err != nil {
		return err
	}

	last, err := s.history.LastSyncedAt(ctx, s.user)
	if err == nil && !last.IsZero() {
		fmt.Printf("History synced (last sync %s)\n", last.Local().Format(time.DateTime))
		return nil
	}
	fmt.Println("History synced")
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.sync != nil {
		if err := s.sync.ClearAll(ctx); err != nil {
			return err
		}
	} else if err := s.history.ClearUser(ctx, s.user); err != nil {
		return err
	}

	fmt.Println("History cleared")
	return nil
}

func runHistoryStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.history.Stats(ctx, s.user)
	if err != nil {
		return err
	}

	fmt.Printf("Total:   %d\n", stats.Total)
	fmt.Printf("Errors:  %d\n", stats.Errors)
	fmt.Printf("Pending: %d\n", stats.Pending)

	last, err := s.history.LastSyncedAt(ctx, s.user)
	if err == nil && !last.IsZero() {
		fmt.Printf("Synced:  %s\n", last.Local().Format(time.DateTime))
	}
	return nil
}

func runHistoryLogging(cmd *cobra.Command, args []string) error {
	return runHistoryToggle(cmd, args[0], "Recording", func(s *session, ctx context.Context, enabled bool) error {
		return s.history.SetLoggingEnabled(ctx, s.user, enabled)
	})
}

func runHistorySyncing(cmd *cobra.Command, args []string) error {
	return runHistoryToggle(cmd, args[0], "Sync", func(s *session, ctx context.Context, enabled bool) error {
		return s.history.SetSyncEnabled(ctx, s.user, enabled)
	})
}

func runHistoryToggle(cmd *cobra.Command, arg, what string, set func(*session, context.Context, bool) error) error {
	ctx := cmd.Context()

	var enabled bool
	switch arg {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return fmt.Errorf("expected on or off, got %q", arg)
	}

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := set(s, ctx, enabled); err != nil {
		return err
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("%s %s for %s\n", what, state, s.user)
	return nil
}
