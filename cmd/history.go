package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/devproxy/internal/history"
	"github.com/firefly-engineering/devproxy/internal/logging"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show requests recorded by the proxy",
	Long: `Show the requests recorded by the proxy, oldest first.

The history is bounded; the oldest records are dropped once it is full.
With --follow new records are printed as they arrive until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var (
	historyLimit  int
	historyJSON   bool
	historyFollow bool
)

const maxURLWidth = 60

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Show only the last N records (0 = all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output records as JSON lines")
	historyCmd.Flags().BoolVarP(&historyFollow, "follow", "f", false, "Stream new records as they arrive")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	c, err := controlClient()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if historyFollow {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return c.Follow(ctx, true, func(r history.Record) error {
			if historyJSON {
				return writeRecordJSON(out, r)
			}
			fmt.Fprintln(out, formatRecordLine(r))
			return nil
		})
	}

	ctx, cancel := commandContext()
	defer cancel()

	records, err := c.GetRequestHistory(ctx)
	if err != nil {
		return err
	}
	records = lastN(records, historyLimit)

	if historyJSON {
		for _, r := range records {
			if err := writeRecordJSON(out, r); err != nil {
				return err
			}
		}
		return nil
	}

	if len(records) == 0 {
		logInfo("No requests recorded yet")
		return nil
	}
	fmt.Fprintln(out, renderHistoryTable(records))
	return nil
}

func lastN(records []history.Record, n int) []history.Record {
	if n > 0 && len(records) > n {
		return records[len(records)-n:]
	}
	return records
}

func writeRecordJSON(w io.Writer, r history.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func renderHistoryTable(records []history.Record) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("241"))).
		Headers("TIME", "METHOD", "STATUS", "DURATION", "URL", "ERROR")

	for _, r := range records {
		t.Row(
			r.Timestamp.Local().Format("15:04:05"),
			r.Method,
			logging.StatusBadge(r.StatusCode()),
			formatDuration(r.DurationMs),
			truncate(r.URL, maxURLWidth),
			derefOr(r.Error, ""),
		)
	}
	return t.String()
}

func formatRecordLine(r history.Record) string {
	line := fmt.Sprintf("%s %-6s %s %6s %s",
		r.Timestamp.Local().Format("15:04:05"),
		r.Method,
		logging.StatusBadge(r.StatusCode()),
		formatDuration(r.DurationMs),
		r.URL)
	if r.Error != nil {
		line += " " + logging.Dim(*r.Error)
	}
	return line
}

func formatDuration(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return fmt.Sprintf("%dms", *ms)
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
