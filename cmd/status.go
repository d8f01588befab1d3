package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/devproxy/internal/app"
	"github.com/firefly-engineering/devproxy/internal/health"
	"github.com/firefly-engineering/devproxy/internal/logging"
	"github.com/firefly-engineering/devproxy/internal/node"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy, node and API key status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := controlClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	snap, err := c.Status(ctx)
	if err != nil {
		return err
	}

	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	printStatus(cmd.OutOrStdout(), snap, time.Now())
	return nil
}

func printStatus(w io.Writer, snap app.Snapshot, now time.Time) {
	fmt.Fprintln(w, "Proxy:")
	fmt.Fprintf(w, "  State:    %s\n", logging.RunningBadge(snap.Proxy != nil))
	if snap.Proxy != nil {
		fmt.Fprintf(w, "  URL:      %s\n", snap.Proxy.URL)
		fmt.Fprintf(w, "  Uptime:   %s\n", health.FormatUptime(now.Sub(snap.Proxy.StartedAt)))
	}
	fmt.Fprintf(w, "  Upstream: %s\n", snap.Upstream)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "API key:")
	switch {
	case !snap.Credential.Stored:
		fmt.Fprintf(w, "  %s\n", logging.Dim("not stored"))
	case snap.Credential.Validated:
		fmt.Fprintf(w, "  stored, %s\n", "validated")
	default:
		fmt.Fprintf(w, "  stored, %s\n", logging.Dim("not validated"))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Anvil node:")
	fmt.Fprintf(w, "  State:    %s\n", logging.StateBadge(string(snap.Node.State)))
	if inst := snap.Node.Instance; inst != nil {
		fmt.Fprintf(w, "  URL:      %s\n", inst.URL)
		fmt.Fprintf(w, "  PID:      %d\n", inst.PID)
		if inst.ChainID != 0 {
			fmt.Fprintf(w, "  Chain id: %d\n", inst.ChainID)
		}
		if snap.Node.State == node.StateRunning {
			fmt.Fprintf(w, "  Uptime:   %s\n", health.FormatUptime(now.Sub(inst.StartedAt)))
		}
		if inst.LogFile != "" {
			fmt.Fprintf(w, "  Log:      %s\n", inst.LogFile)
		}
	}
	if snap.Node.LastError != "" {
		fmt.Fprintf(w, "  Error:    %s\n", snap.Node.LastError)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "History: %d of %d records\n", snap.History.Len, snap.History.Cap)
}
