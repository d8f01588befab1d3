package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/devproxy/internal/config"
	"github.com/firefly-engineering/devproxy/internal/health"
	"github.com/firefly-engineering/devproxy/internal/logging"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage the local anvil node",
}

var nodeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the anvil node",
	Long: `Spawn anvil on the given port and wait until it answers JSON-RPC.

If the node does not become ready within the configured startup window it
is killed and the command fails. Output goes to the configured log
directory.`,
	Args: cobra.NoArgs,
	RunE: runNodeStart,
}

var nodeStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the anvil node",
	Args:  cobra.NoArgs,
	RunE:  runNodeStop,
}

var nodeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query block number, chain id and gas price",
	Long: `Query a node over JSON-RPC. Without --url the supervised node is queried.

An unreachable node is reported as stopped; this command does not fail
for it.`,
	Args: cobra.NoArgs,
	RunE: runNodeStatus,
}

var (
	nodePort       int
	nodeChainID    uint64
	nodeStatusURL  string
	nodeStatusJSON bool
)

func init() {
	nodeStartCmd.Flags().IntVarP(&nodePort, "port", "p", 8545, "RPC port")
	nodeStartCmd.Flags().Uint64Var(&nodeChainID, "chain-id", config.DefaultChainID, "Chain id (0 uses anvil's default)")
	nodeStatusCmd.Flags().StringVar(&nodeStatusURL, "url", "", "RPC URL to query (default: the supervised node)")
	nodeStatusCmd.Flags().BoolVar(&nodeStatusJSON, "json", false, "Output status as JSON")
	nodeCmd.AddCommand(nodeStartCmd, nodeStopCmd, nodeStatusCmd)
	rootCmd.AddCommand(nodeCmd)
}

func runNodeStart(cmd *cobra.Command, args []string) error {
	c, err := controlClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	logInfo("Starting anvil on port %d...", nodePort)
	url, err := c.StartAnvilNode(ctx, nodePort, nodeChainID)
	if err != nil {
		return err
	}
	logSuccess("Anvil node running at %s", url)
	return nil
}

func runNodeStop(cmd *cobra.Command, args []string) error {
	c, err := controlClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	if err := c.StopAnvilNode(ctx); err != nil {
		return err
	}
	logSuccess("Anvil node stopped")
	return nil
}

func runNodeStatus(cmd *cobra.Command, args []string) error {
	c, err := controlClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	status, err := c.GetNodeStatus(ctx, nodeStatusURL)
	if err != nil {
		return err
	}

	if nodeStatusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	printNodeStatus(cmd.OutOrStdout(), status)
	return nil
}

func printNodeStatus(w io.Writer, s health.NodeStatus) {
	fmt.Fprintf(w, "Node:         %s\n", logging.StateBadge(string(s.Summary())))
	if !s.IsRunning {
		return
	}
	fmt.Fprintf(w, "URL:          %s\n", deref(s.URL))
	fmt.Fprintf(w, "Block number: %s\n", derefUint(s.BlockNumber))
	fmt.Fprintf(w, "Chain id:     %s\n", derefUint(s.ChainID))
	if s.GasPrice != nil {
		fmt.Fprintf(w, "Gas price:    %s ETH\n", *s.GasPrice)
	} else {
		fmt.Fprintf(w, "Gas price:    %s\n", logging.Dim("unknown"))
	}
}

func deref(s *string) string {
	if s == nil {
		return logging.Dim("unknown")
	}
	return *s
}

func derefUint(v *uint64) string {
	if v == nil {
		return logging.Dim("unknown")
	}
	return fmt.Sprintf("%d", *v)
}
