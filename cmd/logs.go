package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/devproxy/internal/errors"
)

var nodeLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the anvil node's output",
	Args:  cobra.NoArgs,
	RunE:  runNodeLogs,
}

var logsFollow bool
var logsLines int

func init() {
	nodeLogsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	nodeLogsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "Number of lines to show")
	nodeCmd.AddCommand(nodeLogsCmd)
}

func runNodeLogs(cmd *cobra.Command, args []string) error {
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
	if snap.Node.Instance == nil {
		return errors.NotRunning("anvil node")
	}
	logFile := snap.Node.Instance.LogFile
	if logFile == "" {
		return errors.New(errors.KindConfigError, "node output is not logged to a file; set node.log_dir")
	}

	tailPath, err := exec.LookPath("tail")
	if err != nil {
		return fmt.Errorf("tail not found: %w", err)
	}

	tailArgs := []string{"tail", "-n", fmt.Sprintf("%d", logsLines)}
	if logsFollow {
		tailArgs = append(tailArgs, "-f")
	}
	tailArgs = append(tailArgs, logFile)

	return syscall.Exec(tailPath, tailArgs, os.Environ())
}
