package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/devproxy/internal/audit"
	"github.com/firefly-engineering/devproxy/internal/config"
	"github.com/firefly-engineering/devproxy/internal/errors"
)

var auditLogCmd = &cobra.Command{
	Use:   "audit-log <proxy|node|credential>",
	Short: "Display lifecycle events recorded by the server",
	Long: `Display the start, stop, crash and key events the server recorded for a
component. Events are read from the state directory, so this works while
the server is down.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{audit.ComponentProxy, audit.ComponentNode, audit.ComponentCredential},
	RunE:      runAuditLog,
}

var auditLogJSON bool

func init() {
	auditLogCmd.Flags().BoolVar(&auditLogJSON, "json", false, "Output events as JSON lines")
	rootCmd.AddCommand(auditLogCmd)
}

func runAuditLog(cmd *cobra.Command, args []string) error {
	component := args[0]
	switch component {
	case audit.ComponentProxy, audit.ComponentNode, audit.ComponentCredential:
	default:
		return errors.InvalidArgument(fmt.Sprintf("unknown component %q", component))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = config.DefaultPaths().StateDir
	}

	auditLogger := audit.NewLogger(stateDir)
	events, err := auditLogger.Events(component)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	if len(events) == 0 {
		logInfo("No events found for %s", component)
		return nil
	}

	out := cmd.OutOrStdout()
	for _, e := range events {
		if auditLogJSON {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal event: %w", err)
			}
			fmt.Fprintln(out, string(data))
		} else {
			ts := e.Timestamp.Local().Format("2006-01-02 15:04:05")
			if e.Details != "" {
				fmt.Fprintf(out, "[%s] %-9s %s (%s)\n", ts, e.Type, e.Component, e.Details)
			} else {
				fmt.Fprintf(out, "[%s] %-9s %s\n", ts, e.Type, e.Component)
			}
		}
	}

	return nil
}
