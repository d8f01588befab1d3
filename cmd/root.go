package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/devproxy/internal/logging"
)

var (
	verbose     bool
	jsonOutput  bool
	configPath  string
	controlAddr string
)

var rootCmd = &cobra.Command{
	Use:   "devproxy",
	Short: "Development API proxy and local node supervisor",
	Long: `devproxy runs a local HTTP proxy that injects a stored API key into calls
to a remote API and records every request, and supervises a local anvil
node for development.

Start the server with 'devproxy serve', then drive it with the other
commands:
  - proxy start|stop      run the key-injecting proxy
  - key set|test          store and validate the API key
  - node start|stop|status manage the local anvil node
  - history               inspect recorded requests`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose, jsonOutput, os.Stderr)
	},
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		logError("%v", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML or YAML config file")
	rootCmd.PersistentFlags().StringVar(&controlAddr, "control", "", "Control API address (default from config)")
	rootCmd.SilenceErrors = true
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// Helper aliases for user-facing output (delegates to logging package)
var (
	logInfo    = logging.UserInfo
	logSuccess = logging.UserSuccess
	logWarning = logging.UserWarning
	logError   = logging.UserError
)
