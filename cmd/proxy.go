package cmd

import (
	"github.com/spf13/cobra"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Control the API proxy",
	Long: `Start or stop the HTTP proxy that injects the stored API key into
requests to the upstream API.

Every request through the proxy is recorded; see 'devproxy history'.
Requests made before a key is stored are answered with 401 and recorded
without reaching the upstream.`,
}

var proxyStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy",
	Args:  cobra.NoArgs,
	RunE:  runProxyStart,
}

var proxyStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the proxy",
	Args:  cobra.NoArgs,
	RunE:  runProxyStop,
}

var proxyPort int

func init() {
	proxyStartCmd.Flags().IntVarP(&proxyPort, "port", "p", 0, "Port to listen on (0 picks a free port)")
	proxyCmd.AddCommand(proxyStartCmd, proxyStopCmd)
	rootCmd.AddCommand(proxyCmd)
}

func runProxyStart(cmd *cobra.Command, args []string) error {
	c, err := controlClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	url, err := c.StartProxyServer(ctx, proxyPort)
	if err != nil {
		return err
	}
	logSuccess("Proxy running at %s", url)
	return nil
}

func runProxyStop(cmd *cobra.Command, args []string) error {
	c, err := controlClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	if err := c.StopProxyServer(ctx); err != nil {
		return err
	}
	logSuccess("Proxy stopped")
	return nil
}
