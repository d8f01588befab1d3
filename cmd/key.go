package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/devproxy/internal/errors"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the upstream API key",
	Long: `Store the API key the proxy injects into upstream requests, or check it
against the upstream.

The key lives only in the memory of the running server. It is never
written to disk, logged, or returned by any command.`,
}

var keySetCmd = &cobra.Command{
	Use:   "set [key]",
	Short: "Store the API key",
	Long: `Store the API key, replacing any previous one.

The key is taken from the argument, from --from-file, or from standard
input when neither is given. Prefer the latter two so the key does not
end up in shell history.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runKeySet,
}

var keyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Validate the stored API key against the upstream",
	Args:  cobra.NoArgs,
	RunE:  runKeyTest,
}

var keyFromFile string

func init() {
	keySetCmd.Flags().StringVar(&keyFromFile, "from-file", "", "Read the key from a file")
	keyCmd.AddCommand(keySetCmd, keyTestCmd)
	rootCmd.AddCommand(keyCmd)
}

func runKeySet(cmd *cobra.Command, args []string) error {
	var key string
	switch {
	case len(args) == 1 && keyFromFile != "":
		return errors.InvalidArgument("pass the key either as an argument or with --from-file, not both")
	case len(args) == 1:
		key = args[0]
	case keyFromFile != "":
		k, err := readKeyFile(keyFromFile)
		if err != nil {
			return err
		}
		key = k
	default:
		k, err := readKeyStdin()
		if err != nil {
			return err
		}
		key = k
	}

	c, err := controlClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	if err := c.StoreAPIKey(ctx, key); err != nil {
		return err
	}
	logSuccess("API key stored")
	return nil
}

func readKeyStdin() (string, error) {
	if fi, err := os.Stdin.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		fmt.Fprint(os.Stderr, "API key: ")
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	key := strings.TrimSpace(line)
	if key == "" {
		if err != nil {
			return "", errors.InvalidArgument(fmt.Sprintf("failed to read API key: %v", err))
		}
		return "", errors.InvalidArgument("no API key given")
	}
	return key, nil
}

func runKeyTest(cmd *cobra.Command, args []string) error {
	c, err := controlClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	valid, err := c.TestAPIKey(ctx)
	if err != nil {
		return err
	}
	if !valid {
		return errors.New(errors.KindInvalidCredential, "API key rejected by upstream")
	}
	logSuccess("API key is valid")
	return nil
}
