// Command wagerctl is the client tool of the wager engine: it builds
// commitments, derives ids, manages keys and sends signed API requests.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wagerctl",
		Short:         "Wager engine client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("server", envOr("WAGER_SERVER", "http://localhost:8000"), "API base URL")
	cmd.PersistentFlags().String("key", os.Getenv("WAGER_KEY"), "hex private key used to sign requests")

	cmd.AddCommand(
		CommitCmd(),
		IDsCmd(),
		AmountCmd(),
		SignCmd(),
		CallCmd(),
		KeysCmd(),
		AdminCmd(),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
