package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mantleforge",
	Short: "MantleForge mint-authorization backend",
	Long: "MantleForge verifies EIP-712 signed mint intents for real-world assets,\n" +
		"re-signs them with the oracle key and submits them to the ledger contract.",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(signIntentCmd)
	rootCmd.AddCommand(verifyIntentCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
