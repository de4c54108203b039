package main

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(signCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sign-tx",
	Short: "Create keys and EIP-712 signed transactions for a HyperSwap node",
	Long: `A utility for producing signed exchange transactions.

Every exchange operation (deposits, withdrawals, orders, cancels and fills)
is submitted as a JSON envelope carrying an EIP-712 signature over the action.
The signature domain is bound to the chain id and the exchange custody address,
so both must match the target node.`,
	SilenceUsage: true,
}
