package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "authgate",
		Short: "Path-driven authentication and access control gateway",
		Long: `authgate authenticates every inbound HTTP request against the filter
chain its path matches, then forwards admitted requests upstream.

Configuration is read from environment variables; see the serve command.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newHashCmd(), newTokenCmd())
	return root
}
