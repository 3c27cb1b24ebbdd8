// Command oauth-broker runs the Sentry MCP OAuth broker server, modeled on
// cmd/dex/main.go's entry point: a cobra root command with a single
// "serve" subcommand taking a YAML config path.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := commandRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func commandRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "oauth-broker",
		Short: "Sentry MCP OAuth broker",
		SilenceUsage: true,
	}
	root.AddCommand(commandServe())
	root.AddCommand(commandVersion())
	return root
}
