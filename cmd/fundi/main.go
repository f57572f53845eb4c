// Fundi — remote operations API for development hosts.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fundi",
	Short: "Fundi — remote shell, file and code operations over HTTP.",
	Long: `Fundi exposes a development host over an authenticated HTTP API:
shell execution, file management, a code runner, batch dispatch, text
refactoring, git and package manager relays, and host monitoring. The same
operations are also served as MCP tools over stdio for agent clients.`,
	RunE:          runServer, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serverCmd, mcpCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
