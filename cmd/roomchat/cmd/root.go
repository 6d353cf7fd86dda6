package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "roomchat",
	Short: "Real-time chat server and tools",
	Long: `roomchat runs the chat server and ships a few tools for working with it.

Available commands:
  serve      Run the HTTP and websocket server
  token      Issue a development credential
  send       Send one message through the gateway
  topics     List the pub/sub topics the server uses
  version    Print the version

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
