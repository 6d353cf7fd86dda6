package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nfrund/roomchat/internal/config"
	"github.com/nfrund/roomchat/internal/logging"
	"github.com/nfrund/roomchat/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat server",
	Long: `Run the HTTP API and the websocket gateway until SIGINT or SIGTERM.

STORE_DRIVER selects memory, surreal or postgres persistence and BROKER_DRIVER
selects memory, redis or kafka for cross-instance fan-out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logging.New(cfg.LogFormat, cfg.LogLevel)

		s, err := server.New(cfg, server.AppModules()...)
		if err != nil {
			return err
		}
		return s.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
