package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the subnet cost watcher",
	Long:  "Start the refresh loop and serve the HTTP API and WebSocket feed until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}
