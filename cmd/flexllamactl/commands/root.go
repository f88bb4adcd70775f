// Package commands implements flexllamactl, the control-plane CLI for a
// running flexllamad gateway.
package commands

import "github.com/spf13/cobra"

// baseURL is shared by every subcommand via a persistent flag on the root
// command.
var baseURL string

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flexllamactl",
		Short: "Control a running flexllama gateway",
	}
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "http://127.0.0.1:8080", "base URL of the flexllama gateway")
	rootCmd.AddCommand(
		newVersionCmd(),
		newStatusCmd(),
		newPSCmd(),
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
	)
	return rootCmd
}
