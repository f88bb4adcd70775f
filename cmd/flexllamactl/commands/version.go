package commands

import "github.com/spf13/cobra"

var Version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the flexllamactl version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("flexllamactl version %s\n", Version)
		},
	}
}
