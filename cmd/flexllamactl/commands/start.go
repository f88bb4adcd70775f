package commands

import "github.com/spf13/cobra"

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <runner>",
		Short: "Start a runner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := newClient(baseURL)
			if err := cl.startRunner(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("started %s\n", args[0])
			return nil
		},
	}
}
