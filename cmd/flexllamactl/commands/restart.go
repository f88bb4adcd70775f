package commands

import "github.com/spf13/cobra"

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <runner>",
		Short: "Restart a runner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := newClient(baseURL)
			if err := cl.restartRunner(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("restarted %s\n", args[0])
			return nil
		},
	}
}
