package commands

import "github.com/spf13/cobra"

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <runner>",
		Short: "Stop a runner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := newClient(baseURL)
			if err := cl.stopRunner(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("stopped %s\n", args[0])
			return nil
		},
	}
}
