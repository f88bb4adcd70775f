package commands

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPSCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List configured runners and their loaded model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := newClient(baseURL)
			status, err := cl.runnerStatus(cmd.Context())
			if err != nil {
				return err
			}

			names := make([]string, 0, len(status))
			for name := range status {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "RUNNER\tRUNNING\tMODEL\tMODELS\tADDRESS")
			for _, name := range names {
				s := status[name]
				model := s.CurrentModel
				if model == "" {
					model = "-"
				}
				fmt.Fprintf(w, "%s\t%v\t%s\t%s\t%s\n",
					name, s.IsRunning, model, strings.Join(s.AvailableModels, ","), fmt.Sprintf("%s:%d", s.Host, s.Port))
			}
			return nil
		},
	}
}
