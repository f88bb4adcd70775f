package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var formatJSON bool
	c := &cobra.Command{
		Use:   "status",
		Short: "Show the gateway's aggregate health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := newClient(baseURL)
			health, err := cl.health(cmd.Context())
			if err != nil {
				return err
			}

			if formatJSON {
				out, err := json.MarshalIndent(health, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(out))
				return nil
			}

			cmd.Printf("active runners: %d\n\n", health.ActiveRunners)
			aliases := make([]string, 0, len(health.ModelHealth))
			for alias := range health.ModelHealth {
				aliases = append(aliases, alias)
			}
			sort.Strings(aliases)
			for _, alias := range aliases {
				result := health.ModelHealth[alias]
				line := fmt.Sprintf("%-24s %-12s", alias, result.Status)
				if result.Message != "" {
					line += " " + result.Message
				}
				cmd.Println(line)
			}
			return nil
		},
	}
	c.Flags().BoolVar(&formatJSON, "json", false, "format output as JSON")
	return c
}
