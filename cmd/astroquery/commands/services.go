package commands

import (
	"astroquery/lib/table"

	"github.com/spf13/cobra"
)

var servicesStyle *string

func init() {
	servicesStyle = servicesCmd.Flags().String("render", string(table.StyleBox), "How to render the list: table, csv, markdown, html or json.")
	rootCmd.AddCommand(servicesCmd)
}

var servicesCmd = &cobra.Command{
	Use:   "services [--render <style>]",
	Short: "Lists the archives that can be queried by name.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := load(cmd.Context())
		if err != nil {
			return err
		}

		var rows [][]any
		for _, s := range a.pool.Registry().All() {
			cfg := s.Config.WithDefaults()
			rows = append(rows, []any{s.Name, cfg.Protocol, s.Format.String(), cfg.Server, s.Description})
		}
		listing, err := table.FromRows([]string{"name", "protocol", "format", "server", "description"}, rows)
		if err != nil {
			return err
		}
		return listing.Render(cmd.OutOrStdout(), table.Style(*servicesStyle))
	},
}
