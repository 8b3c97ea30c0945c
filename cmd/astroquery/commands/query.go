package commands

import (
	"astroquery/lib/services"
	"astroquery/lib/table"

	"github.com/spf13/cobra"
)

var (
	queryFormat *string
	queryBypass *bool
	queryStyle  *string
)

func init() {
	queryFormat = queryCmd.Flags().String("format", "", "The output format requested from the service, its default when empty.")
	queryBypass = queryCmd.Flags().Bool("bypass-cache", false, "Always fetch and overwrite the cached result.")
	queryStyle = queryCmd.Flags().String("render", string(table.StyleBox), "How to render the result: table, csv, markdown, html or json.")
	rootCmd.AddCommand(queryCmd)
}

var queryCmd = &cobra.Command{
	Use:   "query <service> [name=value...] [--format <format>] [--bypass-cache] [--render <style>]",
	Short: "Queries a service and prints the result, deferred services are waited on.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := load(cmd.Context())
		if err != nil {
			return err
		}
		s, _, err := a.pool.Client(args[0])
		if err != nil {
			return err
		}
		params, err := services.ParseParams(args[1:])
		if err != nil {
			return err
		}
		d, err := s.Descriptor(params, *queryFormat)
		if err != nil {
			return err
		}

		result, err := a.pool.Query(cmd.Context(), d, *queryBypass)
		if err != nil {
			return err
		}
		return result.Render(cmd.OutOrStdout(), table.Style(*queryStyle))
	},
}
