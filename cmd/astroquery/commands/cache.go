package commands

import (
	"fmt"
	"time"

	"astroquery/lib/services"
	"astroquery/lib/table"

	"github.com/spf13/cobra"
)

var (
	invalidateFormat *string
	listStyle        *string
)

func init() {
	invalidateFormat = cacheInvalidateCmd.Flags().String("format", "", "The format of the cached query, the service's default when empty.")
	listStyle = cacheListCmd.Flags().String("render", string(table.StyleBox), "How to render the listing: table, csv, markdown, html or json.")
	cacheCmd.AddCommand(cacheListCmd, cachePurgeCmd, cacheInvalidateCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspects and maintains the response cache.",
}

var cacheListCmd = &cobra.Command{
	Use:   "list [--render <style>]",
	Short: "Lists the cached queries, newest first.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := load(cmd.Context())
		if err != nil {
			return err
		}
		store, err := a.sqlCache()
		if err != nil {
			return err
		}
		entries, err := store.List(cmd.Context())
		if err != nil {
			return err
		}

		rows := make([][]any, len(entries))
		for i, e := range entries {
			var expires any
			if !e.ExpiresAt.IsZero() {
				expires = e.ExpiresAt.Format(time.RFC3339)
			}
			rows[i] = []any{e.Service, e.Descriptor, e.FetchedAt.Format(time.RFC3339), expires}
		}
		listing, err := table.FromRows([]string{"service", "query", "fetched_at", "expires_at"}, rows)
		if err != nil {
			return err
		}
		return listing.Render(cmd.OutOrStdout(), table.Style(*listStyle))
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Deletes every expired entry.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := load(cmd.Context())
		if err != nil {
			return err
		}
		removed, err := a.cache.Purge(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired entries\n", removed)
		return nil
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <service> [name=value...] [--format <format>]",
	Short: "Removes the cached result of one query.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := load(cmd.Context())
		if err != nil {
			return err
		}
		s, c, err := a.pool.Client(args[0])
		if err != nil {
			return err
		}
		params, err := services.ParseParams(args[1:])
		if err != nil {
			return err
		}
		d, err := s.Descriptor(params, *invalidateFormat)
		if err != nil {
			return err
		}
		return c.Invalidate(cmd.Context(), d)
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [service]",
	Short: "Deletes every cached entry, or only those of one service.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := load(cmd.Context())
		if err != nil {
			return err
		}
		store, err := a.sqlCache()
		if err != nil {
			return err
		}

		service := ""
		if len(args) == 1 {
			s, err := a.pool.Registry().Lookup(args[0])
			if err != nil {
				return err
			}
			service = s.Name
		}
		removed, err := store.Clear(cmd.Context(), service)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared %d entries\n", removed)
		return nil
	},
}
