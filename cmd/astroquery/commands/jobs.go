package commands

import (
	"fmt"
	"log/slog"
	"time"

	"astroquery/lib/client"
	"astroquery/lib/query"
	"astroquery/lib/services"
	"astroquery/lib/table"

	"github.com/spf13/cobra"
)

var (
	submitFormat *string
	fetchFormat  *string
	fetchWait    *bool
	fetchStyle   *string

	statusSubmitted *string
	fetchSubmitted  *string
)

func init() {
	submitFormat = submitCmd.Flags().String("format", "", "The output format requested from the service, its default when empty.")
	fetchFormat = fetchCmd.Flags().String("format", "", "The format the job was submitted with.")
	fetchWait = fetchCmd.Flags().Bool("wait", false, "Wait for the job to finish instead of failing while it is pending.")
	fetchStyle = fetchCmd.Flags().String("render", string(table.StyleBox), "How to render the result: table, csv, markdown, html or json.")
	statusSubmitted = statusCmd.Flags().String("submitted", "", "When the job was submitted (RFC 3339), the job timeout counts from it.")
	fetchSubmitted = fetchCmd.Flags().String("submitted", "", "When the job was submitted (RFC 3339), the job timeout counts from it.")
	rootCmd.AddCommand(submitCmd, statusCmd, fetchCmd)
}

// submittedAt parses the --submitted flag, an empty value leaves the job age unknown.
func submittedAt(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: --submitted: %w", query.ErrInvalidQuery, err)
	}
	return t, nil
}

// deferredService resolves a service that runs jobs along with the descriptor described by args.
func deferredService(cmd *cobra.Command, name string, args []string, format string) (*client.DeferredClient, query.Descriptor, error) {
	a, err := load(cmd.Context())
	if err != nil {
		return nil, query.Descriptor{}, err
	}
	s, c, err := a.pool.Client(name)
	if err != nil {
		return nil, query.Descriptor{}, err
	}
	if !s.Deferred() {
		return nil, query.Descriptor{}, fmt.Errorf("%w: service %q answers synchronously, use query", query.ErrInvalidQuery, s.Name)
	}
	params, err := services.ParseParams(args)
	if err != nil {
		return nil, query.Descriptor{}, err
	}
	d, err := s.Descriptor(params, format)
	if err != nil {
		return nil, query.Descriptor{}, err
	}
	return c, d, nil
}

var submitCmd = &cobra.Command{
	Use:   "submit <service> [name=value...] [--format <format>]",
	Short: "Submits a job to a deferred service and prints its handle.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, d, err := deferredService(cmd, args[0], args[1:], *submitFormat)
		if err != nil {
			return err
		}
		job, err := c.Submit(cmd.Context(), d)
		if err != nil {
			return err
		}
		slog.Debug("submitted job", "handle", job.Handle, "cache_key", d.Key())
		fmt.Fprintln(cmd.OutOrStdout(), job.Handle)
		fmt.Fprintf(cmd.ErrOrStderr(), "submitted at %s, pass --submitted to status and fetch to keep the job timeout\n", job.CreatedAt.Format(time.RFC3339))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <service> <handle>",
	Short: "Prints the status of a job.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, d, err := deferredService(cmd, args[0], nil, "")
		if err != nil {
			return err
		}
		submitted, err := submittedAt(*statusSubmitted)
		if err != nil {
			return err
		}
		job, err := c.CheckStatus(cmd.Context(), c.Resume(args[1], d, submitted))
		if err != nil {
			return err
		}
		if job.Reason != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", job.Status, job.Reason)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), job.Status)
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <service> <handle> [name=value...] [--format <format>] [--wait] [--render <style>]",
	Short: "Downloads the result of a job, the parameters it was submitted with key the cached result.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, d, err := deferredService(cmd, args[0], args[2:], *fetchFormat)
		if err != nil {
			return err
		}

		submitted, err := submittedAt(*fetchSubmitted)
		if err != nil {
			return err
		}
		job := c.Resume(args[1], d, submitted)
		if *fetchWait {
			job, err = c.Wait(cmd.Context(), job)
		} else {
			job, err = c.CheckStatus(cmd.Context(), job)
		}
		if err != nil {
			return err
		}
		result, err := c.FetchResult(cmd.Context(), job)
		if err != nil {
			return err
		}
		return result.Render(cmd.OutOrStdout(), table.Style(*fetchStyle))
	},
}
