package commands

import (
	"time"

	"astroquery/internal/server"
	"astroquery/lib/telemetry"
	"astroquery/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

var (
	serveListen  *string
	serveTimeout *time.Duration
)

func init() {
	serveListen = serveCmd.Flags().String("listen", "", "The address to listen on, the configured listen address or :8080 when empty.")
	serveTimeout = serveCmd.Flags().Duration("timeout", 5*time.Minute, "The longest a single request may take, deferred jobs included.")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--listen <addr>] [--timeout <duration>]",
	Short: "Serves queries over a JSON http api.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := load(cmd.Context())
		if err != nil {
			return err
		}

		addr := *serveListen
		if addr == "" {
			addr = a.config.Listen
		}
		if addr == "" {
			addr = ":8080"
		}

		if a.otel.Enabled() {
			telemetry.InstrumentPerfStats(cmd.Context(), 30*time.Second)
		}

		srv := server.New(server.Options{
			Pool:         a.pool,
			QueryTimeout: *serveTimeout,
		})
		return serviceutil.StartHttpServer(cmd.Context(), addr, srv.Handler())
	},
}
