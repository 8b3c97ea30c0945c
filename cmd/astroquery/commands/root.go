package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"astroquery/internal/components/chrono"
	"astroquery/lib/cache"
	configlibsql "astroquery/lib/configutil/libsql"
	"astroquery/lib/services"
	"astroquery/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	configPath *string
	verbose    *bool
	cacheFile  *string
	dumpHttp   *string
)

var rootCmd = &cobra.Command{
	Use:           "astroquery",
	Short:         "astroquery queries remote astronomical archives and caches their tabular results.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(*verbose)
		tel, err := telemetry.SetupFromEnv(cmd.Context(), telemetry.Process{Name: "astroquery", Command: cmd.Name()})
		if err != nil {
			slog.Warn("failed to setup telemetry", "err", err)
		}
		current.otel = tel
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return current.close(context.Background())
	},
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "", "The configuration file, astroquery.json5 is searched for upwards from the cwd when empty.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output.")
	cacheFile = rootCmd.PersistentFlags().String("cache", "", "The sqlite file to cache results in, overrides the configuration file.")
	dumpHttp = rootCmd.PersistentFlags().String("dump-http", "", "A directory to write every http exchange to, for debugging services.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		current.close(context.Background())
		os.Exit(1)
	}
}

// app is what every command needs, it is loaded on first use.
type app struct {
	config services.Config
	db     *sql.DB
	cache  cache.Cache
	pool   *services.Pool
	otel   telemetry.Telemetry
}

var current = &app{}

func (a *app) close(ctx context.Context) error {
	var errlist []error
	if a.db != nil {
		errlist = append(errlist, a.db.Close())
		a.db = nil
	}
	errlist = append(errlist, a.otel.Shutdown(ctx))
	a.otel = telemetry.Telemetry{}
	return errors.Join(errlist...)
}

// defaultCacheFile is used when neither --cache nor the configuration file locate a cache.
func defaultCacheFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return configlibsql.Memory
	}
	return filepath.Join(dir, "astroquery", "cache.db")
}

func load(ctx context.Context) (*app, error) {
	if current.pool != nil {
		return current, nil
	}

	config, err := services.LoadConfig(*configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	registry, err := config.Registry()
	if err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}

	location := config.Cache
	if *cacheFile != "" {
		location = configlibsql.Struct{File: *cacheFile}
	}
	if location.IsZero() {
		location.File = defaultCacheFile()
	}
	db, err := location.OpenDB()
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	store, err := cache.NewSQL(ctx, db, chrono.StandardImpl{}, nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	slog.Debug("opened cache", "file", location.File, "url", location.Url)

	current.config = config
	current.db = db
	current.cache = store
	current.pool = services.NewPool(registry, services.PoolOptions{
		Cache:   store,
		DumpDir: *dumpHttp,
	})
	return current, nil
}

// sqlCache returns the cache as a *cache.SQL for the maintenance commands.
func (a *app) sqlCache() (*cache.SQL, error) {
	store, ok := a.cache.(*cache.SQL)
	if !ok {
		return nil, fmt.Errorf("the configured cache does not support this operation")
	}
	return store, nil
}
