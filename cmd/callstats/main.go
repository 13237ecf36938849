// Package main is the entrypoint for the callstats administration CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brokerwire/callstats/internal/config"
	"github.com/brokerwire/callstats/internal/db"
	"github.com/brokerwire/callstats/internal/reports"
	"github.com/brokerwire/callstats/internal/warehouse"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{out: os.Stdout}
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

// app holds what the commands share. Fields left nil are built from the
// environment on first use.
type app struct {
	out     io.Writer
	verbose bool
	logger  zerolog.Logger

	cfg       *config.ServerConfig
	store     db.Store
	assembler reports.PayloadAssembler

	closers []func()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "callstats",
		Short: "Administer daily call analytics reports",
		Long: `callstats manages the daily report store used by callstats-server.

It reads the same environment (DATABASE_URL, CLICKHOUSE_*, REDIS_URL,
ORGS_FILE) as the server, so reports generated here are served by it.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.WarnLevel
			if a.verbose {
				level = zerolog.DebugLevel
			}
			a.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
				Level(level).
				With().
				Timestamp().
				Logger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.SetOut(a.out)
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newVersionCmd(),
		a.newGenerateCmd(),
		a.newBackfillCmd(),
		a.newGapsCmd(),
		a.newRunsCmd(),
		a.newOrgsCmd(),
	)
	return root
}

func (a *app) config() (*config.ServerConfig, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	config.LoadDotEnv()
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a.cfg = &cfg
	return a.cfg, nil
}

func (a *app) openStore(ctx context.Context) (db.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	store, err := db.Open(ctx, cfg.DatabaseURL, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open report store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// scheduler builds a scheduler for manual runs. It is never started, so no
// cron job or catch-up runs inside the CLI.
func (a *app) scheduler(ctx context.Context) (*reports.Scheduler, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}

	if a.assembler == nil {
		wh, err := warehouse.New(cfg.Warehouse, a.logger)
		if err != nil {
			return nil, fmt.Errorf("configure warehouse: %w", err)
		}
		a.closers = append(a.closers, func() { _ = wh.Close() })
		a.assembler = reports.NewAssembler(wh, nil, a.logger)
	}

	var opts []reports.GeneratorOption
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(redisOpts)
		a.closers = append(a.closers, func() { _ = client.Close() })
		opts = append(opts, reports.WithLocker(reports.NewRedisLocker(client, reports.DefaultRedisLockConfig(), a.logger)))
	}

	generator := reports.NewGenerator(store, a.assembler, cfg.Generator, a.logger, opts...)
	return reports.NewScheduler(store, generator, cfg.Scheduler, nil, a.logger), nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
