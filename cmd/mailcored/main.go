package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mailcore/engine/internal/config"
	"github.com/mailcore/engine/internal/diskcache"
	"github.com/mailcore/engine/internal/logging"
	"github.com/mailcore/engine/internal/scheduler"
	"github.com/mailcore/engine/internal/scheduler/cron"
	"github.com/mailcore/engine/internal/send"
	"github.com/mailcore/engine/internal/store"
	"github.com/mailcore/engine/internal/syncengine"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "mailcored",
		Usage:   "multi-account mail sync and send engine",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir", Usage: "override MAILCORE_DATA_DIR for this run"},
			&cli.StringFlag{Name: "sync-tick", Value: "@every 1m", Usage: "cron spec for the per-account sync tick"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mailcored:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if d := c.String("data-dir"); d != "" {
		cfg.DataDir = d
	}

	log := logging.NewConsole(cfg.LogLevel)
	log.Info().Str("data_dir", cfg.DataDir).Int("sync_concurrency", cfg.SyncConcurrency).Msg("starting mailcored")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.DiskCacheDir, 0o755); err != nil {
		return fmt.Errorf("create disk cache dir: %w", err)
	}

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	disk, err := diskcache.New(cfg.DiskCacheDir, db.CacheItems)
	if err != nil {
		return fmt.Errorf("open disk cache: %w", err)
	}

	send.SetTrackingBaseURL(cfg.TrackingBaseURL)

	adapterFactory := newAdapterFactory(cfg, db, disk, log)
	eng := syncengine.New(db, cfg.SyncConcurrency, adapterFactory, log)

	sender := send.New(db, disk, newTrackCodec(), newSMTPPoolResolver(db, log), newAdapterResolverForSend(adapterFactory, db))
	policy := defaultPolicy()
	sched := scheduler.New(db, sender, policy, log)

	runner := cron.New(db, disk, eng, sched, c.String("sync-tick"), log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("start cron runner: %w", err)
	}
	log.Info().Msg("mailcored running, press ctrl-c to stop")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	runner.Stop(context.Background())
	return nil
}
