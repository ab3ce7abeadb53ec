// Package cron wires the engine's periodic triggers onto robfig/cron/v3:
// a fixed disk-cache eviction sweep and a per-account sync tick that
// coalesces (skips a tick if the account's previous tick is still
// running).
package cron

import (
	"context"
	"time"

	"github.com/mailcore/engine/internal/diskcache"
	"github.com/mailcore/engine/internal/scheduler"
	"github.com/mailcore/engine/internal/store"
	"github.com/mailcore/engine/internal/syncengine"
	robfigcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const diskCacheEvictionSpec = "@every 180s"

// Runner owns the cron scheduler and every registered job.
type Runner struct {
	c         *robfigcron.Cron
	db        *store.DB
	disk      *diskcache.Cache
	sync      *syncengine.Engine
	sched     *scheduler.Scheduler
	log       zerolog.Logger
	syncSpec  string
}

// New builds a Runner. syncTickSpec is the cron spec for the sync-tick
// job (e.g. "@every 1m"); disk-cache eviction always runs every 180s.
func New(db *store.DB, disk *diskcache.Cache, eng *syncengine.Engine, sched *scheduler.Scheduler, syncTickSpec string, log zerolog.Logger) *Runner {
	return &Runner{
		c:        robfigcron.New(),
		db:       db,
		disk:     disk,
		sync:     eng,
		sched:    sched,
		syncSpec: syncTickSpec,
		log:      log.With().Str("component", "cron").Logger(),
	}
}

// Start registers all jobs and starts the scheduler goroutine.
func (r *Runner) Start(ctx context.Context) error {
	if _, err := r.c.AddFunc(diskCacheEvictionSpec, func() { r.evictDiskCache() }); err != nil {
		return err
	}
	if _, err := r.c.AddFunc(r.syncSpec, func() { r.syncTick(ctx) }); err != nil {
		return err
	}
	if _, err := r.c.AddFunc("@every 15s", func() { r.schedulerTick(ctx) }); err != nil {
		return err
	}
	r.c.Start()
	return nil
}

// Stop blocks until in-flight jobs finish.
func (r *Runner) Stop(ctx context.Context) {
	stopCtx := r.c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

func (r *Runner) evictDiskCache() {
	start := time.Now()
	deleted, err := r.disk.CleanIfNeeded()
	if err != nil {
		r.log.Warn().Err(err).Msg("disk cache eviction failed")
		return
	}
	if deleted > 0 {
		r.log.Info().Int("deleted", deleted).Dur("elapsed", time.Since(start)).Msg("disk cache eviction")
	}
}

func (r *Runner) syncTick(ctx context.Context) {
	accounts, err := r.db.Accounts.AllByPrimary()
	if err != nil {
		r.log.Warn().Err(err).Msg("list accounts for sync tick failed")
		return
	}
	for _, acct := range accounts {
		acct := acct
		if !r.sync.TryBeginAccount(acct.ID) {
			continue
		}
		go func() {
			defer r.sync.FinishAccount(acct.ID)
			res := r.sync.SyncAccount(ctx, acct, false)
			if len(res.Errs) > 0 {
				r.log.Warn().Str("account_id", acct.ID).Errs("errors", res.Errs).Msg("sync tick finished with errors")
			}
		}()
	}
}

func (r *Runner) schedulerTick(ctx context.Context) {
	if _, err := r.sched.Tick(ctx); err != nil {
		r.log.Warn().Err(err).Msg("scheduler tick failed")
	}
}
