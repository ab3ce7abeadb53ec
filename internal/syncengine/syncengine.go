// Package syncengine dispatches folder sync tasks across accounts: a
// per-account, multi-vendor orchestrator gated by a process-wide
// counting semaphore, with each mailbox of an account synced in its own
// goroutine.
package syncengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mailcore/engine/internal/model"
	"github.com/mailcore/engine/internal/store"
	"github.com/mailcore/engine/internal/syncsem"
	"github.com/mailcore/engine/internal/vendoradapter"
	"github.com/rs/zerolog"
)

// AdapterFactory builds the vendor adapter for one account. Resolving
// the concrete vendor (gmail/imap/graph) from model.Account is the
// caller's job (cmd/mailcored wires concrete constructors per MailerType).
type AdapterFactory func(ctx context.Context, acct model.Account) (vendoradapter.Adapter, error)

// Engine owns the global sync semaphore and drives full/incremental
// folder sync for every account.
type Engine struct {
	db      *store.DB
	sem     *syncsem.Semaphore
	factory AdapterFactory
	log     zerolog.Logger

	mu      sync.Mutex
	running map[string]bool // accountID -> a SyncAccount call is in flight
}

func New(db *store.DB, concurrency int, factory AdapterFactory, log zerolog.Logger) *Engine {
	return &Engine{
		db:      db,
		sem:     syncsem.New(concurrency),
		factory: factory,
		log:     log.With().Str("component", "syncengine").Logger(),
		running: make(map[string]bool),
	}
}

// TryBeginAccount reports whether accountID is not currently syncing
// and, if so, marks it as running. Callers (the cron tick) must call
// FinishAccount exactly once after a true result.
func (e *Engine) TryBeginAccount(accountID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[accountID] {
		return false
	}
	e.running[accountID] = true
	return true
}

func (e *Engine) FinishAccount(accountID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, accountID)
}

// Result summarizes one account's sync pass.
type Result struct {
	AccountID string
	Mailboxes int
	Errs      []error
}

// SyncAccount lists every mailbox for acct's adapter and syncs each one,
// gated by the global semaphore, recording outcome into
// AccountRunningState. forceFull forces a full resync of every mailbox.
func (e *Engine) SyncAccount(ctx context.Context, acct model.Account, forceFull bool) Result {
	res := Result{AccountID: acct.ID}
	state, ok := e.db.RunningState.FindByPrimary(acct.ID)
	if !ok {
		state = model.AccountRunningState{AccountID: acct.ID}
	}
	state.Running = true
	_ = e.db.RunningState.Put(state)

	defer func() {
		state.Running = false
		state.LastSyncAt = time.Now()
		if len(res.Errs) == 0 {
			state.LastError = ""
		}
		_ = e.db.RunningState.Put(state)
	}()

	adapter, err := e.factory(ctx, acct)
	if err != nil {
		state.PushError(err.Error())
		res.Errs = append(res.Errs, err)
		return res
	}

	mailboxes, err := adapter.ListMailboxes(ctx)
	if err != nil {
		state.PushError(err.Error())
		res.Errs = append(res.Errs, err)
		return res
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, mb := range mailboxes {
		mb := mb
		if err := e.sem.Acquire(ctx); err != nil {
			mu.Lock()
			res.Errs = append(res.Errs, err)
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.sem.Release()
			if serr := e.syncMailbox(ctx, adapter, acct.ID, mb, forceFull); serr != nil {
				mu.Lock()
				res.Errs = append(res.Errs, serr)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	res.Mailboxes = len(mailboxes)

	mu.Lock()
	for _, e2 := range res.Errs {
		state.PushError(e2.Error())
	}
	mu.Unlock()
	return res
}

func (e *Engine) syncMailbox(ctx context.Context, adapter vendoradapter.Adapter, accountID string, mb model.Mailbox, forceFull bool) error {
	if err := e.db.Mailboxes.Put(mb); err != nil {
		return fmt.Errorf("cache mailbox %q: %w", mb.ID, err)
	}
	syncType, err := adapter.DetermineSyncType(ctx, mb.ID, forceFull)
	if err != nil {
		return fmt.Errorf("determine sync type for %q: %w", mb.ID, err)
	}
	if syncType == model.SyncSkip {
		return nil
	}
	progress := make(chan vendoradapter.Progress, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			e.log.Debug().Str("account_id", accountID).Str("folder", p.Folder).
				Int64("current", p.Current).Int64("total", p.Total).Msg("sync progress")
		}
	}()
	_, err = adapter.Sync(ctx, mb.ID, syncType, progress)
	close(progress)
	<-done
	if err != nil {
		return fmt.Errorf("sync mailbox %q: %w", mb.ID, err)
	}
	return nil
}
