package store

import (
	"path/filepath"

	"github.com/mailcore/engine/internal/model"
)

// DB is the process-wide set of typed stores, split across two bolt
// databases: meta.db for small, frequently-read control records, and
// envelope.db for the much larger envelope/thread/address tables.
// Splitting the databases keeps bolt's single-writer-lock contention on
// the hot envelope path from blocking account/config/task mutations.
type DB struct {
	Meta     *BoltKV
	Envelope *BoltKV

	Accounts      *Store[model.Account]
	Mailboxes     *Store[model.Mailbox]
	RunningState  *Store[model.AccountRunningState]
	GmailCheckpt  *Store[model.GmailCheckPoint]
	GraphDelta    *Store[model.FolderDeltaLink]
	Proxies       *Store[model.Proxy]
	MTAs          *Store[model.MTA]
	SendTasks     *Store[model.SendEmailTask]
	CacheItems    *Store[model.CacheItem]

	Envelopes *Store[model.Envelope]
	Threads   *Store[model.EmailThread]
	Addresses *Store[model.AddressEntity]
}

// Open opens both databases under dataDir and wires every typed store.
func Open(dataDir string) (*DB, error) {
	meta, err := OpenBolt(filepath.Join(dataDir, "meta.db"))
	if err != nil {
		return nil, err
	}
	envdb, err := OpenBolt(filepath.Join(dataDir, "envelope.db"))
	if err != nil {
		meta.Close()
		return nil, err
	}
	return &DB{
		Meta:         meta,
		Envelope:     envdb,
		Accounts:     New[model.Account](meta, "accounts"),
		Mailboxes:    New[model.Mailbox](meta, "mailboxes"),
		RunningState: New[model.AccountRunningState](meta, "running_state"),
		GmailCheckpt: New[model.GmailCheckPoint](meta, "gmail_checkpoints"),
		GraphDelta:   New[model.FolderDeltaLink](meta, "graph_delta_links"),
		Proxies:      New[model.Proxy](meta, "proxies"),
		MTAs:         New[model.MTA](meta, "mtas"),
		SendTasks:    New[model.SendEmailTask](meta, "send_tasks"),
		CacheItems:   New[model.CacheItem](meta, "cache_items"),
		Envelopes:    New[model.Envelope](envdb, "envelopes"),
		Threads:      New[model.EmailThread](envdb, "threads"),
		Addresses:    New[model.AddressEntity](envdb, "addresses"),
	}, nil
}

func (db *DB) Close() {
	db.Meta.Close()
	db.Envelope.Close()
}
