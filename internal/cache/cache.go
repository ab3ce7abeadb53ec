// Package cache implements the envelope and thread cache: saving parsed
// envelopes, maintaining the thread index, listing threads in a
// mailbox, and cleaning up envelopes for a mailbox or whole account.
package cache

import (
	"time"

	"github.com/mailcore/engine/internal/model"
	"github.com/mailcore/engine/internal/store"
)

const cleanBatchSize = 200

// Cache is the envelope & thread cache façade.
type Cache struct {
	db *store.DB
}

func New(db *store.DB) *Cache { return &Cache{db: db} }

// ParsedAddress is the input shape callers supply per address header
// value; Kind is "from"/"to"/"cc"/"bcc".
type ParsedAddress struct {
	Kind    string
	Name    string
	Address string
}

// NewEnvelope is the input to SaveEnvelopes: vendor-parsed metadata not
// yet assigned a thread id.
type NewEnvelope struct {
	ID           string
	AccountID    string
	MailboxID    string
	MessageID    string
	InReplyTo    string
	References   []string
	Subject      string
	Addresses    []ParsedAddress
	Flags        []string
	Size         int64
	InternalDate time.Time
}

// SaveEnvelopes persists a batch of newly-fetched envelopes: each gets a
// computed thread id, one AddressEntity row per parsed from/to/cc/bcc
// address (one Kind "none" row when it has no addresses at all; rows are
// not expanded into to × cc pairs), and the owning EmailThread is created
// or updated with the later of its current LatestDate and the envelope's
// InternalDate. The envelope rows of the batch are written in one
// transaction; the address rows and thread updates are written after it
// commits, each in its own transaction, so a failure there leaves the
// envelopes saved without some of their address or thread rows.
func (c *Cache) SaveEnvelopes(envs []NewEnvelope) error {
	var addrs []model.AddressEntity
	var saved []model.Envelope
	err := c.db.Envelopes.WithTransaction(func(tx *store.TxStore[model.Envelope]) error {
		for _, ne := range envs {
			threadID := ComputeThreadID(ne.InReplyTo, ne.MessageID, ne.References)

			env := model.Envelope{
				ID:           ne.ID,
				AccountID:    ne.AccountID,
				MailboxID:    ne.MailboxID,
				ThreadID:     threadID,
				MessageID:    ne.MessageID,
				InReplyTo:    ne.InReplyTo,
				References:   ne.References,
				Subject:      ne.Subject,
				Flags:        ne.Flags,
				Size:         ne.Size,
				InternalDate: ne.InternalDate,
			}
			for _, a := range ne.Addresses {
				ae := model.AddressEntity{EnvelopeID: ne.ID, Kind: a.Kind, Name: a.Name, Address: a.Address}
				switch a.Kind {
				case "from":
					env.From = ae
				case "to":
					env.To = append(env.To, ae)
				case "cc":
					env.Cc = append(env.Cc, ae)
				case "bcc":
					env.Bcc = append(env.Bcc, ae)
				}
				addrs = append(addrs, ae)
			}
			if len(ne.Addresses) == 0 {
				// One null address row, matching the invariant that
				// every envelope has at least one AddressEntity row
				// even when no recipients were parseable.
				addrs = append(addrs, model.AddressEntity{EnvelopeID: ne.ID, Kind: "none"})
			}
			if err := tx.Put(env); err != nil {
				return err
			}
			saved = append(saved, env)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, ae := range addrs {
		if err := c.db.Addresses.Put(ae); err != nil {
			return err
		}
	}
	for _, env := range saved {
		if err := c.upsertThread(env); err != nil {
			return err
		}
	}
	return nil
}

// upsertThread creates or updates the EmailThread for env.ThreadID,
// replacing EnvelopeID (and LatestDate) only when env is newer than the
// thread's current representative envelope.
func (c *Cache) upsertThread(env model.Envelope) error {
	existing, ok := c.db.Threads.FindByPrimary(env.ThreadID)
	if !ok {
		return c.db.Threads.Put(model.EmailThread{
			ID:         env.ThreadID,
			AccountID:  env.AccountID,
			MailboxID:  env.MailboxID,
			EnvelopeID: env.ID,
			LatestDate: env.InternalDate,
		})
	}
	if env.InternalDate.After(existing.LatestDate) {
		existing.EnvelopeID = env.ID
		existing.LatestDate = env.InternalDate
	}
	return c.db.Threads.Put(existing)
}

// refreshThread recomputes threadID's representative envelope from the
// envelopes still present for it, or deletes the thread row if none
// remain. Called after an envelope in the thread is deleted.
func (c *Cache) refreshThread(threadID string) error {
	envs, err := c.db.Envelopes.FindBySecondary(model.IdxThreadID, threadID)
	if err != nil {
		return err
	}
	if len(envs) == 0 {
		return c.db.Threads.Delete(threadID)
	}
	th, ok := c.db.Threads.FindByPrimary(threadID)
	if !ok {
		return nil
	}
	rep := envs[0]
	for _, e := range envs[1:] {
		if e.InternalDate.After(rep.InternalDate) {
			rep = e
		}
	}
	th.EnvelopeID = rep.ID
	th.LatestDate = rep.InternalDate
	return c.db.Threads.Put(th)
}

// ListThreadsInMailbox returns a page of representative envelopes for
// mailboxID in thread-id order (the page is not sorted by date), joined
// from EmailThread to Envelope by
// EnvelopeID. Threads whose representative envelope is missing (should
// not happen outside a corrupted store) are skipped.
func (c *Cache) ListThreadsInMailbox(mailboxID, cursor string, limit int) (store.Page[model.Envelope], error) {
	page, err := c.db.Threads.PaginateBySecondary(model.IdxMailboxID, mailboxID, cursor, limit)
	if err != nil {
		return store.Page[model.Envelope]{}, err
	}
	envs := make([]model.Envelope, 0, len(page.Items))
	for _, th := range page.Items {
		env, ok := c.db.Envelopes.FindByPrimary(th.EnvelopeID)
		if !ok {
			continue
		}
		envs = append(envs, env)
	}
	return store.Page[model.Envelope]{Items: envs, NextCursor: page.NextCursor}, nil
}

// CleanMailboxEnvelopes deletes every envelope (and its address rows) in
// mailboxID one envelope at a time; the deletes are not grouped into
// batches.
func (c *Cache) CleanMailboxEnvelopes(mailboxID string) (int, error) {
	envs, err := c.db.Envelopes.FindBySecondary(model.IdxMailboxID, mailboxID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, e := range envs {
		if err := c.deleteEnvelope(e); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// CleanAccount deletes every envelope, thread and mailbox row belonging
// to accountID, in batches of cleanBatchSize.
func (c *Cache) CleanAccount(accountID string) error {
	for {
		envs, err := c.pageEnvelopesForAccount(accountID, cleanBatchSize)
		if err != nil {
			return err
		}
		if len(envs) == 0 {
			break
		}
		for _, e := range envs {
			if err := c.deleteEnvelope(e); err != nil {
				return err
			}
		}
	}
	if _, err := c.db.Threads.BatchDeleteBySecondary(model.IdxAccountID, accountID, cleanBatchSize); err != nil {
		return err
	}
	_, err := c.db.Mailboxes.BatchDeleteBySecondary(model.IdxAccountID, accountID, cleanBatchSize)
	return err
}

func (c *Cache) pageEnvelopesForAccount(accountID string, limit int) ([]model.Envelope, error) {
	page, err := c.db.Envelopes.PaginateBySecondary(model.IdxAccountID, accountID, "", limit)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// DeleteEnvelope removes e and its address rows from the cache,
// detaching it from (and pruning, if now empty) its thread. Vendor
// adapters call this when a sync detects a server-side deletion.
func (c *Cache) DeleteEnvelope(e model.Envelope) error {
	return c.deleteEnvelope(e)
}

func (c *Cache) deleteEnvelope(e model.Envelope) error {
	addrs, err := c.db.Addresses.FindBySecondary("envelope_id", e.ID)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		if err := c.db.Addresses.Delete(a.PrimaryKey()); err != nil {
			return err
		}
	}
	if err := c.db.Envelopes.Delete(e.ID); err != nil {
		return err
	}
	return c.refreshThread(e.ThreadID)
}
