// Package imap implements the IMAP vendor adapter: folder listing,
// full and CONDSTORE-gated incremental sync, and message mutation over a
// pooled imapclient.Client connection. UIDPLUS is not consulted.
package imap

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/mailcore/engine/internal/apperr"
	"github.com/mailcore/engine/internal/cache"
	"github.com/mailcore/engine/internal/diskcache"
	"github.com/mailcore/engine/internal/model"
	"github.com/mailcore/engine/internal/pool"
	"github.com/mailcore/engine/internal/store"
	"github.com/mailcore/engine/internal/vendoradapter"
	"github.com/rs/zerolog"
)

// Adapter implements vendoradapter.Adapter for a generic IMAP account.
type Adapter struct {
	accountID string
	pool      *pool.IMAPPool
	db        *store.DB
	cache     *cache.Cache
	disk      *diskcache.Cache
	log       zerolog.Logger
}

func New(accountID string, p *pool.IMAPPool, db *store.DB, c *cache.Cache, disk *diskcache.Cache, log zerolog.Logger) *Adapter {
	return &Adapter{accountID: accountID, pool: p, db: db, cache: c, disk: disk,
		log: log.With().Str("account_id", accountID).Str("vendor", "imap").Logger()}
}

// compositeID encodes a mailbox+UID pair into a single envelope id
// stable across reconnects.
func compositeID(mailbox string, uid imapv2.UID) string {
	return fmt.Sprintf("%s:%d", mailbox, uid)
}

func parseCompositeID(id string) (mailbox string, uid imapv2.UID, err error) {
	idx := strings.LastIndex(id, ":")
	if idx < 0 {
		return "", 0, apperr.InvalidParam("malformed imap composite id %q", id)
	}
	n, err := strconv.ParseUint(id[idx+1:], 10, 32)
	if err != nil {
		return "", 0, apperr.InvalidParam("malformed imap composite id %q", id)
	}
	return id[:idx], imapv2.UID(n), nil
}

func (a *Adapter) withConn(ctx context.Context, fn func(*imapclient.Client) error) error {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return fn(conn.Client)
}

// ListMailboxes lists every folder LIST returns, including ones marked
// \Noselect.
func (a *Adapter) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	var out []model.Mailbox
	err := a.withConn(ctx, func(c *imapclient.Client) error {
		items, err := c.List("", "*", nil).Collect()
		if err != nil {
			return fmt.Errorf("LIST: %w", err)
		}
		for _, it := range items {
			out = append(out, model.Mailbox{
				ID:        it.Mailbox,
				AccountID: a.accountID,
				Kind:      model.MailboxIMAPFolder,
				Name:      it.Mailbox,
				Subscribed: hasAttr(it.Attrs, imapv2.MailboxAttrSubscribed),
			})
		}
		return nil
	})
	if err != nil {
		return nil, apperr.ImapFailed(err, "list mailboxes")
	}
	return out, nil
}

func hasAttr(attrs []imapv2.MailboxAttr, want imapv2.MailboxAttr) bool {
	for _, a := range attrs {
		if a == want {
			return true
		}
	}
	return false
}

// DetermineSyncType returns incremental when the account's capability
// list has CONDSTORE and a running-state row already exists, and full
// otherwise. CONDSTORE only selects the mode: the incremental pass (see
// Sync) is a UID scan and does not query MODSEQ.
func (a *Adapter) DetermineSyncType(ctx context.Context, mailboxID string, forceFull bool) (model.SyncType, error) {
	if forceFull {
		return model.SyncFull, nil
	}
	acct, ok := a.db.Accounts.FindByPrimary(a.accountID)
	if !ok {
		return model.SyncFull, nil
	}
	for _, c := range acct.Capabilities {
		if c == "CONDSTORE" {
			if _, ok := a.db.RunningState.FindByPrimary(a.accountID); ok {
				return model.SyncIncremental, nil
			}
		}
	}
	return model.SyncFull, nil
}

// Sync selects mailboxID and fetches envelope metadata for every message
// (full) or only messages with UID greater than the highest cached UID
// (incremental; flag changes on messages already cached are not fetched).
func (a *Adapter) Sync(ctx context.Context, mailboxID string, syncType model.SyncType, progress chan<- vendoradapter.Progress) (vendoradapter.SyncResult, error) {
	res := vendoradapter.SyncResult{Type: syncType}
	err := a.withConn(ctx, func(c *imapclient.Client) error {
		if _, err := c.Select(mailboxID, nil).Wait(); err != nil {
			return fmt.Errorf("SELECT %q: %w", mailboxID, err)
		}

		var searchCriteria imapv2.SearchCriteria
		if syncType == model.SyncIncremental {
			if maxUID := a.maxCachedUID(mailboxID); maxUID > 0 {
				var bound imapv2.UIDSet
				bound.AddRange(imapv2.UID(maxUID)+1, 0)
				searchCriteria.UID = []imapv2.UIDSet{bound}
			}
		}
		searchData, err := c.UIDSearch(&searchCriteria, &imapv2.SearchOptions{ReturnAll: true}).Wait()
		if err != nil {
			return fmt.Errorf("UID SEARCH: %w", err)
		}
		uidSet, ok := searchData.All.(imapv2.UIDSet)
		if !ok {
			return nil
		}
		uids, _ := uidSet.Nums()
		total := int64(len(uids))
		var set imapv2.UIDSet
		for _, u := range uids {
			set.AddNum(u)
		}
		if len(uids) == 0 {
			return nil
		}
		fetchOpts := &imapclient.FetchOptions{
			Envelope:    true,
			Flags:       true,
			UID:         true,
			InternalDate: true,
			BodySection: []*imapv2.FetchItemBodySection{{}},
		}
		cmd := c.Fetch(set, fetchOpts)
		var i int64
		for {
			msg := cmd.Next()
			if msg == nil {
				break
			}
			buf, err := msg.Collect()
			if err != nil {
				return fmt.Errorf("FETCH collect: %w", err)
			}
			if progress != nil {
				progress <- vendoradapter.Progress{Folder: mailboxID, Current: i, Total: total}
			}
			i++
			if err := a.ingestFetched(mailboxID, buf); err != nil {
				return err
			}
			res.EnvelopesAdded++
		}
		return cmd.Close()
	})
	if err != nil {
		return res, apperr.ImapFailed(err, "sync mailbox %q", mailboxID)
	}
	return res, nil
}

func (a *Adapter) maxCachedUID(mailboxID string) uint32 {
	envs, err := a.db.Envelopes.FindBySecondary(model.IdxMailboxID, mailboxID)
	if err != nil {
		return 0
	}
	var max uint32
	for _, e := range envs {
		_, uid, err := parseCompositeID(e.ID)
		if err == nil && uint32(uid) > max {
			max = uint32(uid)
		}
	}
	return max
}

func (a *Adapter) ingestFetched(mailboxID string, buf *imapclient.FetchMessageBuffer) error {
	var raw []byte
	for _, sec := range buf.BodySection {
		raw = sec.Bytes
	}
	id := compositeID(mailboxID, buf.UID)
	key := ""
	if raw != nil {
		var err error
		key, err = a.disk.Put(raw)
		if err != nil {
			return err
		}
	}
	flags := make([]string, 0, len(buf.Flags))
	for _, f := range buf.Flags {
		flags = append(flags, string(f))
	}
	ne := cache.NewEnvelope{
		ID:           id,
		AccountID:    a.accountID,
		MailboxID:    mailboxID,
		Flags:        flags,
		Size:         int64(len(raw)),
		InternalDate: buf.InternalDate,
	}
	if raw != nil {
		if m, err := mail.ReadMessage(byteReader(raw)); err == nil {
			ne.MessageID = strings.Trim(m.Header.Get("Message-Id"), "<>")
			ne.InReplyTo = strings.Trim(m.Header.Get("In-Reply-To"), "<>")
			ne.References = strings.Fields(m.Header.Get("References"))
			ne.Subject = m.Header.Get("Subject")
			for _, kind := range []string{"From", "To", "Cc", "Bcc"} {
				if vals, err := m.Header.AddressList(kind); err == nil {
					for _, v := range vals {
						ne.Addresses = append(ne.Addresses, cache.ParsedAddress{Kind: strings.ToLower(kind), Name: v.Name, Address: v.Address})
					}
				}
			}
		}
	}
	_ = key
	return a.cache.SaveEnvelopes([]cache.NewEnvelope{ne})
}

func (a *Adapter) CreateMailbox(ctx context.Context, name string) (model.Mailbox, error) {
	var m model.Mailbox
	err := a.withConn(ctx, func(c *imapclient.Client) error {
		if err := c.Create(name, nil).Wait(); err != nil {
			return err
		}
		m = model.Mailbox{ID: name, AccountID: a.accountID, Kind: model.MailboxIMAPFolder, Name: name}
		return nil
	})
	if err != nil {
		return m, apperr.ImapFailed(err, "create mailbox %q", name)
	}
	return m, nil
}

func (a *Adapter) DeleteMailbox(ctx context.Context, mailboxID string) error {
	return a.withConn(ctx, func(c *imapclient.Client) error { return c.Delete(mailboxID).Wait() })
}

func (a *Adapter) RenameMailbox(ctx context.Context, mailboxID, newName string) error {
	return a.withConn(ctx, func(c *imapclient.Client) error { return c.Rename(mailboxID, newName).Wait() })
}

func (a *Adapter) SetSubscribed(ctx context.Context, mailboxID string, subscribed bool) error {
	return a.withConn(ctx, func(c *imapclient.Client) error {
		if subscribed {
			return c.Subscribe(mailboxID).Wait()
		}
		return c.Unsubscribe(mailboxID).Wait()
	})
}

func (a *Adapter) uidSetFor(envelopeIDs []string, mailboxID string) (imapv2.UIDSet, error) {
	var set imapv2.UIDSet
	for _, id := range envelopeIDs {
		mb, uid, err := parseCompositeID(id)
		if err != nil {
			return nil, err
		}
		if mb != mailboxID {
			return nil, apperr.InvalidParam("envelope %q does not belong to mailbox %q", id, mailboxID)
		}
		set.AddNum(uid)
	}
	return set, nil
}

func (a *Adapter) CopyMessages(ctx context.Context, srcMailboxID, dstMailboxID string, envelopeIDs []string) error {
	return a.withConn(ctx, func(c *imapclient.Client) error {
		if _, err := c.Select(srcMailboxID, nil).Wait(); err != nil {
			return err
		}
		set, err := a.uidSetFor(envelopeIDs, srcMailboxID)
		if err != nil {
			return err
		}
		_, err = c.Copy(set, dstMailboxID).Wait()
		return err
	})
}

// MoveMessages tries UID MOVE first and, if that command fails for any
// reason, falls back to COPY + STORE \Deleted + UID EXPUNGE; the
// account's capability list is not consulted.
func (a *Adapter) MoveMessages(ctx context.Context, srcMailboxID, dstMailboxID string, envelopeIDs []string) error {
	return a.withConn(ctx, func(c *imapclient.Client) error {
		if _, err := c.Select(srcMailboxID, nil).Wait(); err != nil {
			return err
		}
		set, err := a.uidSetFor(envelopeIDs, srcMailboxID)
		if err != nil {
			return err
		}
		if _, err := c.Move(set, dstMailboxID).Wait(); err == nil {
			return nil
		}
		if _, err := c.Copy(set, dstMailboxID).Wait(); err != nil {
			return err
		}
		storeFlags := imapv2.StoreFlags{Op: imapv2.StoreFlagsAdd, Silent: true, Flags: []imapv2.Flag{imapv2.FlagDeleted}}
		if err := c.Store(set, &storeFlags, nil).Close(); err != nil {
			return err
		}
		return c.UIDExpunge(set).Close()
	})
}

func (a *Adapter) SetFlags(ctx context.Context, mailboxID string, envelopeIDs []string, add, remove []string) error {
	return a.withConn(ctx, func(c *imapclient.Client) error {
		if _, err := c.Select(mailboxID, nil).Wait(); err != nil {
			return err
		}
		set, err := a.uidSetFor(envelopeIDs, mailboxID)
		if err != nil {
			return err
		}
		if len(add) > 0 {
			flags := toFlags(add)
			if err := c.Store(set, &imapv2.StoreFlags{Op: imapv2.StoreFlagsAdd, Silent: true, Flags: flags}, nil).Close(); err != nil {
				return err
			}
		}
		if len(remove) > 0 {
			flags := toFlags(remove)
			if err := c.Store(set, &imapv2.StoreFlags{Op: imapv2.StoreFlagsDel, Silent: true, Flags: flags}, nil).Close(); err != nil {
				return err
			}
		}
		return nil
	})
}

func toFlags(ss []string) []imapv2.Flag {
	out := make([]imapv2.Flag, 0, len(ss))
	for _, s := range ss {
		out = append(out, imapv2.Flag(s))
	}
	return out
}

func (a *Adapter) FetchRaw(ctx context.Context, envelopeID string) ([]byte, error) {
	mb, uid, err := parseCompositeID(envelopeID)
	if err != nil {
		return nil, err
	}
	var raw []byte
	err = a.withConn(ctx, func(c *imapclient.Client) error {
		if _, err := c.Select(mb, nil).Wait(); err != nil {
			return err
		}
		var set imapv2.UIDSet
		set.AddNum(uid)
		cmd := c.Fetch(set, &imapclient.FetchOptions{BodySection: []*imapv2.FetchItemBodySection{{}}})
		msg := cmd.Next()
		if msg == nil {
			return apperr.NotFound("message %q not found", envelopeID)
		}
		buf, err := msg.Collect()
		if err != nil {
			return err
		}
		for _, sec := range buf.BodySection {
			raw = sec.Bytes
		}
		return cmd.Close()
	})
	if err != nil {
		return nil, apperr.ImapFailed(err, "fetch raw message %q", envelopeID)
	}
	return raw, nil
}

// AppendSent appends raw to the folder named "Sent" (the one well-known
// name most IMAP providers use); a sent folder under any other name is
// not looked up.
func (a *Adapter) AppendSent(ctx context.Context, raw []byte) error {
	return a.withConn(ctx, func(c *imapclient.Client) error {
		opts := &imapclient.AppendOptions{Time: time.Now(), Flags: []imapv2.Flag{imapv2.FlagSeen}}
		w := c.Append("Sent", int64(len(raw)), opts)
		if _, err := w.Write(raw); err != nil {
			return err
		}
		return w.Close()
	})
}

func byteReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }
