// Package gmail implements a multi-account Gmail sync pipeline
// (full()/incremental()/Sync()) over the shared envelope cache,
// multi-account GmailCheckPoint watermarks, and the uniform
// vendoradapter.Adapter contract. Concurrency is sharded by message id
// (one goroutine per shard) so history events for the same message are
// always handled in order.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/mail"
	"sort"
	"strconv"
	"sync"

	"github.com/mailcore/engine/internal/apperr"
	"github.com/mailcore/engine/internal/cache"
	"github.com/mailcore/engine/internal/diskcache"
	"github.com/mailcore/engine/internal/model"
	"github.com/mailcore/engine/internal/store"
	"github.com/mailcore/engine/internal/vendoradapter"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

var (
	errUnknownMessage   = errors.New("unknown message")
	errFullSyncRequired = errors.New("full sync required")
)

var (
	MessageBufferSize   = 128
	ConcurrentDownloads = 8
)

const (
	opNone = iota
	opAdd
	opDelete
	opWriteLabels
)

type msgOp struct {
	ID        string
	HistoryID uint64
	Labels    []string
	Raw       []byte
	Operation int
	Error     error
}

// Adapter implements vendoradapter.Adapter for a single Gmail account.
type Adapter struct {
	accountID string
	label     string // restrict sync to one label, "" for whole mailbox

	svc    service
	raw    *gmailapi.Service
	db     *store.DB
	cache  *cache.Cache
	disk   *diskcache.Cache
	log    zerolog.Logger
}

// New builds a Gmail adapter for accountID, authenticating with tok
// (refreshed automatically by cfg.Client).
func New(ctx context.Context, accountID string, cfg *oauth2.Config, tok *oauth2.Token, db *store.DB, c *cache.Cache, disk *diskcache.Cache, log zerolog.Logger) (*Adapter, error) {
	clt := cfg.Client(ctx, tok)
	svcRaw, err := gmailapi.NewService(ctx, gmailOption(clt))
	if err != nil {
		return nil, apperr.Internal(err, "construct gmail service")
	}
	return &Adapter{
		accountID: accountID,
		svc:       newRestService(accountID, gmailapi.NewUsersService(svcRaw)),
		raw:       svcRaw,
		db:        db,
		cache:     c,
		disk:      disk,
		log:       log.With().Str("account_id", accountID).Str("vendor", "gmail").Logger(),
	}, nil
}

func (a *Adapter) getBody(id string) (*mail.Message, []byte, error) {
	raw, err := a.svc.GetRawMessage(id)
	if err != nil {
		return nil, nil, err
	}
	bs, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return nil, nil, err
	}
	m, err := mail.ReadMessage(bytes.NewReader(bs))
	if err != nil {
		a.log.Warn().Err(err).Str("message_id", id).Msg("unparseable message, skipping (likely a chat)")
		return nil, nil, nil
	}
	return m, bs, nil
}

func (a *Adapter) getMetadata(m *msgOp) error {
	meta, err := a.svc.GetMetadata(m.ID)
	if err != nil {
		return err
	}
	m.Labels = meta.LabelIds
	m.HistoryID = meta.HistoryId
	return nil
}

func shardForMsgID(id string) int {
	shard, _ := strconv.ParseUint(id, 16, 64)
	return int(shard % uint64(ConcurrentDownloads))
}

func (a *Adapter) checkpoint(labelID string) (uint64, error) {
	cp, ok := a.db.GmailCheckpt.FindByPrimary(a.accountID + "/" + labelID)
	if !ok {
		return 0, nil
	}
	return cp.HistoryID, nil
}

func (a *Adapter) setCheckpoint(labelID string, historyID uint64) error {
	return a.db.GmailCheckpt.Put(model.GmailCheckPoint{AccountID: a.accountID, LabelID: labelID, HistoryID: historyID})
}

// DetermineSyncType inspects the persisted checkpoint for mailboxID
// (treated as a Gmail label id) to decide whether the next sync can run
// incrementally.
func (a *Adapter) DetermineSyncType(ctx context.Context, mailboxID string, forceFull bool) (model.SyncType, error) {
	if forceFull {
		return model.SyncFull, nil
	}
	hidx, err := a.checkpoint(mailboxID)
	if err != nil {
		return "", err
	}
	if hidx > 0 {
		return model.SyncIncremental, nil
	}
	return model.SyncFull, nil
}

// Sync runs a full or incremental sync for the given label (mailboxID).
func (a *Adapter) Sync(ctx context.Context, mailboxID string, syncType model.SyncType, progress chan<- vendoradapter.Progress) (vendoradapter.SyncResult, error) {
	a.label = mailboxID
	if syncType == model.SyncIncremental {
		hidx, err := a.checkpoint(mailboxID)
		if err != nil {
			return vendoradapter.SyncResult{}, err
		}
		res, err := a.incremental(ctx, hidx, progress)
		if errors.Is(err, errFullSyncRequired) {
			a.log.Warn().Msg("history token expired, falling back to full sync")
			return a.full(ctx, progress)
		}
		return res, err
	}
	return a.full(ctx, progress)
}

func (a *Adapter) handleNewMsg(id string) msgOp {
	o := msgOp{ID: id}
	existing, hasExisting := a.existingEnvelope(id)
	if !hasExisting {
		o.Operation = opAdd
		_, raw, err := a.getBody(id)
		if err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) && gerr.Code == 404 {
				o.Operation = opNone
				return o
			}
			o.Error = err
			o.Operation = opNone
			return o
		}
		if raw == nil {
			o.Operation = opNone
			return o
		}
		o.Raw = raw
	}
	if err := a.getMetadata(&o); err != nil {
		o.Error = err
		return o
	}
	if hasExisting && labelsChanged(existing.Flags, o.Labels) {
		o.Operation = opWriteLabels
	}
	return o
}

func (a *Adapter) existingEnvelope(id string) (model.Envelope, bool) {
	return a.db.Envelopes.FindByPrimary(id)
}

func labelsChanged(old, updated []string) bool {
	if len(old) != len(updated) {
		return true
	}
	o := append([]string(nil), old...)
	n := append([]string(nil), updated...)
	sort.Strings(o)
	sort.Strings(n)
	for i := range o {
		if o[i] != n[i] {
			return true
		}
	}
	return false
}

func (a *Adapter) writeOperation(mailboxID string, o msgOp) error {
	switch o.Operation {
	case opAdd:
		return a.writeAdd(mailboxID, o)
	case opDelete:
		return a.writeDel(o.ID)
	case opWriteLabels:
		return a.writeLabels(o.ID, o.Labels)
	}
	return nil
}

func (a *Adapter) writeAdd(mailboxID string, o msgOp) error {
	if o.Raw == nil {
		return nil
	}
	key, err := a.disk.Put(o.Raw)
	if err != nil {
		return err
	}
	m, err := mail.ReadMessage(bytes.NewReader(o.Raw))
	if err != nil {
		return nil // already logged/skipped upstream
	}
	ne := parseEnvelope(a.accountID, mailboxID, o.ID, key, m, o.Labels)
	return a.cache.SaveEnvelopes([]cache.NewEnvelope{ne})
}

func (a *Adapter) writeDel(id string) error {
	env, ok := a.db.Envelopes.FindByPrimary(id)
	if !ok {
		return nil
	}
	return a.cache.DeleteEnvelope(env)
}

func (a *Adapter) writeLabels(id string, labels []string) error {
	env, ok := a.db.Envelopes.FindByPrimary(id)
	if !ok {
		a.log.Warn().Str("message_id", id).Msg("label change for unknown message, skipping")
		return nil
	}
	env.Flags = labels
	return a.db.Envelopes.Put(env)
}

func (a *Adapter) incremental(ctx context.Context, historyID uint64, progress chan<- vendoradapter.Progress) (vendoradapter.SyncResult, error) {
	a.log.Info().Uint64("history_id", historyID).Msg("performing incremental sync")
	res := vendoradapter.SyncResult{Type: model.SyncIncremental}
	page := ""
	histEvents := make([]chan msgOp, ConcurrentDownloads)
	for i := range histEvents {
		histEvents[i] = make(chan msgOp, MessageBufferSize)
	}
	ops := make(chan msgOp, MessageBufferSize)

	wg := sync.WaitGroup{}
	for i := 0; i < ConcurrentDownloads; i++ {
		idx := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for op := range histEvents[idx] {
				if op.Operation == opAdd {
					ops <- a.handleNewMsg(op.ID)
				} else {
					ops <- op
				}
			}
		}()
	}
	go func() { wg.Wait(); close(ops) }()

	var total int64
	go func() {
		defer func() {
			for _, h := range histEvents {
				close(h)
			}
		}()
		for {
			r, err := a.svc.GetHistory(historyID, a.label, page)
			var gerr *googleapi.Error
			if errors.As(err, &gerr) && gerr.Code == 404 && page == "" && historyID > 0 {
				ops <- msgOp{Error: errFullSyncRequired}
				return
			} else if err != nil {
				ops <- msgOp{Error: err}
				return
			}
			page = r.NextPageToken
			total += int64(len(r.History))
			for _, ev := range r.History {
				if ev.Id > historyID {
					historyID = ev.Id
				}
				for _, add := range ev.MessagesAdded {
					histEvents[shardForMsgID(add.Message.Id)] <- msgOp{ID: add.Message.Id, Operation: opAdd, HistoryID: ev.Id}
				}
				for _, del := range ev.MessagesDeleted {
					histEvents[shardForMsgID(del.Message.Id)] <- msgOp{ID: del.Message.Id, Operation: opDelete, HistoryID: ev.Id}
				}
				type lchange struct{ added, removed []string }
				labels := map[string]lchange{}
				for _, l := range ev.LabelsAdded {
					c := labels[l.Message.Id]
					c.added = append(c.added, l.LabelIds...)
					labels[l.Message.Id] = c
				}
				for _, l := range ev.LabelsRemoved {
					c := labels[l.Message.Id]
					c.removed = append(c.removed, l.LabelIds...)
					labels[l.Message.Id] = c
				}
				for id, ch := range labels {
					newLabels := a.computeLabels(id, ch.added, ch.removed)
					if env, ok := a.existingEnvelope(id); !ok || labelsChanged(env.Flags, newLabels) {
						histEvents[shardForMsgID(id)] <- msgOp{ID: id, Labels: newLabels, Operation: opWriteLabels, HistoryID: ev.Id}
					}
				}
			}
			if page == "" {
				return
			}
		}
	}()

	var i int64
	for o := range ops {
		if progress != nil {
			progress <- vendoradapter.Progress{Folder: a.label, Current: i, Total: total}
		}
		i++
		if o.Error != nil {
			return res, o.Error
		}
		if o.Operation == opNone {
			continue
		}
		if err := a.writeOperation(a.label, o); err != nil {
			return res, err
		}
		switch o.Operation {
		case opAdd:
			res.EnvelopesAdded++
		case opDelete:
			res.EnvelopesDeleted++
		}
	}
	return res, a.setCheckpoint(a.label, historyID)
}

func (a *Adapter) computeLabels(id string, added, removed []string) []string {
	env, ok := a.existingEnvelope(id)
	if !ok {
		return added
	}
	set := map[string]struct{}{}
	for _, l := range env.Flags {
		set[l] = struct{}{}
	}
	for _, l := range added {
		set[l] = struct{}{}
	}
	for _, l := range removed {
		delete(set, l)
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	return out
}

func (a *Adapter) full(ctx context.Context, progress chan<- vendoradapter.Progress) (vendoradapter.SyncResult, error) {
	a.log.Info().Msg("performing full sync")
	res := vendoradapter.SyncResult{Type: model.SyncFull}
	newMsgs := make(chan string, MessageBufferSize)
	ops := make(chan msgOp, MessageBufferSize)
	wg := sync.WaitGroup{}
	for i := 0; i < ConcurrentDownloads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range newMsgs {
				ops <- a.handleNewMsg(id)
			}
		}()
	}
	go func() { wg.Wait(); close(ops) }()

	seen := map[string]struct{}{}
	var total int64
	go func() {
		defer close(newMsgs)
		page := ""
		for {
			r, err := a.svc.GetMessages(a.label, page)
			if err != nil {
				ops <- msgOp{Error: err}
				return
			}
			page = r.NextPageToken
			total += r.ResultSizeEstimate
			for _, m := range r.Messages {
				newMsgs <- m.Id
				seen[m.Id] = struct{}{}
			}
			if page == "" {
				return
			}
		}
	}()

	var historyID uint64
	var i int64
	for o := range ops {
		if progress != nil {
			progress <- vendoradapter.Progress{Folder: a.label, Current: i, Total: total}
		}
		i++
		if o.Error != nil {
			return res, o.Error
		}
		if o.Operation == opNone {
			continue
		}
		if o.HistoryID > historyID {
			historyID = o.HistoryID
		}
		if err := a.writeOperation(a.label, o); err != nil {
			return res, err
		}
		if o.Operation == opAdd {
			res.EnvelopesAdded++
		}
	}

	existing, err := a.db.Envelopes.FindBySecondary(model.IdxMailboxID, a.label)
	if err != nil {
		return res, err
	}
	for _, e := range existing {
		if _, ok := seen[e.ID]; !ok {
			if err := a.writeDel(e.ID); err != nil {
				return res, err
			}
			res.EnvelopesDeleted++
		}
	}
	return res, a.setCheckpoint(a.label, historyID)
}

// ListMailboxes returns every Gmail label as a model.Mailbox.
func (a *Adapter) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	ls, err := a.svc.GetLabels()
	if err != nil {
		return nil, apperr.Internal(err, "list gmail labels")
	}
	out := make([]model.Mailbox, 0, len(ls.Labels))
	for _, l := range ls.Labels {
		out = append(out, model.Mailbox{
			ID:        l.Id,
			AccountID: a.accountID,
			Kind:      model.MailboxGmailLabel,
			Name:      l.Name,
			NativeID:  l.Id,
		})
	}
	return out, nil
}
