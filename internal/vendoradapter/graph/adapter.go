// Package graph implements the Microsoft Graph vendor adapter over raw
// HTTP REST calls rather than the generated SDK (see the design ledger
// for why). It mirrors Graph's own delta-query pagination contract:
// @odata.nextLink for paging within a sync pass, @odata.deltaLink as
// the watermark for the next incremental sync.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mailcore/engine/internal/apperr"
	"github.com/mailcore/engine/internal/cache"
	"github.com/mailcore/engine/internal/diskcache"
	"github.com/mailcore/engine/internal/model"
	"github.com/mailcore/engine/internal/store"
	"github.com/mailcore/engine/internal/vendoradapter"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const baseURL = "https://graph.microsoft.com/v1.0"

// Adapter implements vendoradapter.Adapter for a Microsoft 365 mailbox.
type Adapter struct {
	accountID string
	client    *http.Client // oauth2.Config-wrapped, refreshes automatically
	db        *store.DB
	cache     *cache.Cache
	disk      *diskcache.Cache
	log       zerolog.Logger
}

func New(ctx context.Context, accountID string, tokenSource oauth2.TokenSource, db *store.DB, c *cache.Cache, disk *diskcache.Cache, log zerolog.Logger) *Adapter {
	return &Adapter{
		accountID: accountID,
		client:    oauth2.NewClient(ctx, tokenSource),
		db:        db,
		cache:     c,
		disk:      disk,
		log:       log.With().Str("account_id", accountID).Str("vendor", "graph").Logger(),
	}
}

func (a *Adapter) get(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	return a.do(req, out)
}

func (a *Adapter) do(req *http.Request, out interface{}) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("graph API %s %s: %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

type mailFolder struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	ParentFolderID string `json:"parentFolderId"`
}

type folderListResponse struct {
	Value    []mailFolder `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

func (a *Adapter) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	var out []model.Mailbox
	next := baseURL + "/me/mailFolders?$top=100"
	for next != "" {
		var page folderListResponse
		if err := a.get(ctx, next, &page); err != nil {
			return nil, apperr.Internal(err, "list graph mail folders")
		}
		for _, f := range page.Value {
			out = append(out, model.Mailbox{
				ID:        f.ID,
				AccountID: a.accountID,
				Kind:      model.MailboxGraphFolder,
				Name:      f.DisplayName,
				NativeID:  f.ID,
			})
		}
		next = page.NextLink
	}
	return out, nil
}

// DetermineSyncType uses the persisted FolderDeltaLink: present and not
// forced full means the prior delta token can resume.
func (a *Adapter) DetermineSyncType(ctx context.Context, mailboxID string, forceFull bool) (model.SyncType, error) {
	if forceFull {
		return model.SyncFull, nil
	}
	if link, ok := a.db.GraphDelta.FindByPrimary(deltaKey(a.accountID, mailboxID)); ok && link.DeltaLink != "" {
		return model.SyncIncremental, nil
	}
	return model.SyncFull, nil
}

// deltaKey mirrors model.FolderDeltaLink.PrimaryKey().
func deltaKey(accountID, folderID string) string { return accountID + "/" + folderID }

type graphMessage struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversationId"`
	InternetMessageID string        `json:"internetMessageId"`
	Subject          string         `json:"subject"`
	ReceivedDateTime time.Time      `json:"receivedDateTime"`
	BodyPreview      string         `json:"bodyPreview"`
	From             *graphAddrWrap `json:"from"`
	ToRecipients     []graphAddrWrap `json:"toRecipients"`
	CcRecipients     []graphAddrWrap `json:"ccRecipients"`
	BccRecipients    []graphAddrWrap `json:"bccRecipients"`
	IsRead           bool           `json:"isRead"`
	Removed          *struct {
		Reason string `json:"reason"`
	} `json:"@removed,omitempty"`
}

type graphAddrWrap struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type deltaResponse struct {
	Value     []graphMessage `json:"value"`
	NextLink  string         `json:"@odata.nextLink"`
	DeltaLink string         `json:"@odata.deltaLink"`
}

// Sync drives the Graph delta-query protocol for mailboxID: pages
// through @odata.nextLink until the server hands back @odata.deltaLink,
// which becomes the resume token for the next incremental sync.
func (a *Adapter) Sync(ctx context.Context, mailboxID string, syncType model.SyncType, progress chan<- vendoradapter.Progress) (vendoradapter.SyncResult, error) {
	res := vendoradapter.SyncResult{Type: syncType}

	next := a.startURL(mailboxID, syncType)
	var seen int64
	for next != "" {
		var page deltaResponse
		if err := a.get(ctx, next, &page); err != nil {
			return res, apperr.Internal(err, "graph delta sync folder %q", mailboxID)
		}
		for _, m := range page.Value {
			seen++
			if progress != nil {
				progress <- vendoradapter.Progress{Folder: mailboxID, Current: seen, Total: seen}
			}
			if m.Removed != nil {
				if err := a.deleteCachedMessage(mailboxID, m.ID); err != nil {
					return res, err
				}
				res.EnvelopesDeleted++
				continue
			}
			if err := a.ingestMessage(ctx, mailboxID, m); err != nil {
				return res, err
			}
			res.EnvelopesAdded++
		}
		if page.NextLink != "" {
			next = page.NextLink
			continue
		}
		if page.DeltaLink != "" {
			if err := a.saveDeltaLink(mailboxID, page.DeltaLink); err != nil {
				return res, err
			}
		}
		next = ""
	}
	return res, nil
}

func (a *Adapter) startURL(mailboxID string, syncType model.SyncType) string {
	if syncType == model.SyncIncremental {
		if link, ok := a.db.GraphDelta.FindByPrimary(deltaKey(a.accountID, mailboxID)); ok && link.DeltaLink != "" {
			return link.DeltaLink
		}
	}
	q := url.Values{}
	q.Set("$select", "id,conversationId,internetMessageId,subject,receivedDateTime,from,toRecipients,ccRecipients,bccRecipients,isRead")
	return fmt.Sprintf("%s/me/mailFolders/%s/messages/delta?%s", baseURL, url.PathEscape(mailboxID), q.Encode())
}

func (a *Adapter) saveDeltaLink(mailboxID, link string) error {
	return a.db.GraphDelta.Put(model.FolderDeltaLink{
		AccountID: a.accountID,
		FolderID:  mailboxID,
		DeltaLink: link,
		UpdatedAt: time.Now(),
	})
}

func compositeID(mailbox, nativeID string) string { return mailbox + ":" + nativeID }

func (a *Adapter) ingestMessage(ctx context.Context, mailboxID string, m graphMessage) error {
	var addrs []cache.ParsedAddress
	if m.From != nil {
		addrs = append(addrs, cache.ParsedAddress{Kind: "from", Name: m.From.EmailAddress.Name, Address: m.From.EmailAddress.Address})
	}
	addrs = append(addrs, wrapAddrs("to", m.ToRecipients)...)
	addrs = append(addrs, wrapAddrs("cc", m.CcRecipients)...)
	addrs = append(addrs, wrapAddrs("bcc", m.BccRecipients)...)

	flags := []string{}
	if m.IsRead {
		flags = append(flags, "Seen")
	}

	ne := cache.NewEnvelope{
		ID:           compositeID(mailboxID, m.ID),
		AccountID:    a.accountID,
		MailboxID:    mailboxID,
		MessageID:    strings.Trim(m.InternetMessageID, "<>"),
		Subject:      m.Subject,
		Addresses:    addrs,
		Flags:        flags,
		InternalDate: m.ReceivedDateTime,
	}
	return a.cache.SaveEnvelopes([]cache.NewEnvelope{ne})
}

func wrapAddrs(kind string, rs []graphAddrWrap) []cache.ParsedAddress {
	out := make([]cache.ParsedAddress, 0, len(rs))
	for _, r := range rs {
		out = append(out, cache.ParsedAddress{Kind: kind, Name: r.EmailAddress.Name, Address: r.EmailAddress.Address})
	}
	return out
}

func (a *Adapter) deleteCachedMessage(mailboxID, nativeID string) error {
	id := compositeID(mailboxID, nativeID)
	env, ok := a.db.Envelopes.FindByPrimary(id)
	if !ok {
		return nil
	}
	return a.cache.DeleteEnvelope(env)
}

func (a *Adapter) CreateMailbox(ctx context.Context, name string) (model.Mailbox, error) {
	body, _ := json.Marshal(map[string]string{"displayName": name})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/me/mailFolders", bytes.NewReader(body))
	if err != nil {
		return model.Mailbox{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var f mailFolder
	if err := a.do(req, &f); err != nil {
		return model.Mailbox{}, apperr.Internal(err, "create graph folder %q", name)
	}
	return model.Mailbox{ID: f.ID, AccountID: a.accountID, Kind: model.MailboxGraphFolder, Name: f.DisplayName, NativeID: f.ID}, nil
}

func (a *Adapter) DeleteMailbox(ctx context.Context, mailboxID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, baseURL+"/me/mailFolders/"+url.PathEscape(mailboxID), nil)
	if err != nil {
		return err
	}
	if err := a.do(req, nil); err != nil {
		return apperr.Internal(err, "delete graph folder %q", mailboxID)
	}
	return nil
}

func (a *Adapter) RenameMailbox(ctx context.Context, mailboxID, newName string) error {
	body, _ := json.Marshal(map[string]string{"displayName": newName})
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, baseURL+"/me/mailFolders/"+url.PathEscape(mailboxID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := a.do(req, nil); err != nil {
		return apperr.Internal(err, "rename graph folder %q", mailboxID)
	}
	return nil
}

// SetSubscribed has no Graph folder equivalent; folders have no
// subscribe/unsubscribe concept, so this is a cache-only no-op.
func (a *Adapter) SetSubscribed(ctx context.Context, mailboxID string, subscribed bool) error {
	return nil
}

func (a *Adapter) moveOrCopy(ctx context.Context, verb, dstMailboxID string, envelopeIDs []string) error {
	for _, id := range envelopeIDs {
		_, nativeID, ok := splitComposite(id)
		if !ok {
			return apperr.InvalidParam("malformed graph composite id %q", id)
		}
		body, _ := json.Marshal(map[string]string{"destinationId": dstMailboxID})
		u := fmt.Sprintf("%s/me/messages/%s/%s", baseURL, url.PathEscape(nativeID), verb)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if err := a.do(req, nil); err != nil {
			return apperr.Internal(err, "%s message %q", verb, id)
		}
	}
	return nil
}

func splitComposite(id string) (mailbox, nativeID string, ok bool) {
	idx := strings.LastIndex(id, ":")
	if idx < 0 {
		return "", "", false
	}
	return id[:idx], id[idx+1:], true
}

func (a *Adapter) CopyMessages(ctx context.Context, srcMailboxID, dstMailboxID string, envelopeIDs []string) error {
	return a.moveOrCopy(ctx, "copy", dstMailboxID, envelopeIDs)
}

func (a *Adapter) MoveMessages(ctx context.Context, srcMailboxID, dstMailboxID string, envelopeIDs []string) error {
	return a.moveOrCopy(ctx, "move", dstMailboxID, envelopeIDs)
}

// SetFlags maps the engine's vendor-neutral "Seen" flag onto Graph's
// isRead field; other flag names are ignored, since Graph has no
// free-form flag set like IMAP.
func (a *Adapter) SetFlags(ctx context.Context, mailboxID string, envelopeIDs []string, add, remove []string) error {
	patch := map[string]interface{}{}
	for _, f := range add {
		if strings.EqualFold(f, "Seen") {
			patch["isRead"] = true
		}
	}
	for _, f := range remove {
		if strings.EqualFold(f, "Seen") {
			patch["isRead"] = false
		}
	}
	if len(patch) == 0 {
		return nil
	}
	body, _ := json.Marshal(patch)
	for _, id := range envelopeIDs {
		_, nativeID, ok := splitComposite(id)
		if !ok {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, baseURL+"/me/messages/"+url.PathEscape(nativeID), bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if err := a.do(req, nil); err != nil {
			return apperr.Internal(err, "set flags on message %q", id)
		}
	}
	return nil
}

func (a *Adapter) FetchRaw(ctx context.Context, envelopeID string) ([]byte, error) {
	_, nativeID, ok := splitComposite(envelopeID)
	if !ok {
		return nil, apperr.InvalidParam("malformed graph composite id %q", envelopeID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/me/messages/"+url.PathEscape(nativeID)+"/$value", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, apperr.Internal(err, "fetch raw graph message %q", envelopeID)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, apperr.Internal(fmt.Errorf("%d: %s", resp.StatusCode, body), "fetch raw graph message %q", envelopeID)
	}
	return io.ReadAll(resp.Body)
}

// AppendSent is a no-op: no copy of a sent message is filed into the
// account's Sent Items for Graph accounts.
func (a *Adapter) AppendSent(ctx context.Context, raw []byte) error {
	return nil
}
