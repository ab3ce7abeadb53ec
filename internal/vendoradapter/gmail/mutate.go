package gmail

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/mail"
	"strings"

	"github.com/mailcore/engine/internal/apperr"
	"github.com/mailcore/engine/internal/cache"
	"github.com/mailcore/engine/internal/model"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func gmailOption(clt *http.Client) option.ClientOption {
	return option.WithHTTPClient(clt)
}

// parseEnvelope extracts cache-ready envelope fields from a parsed
// message. cacheKey is accepted for symmetry with other vendor adapters
// that store a body reference on the envelope; Gmail always refetches
// raw bodies from the API on demand (see FetchRaw), so it is unused here.
func parseEnvelope(accountID, mailboxID, id, cacheKey string, m *mail.Message, labels []string) cache.NewEnvelope {
	addrs := make([]cache.ParsedAddress, 0, 4)
	addrs = append(addrs, parseAddrHeader(m, "From", "from")...)
	addrs = append(addrs, parseAddrHeader(m, "To", "to")...)
	addrs = append(addrs, parseAddrHeader(m, "Cc", "cc")...)
	addrs = append(addrs, parseAddrHeader(m, "Bcc", "bcc")...)

	refs := strings.Fields(m.Header.Get("References"))
	date, _ := m.Header.Date()

	return cache.NewEnvelope{
		ID:           id,
		AccountID:    accountID,
		MailboxID:    mailboxID,
		MessageID:    strings.Trim(m.Header.Get("Message-Id"), "<>"),
		InReplyTo:    strings.Trim(m.Header.Get("In-Reply-To"), "<>"),
		References:   refs,
		Subject:      m.Header.Get("Subject"),
		Addresses:    addrs,
		Flags:        labels,
		InternalDate: date,
	}
}

func parseAddrHeader(m *mail.Message, header, kind string) []cache.ParsedAddress {
	vals, err := m.Header.AddressList(header)
	if err != nil || len(vals) == 0 {
		return nil
	}
	out := make([]cache.ParsedAddress, 0, len(vals))
	for _, v := range vals {
		out = append(out, cache.ParsedAddress{Kind: kind, Name: v.Name, Address: v.Address})
	}
	return out
}

// CreateMailbox creates a new Gmail user label.
func (a *Adapter) CreateMailbox(ctx context.Context, name string) (model.Mailbox, error) {
	l, err := a.labelsSvc().Create(&gmailapi.Label{Name: name}).Do()
	if err != nil {
		return model.Mailbox{}, apperr.Internal(err, "create gmail label %q", name)
	}
	return model.Mailbox{ID: l.Id, AccountID: a.accountID, Kind: model.MailboxGmailLabel, Name: l.Name, NativeID: l.Id}, nil
}

func (a *Adapter) DeleteMailbox(ctx context.Context, mailboxID string) error {
	if err := a.labelsSvc().Delete(mailboxID).Do(); err != nil {
		return apperr.Internal(err, "delete gmail label %q", mailboxID)
	}
	return nil
}

func (a *Adapter) RenameMailbox(ctx context.Context, mailboxID, newName string) error {
	if _, err := a.labelsSvc().Patch(mailboxID, &gmailapi.Label{Name: newName}).Do(); err != nil {
		return apperr.Internal(err, "rename gmail label %q", mailboxID)
	}
	return nil
}

// SetSubscribed has no Gmail-side equivalent (labels are always
// "subscribed"); it is a cache-only bookkeeping no-op for this vendor.
func (a *Adapter) SetSubscribed(ctx context.Context, mailboxID string, subscribed bool) error {
	return nil
}

// CopyMessages has no native Gmail equivalent: a message belongs to
// exactly one set of labels, not independent folders, so "copy" is
// modeled as adding the destination label without removing the source.
func (a *Adapter) CopyMessages(ctx context.Context, srcMailboxID, dstMailboxID string, envelopeIDs []string) error {
	return a.modifyLabels(envelopeIDs, []string{dstMailboxID}, nil)
}

func (a *Adapter) MoveMessages(ctx context.Context, srcMailboxID, dstMailboxID string, envelopeIDs []string) error {
	return a.modifyLabels(envelopeIDs, []string{dstMailboxID}, []string{srcMailboxID})
}

func (a *Adapter) SetFlags(ctx context.Context, mailboxID string, envelopeIDs []string, add, remove []string) error {
	return a.modifyLabels(envelopeIDs, add, remove)
}

func (a *Adapter) modifyLabels(envelopeIDs, add, remove []string) error {
	for _, id := range envelopeIDs {
		req := &gmailapi.ModifyMessageRequest{AddLabelIds: add, RemoveLabelIds: remove}
		if _, err := a.messagesSvc().Modify("me", id, req).Do(); err != nil {
			return apperr.Internal(err, "modify labels for message %q", id)
		}
	}
	return nil
}

// FetchRaw returns the raw message, fetched from the Gmail API on every
// call; the disk cache is not consulted.
func (a *Adapter) FetchRaw(ctx context.Context, envelopeID string) ([]byte, error) {
	raw, err := a.svc.GetRawMessage(envelopeID)
	if err != nil {
		return nil, apperr.Internal(err, "fetch raw message %q", envelopeID)
	}
	bs, err := decodeRaw(raw)
	if err != nil {
		return nil, apperr.Internal(err, "decode raw message %q", envelopeID)
	}
	return bs, nil
}

// AppendSent imports a just-sent message into the account's mailbox via
// Messages.Insert, tagged SENT, matching IMAP's "append to Sent folder"
// behavior for vendors with a real folder concept.
func (a *Adapter) AppendSent(ctx context.Context, raw []byte) error {
	msg := &gmailapi.Message{Raw: encodeRaw(raw), LabelIds: []string{"SENT"}}
	if _, err := a.messagesSvc().Insert("me", msg).Do(); err != nil {
		return apperr.Internal(err, "append sent message")
	}
	return nil
}

func (a *Adapter) labelsSvc() *gmailapi.UsersLabelsService {
	return gmailapi.NewUsersLabelsService(a.raw)
}

func (a *Adapter) messagesSvc() *gmailapi.UsersMessagesService {
	return gmailapi.NewUsersMessagesService(a.raw)
}

func encodeRaw(b []byte) string {
	return base64.URLEncoding.EncodeToString(b)
}

func decodeRaw(s string) ([]byte, error) {
	return base64.URLEncoding.DecodeString(s)
}
