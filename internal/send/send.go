// Package send implements the outbound pipeline: MIME composition,
// reply/forward quoting, click/open tracking injection, SMTP delivery,
// and filing the sent copy into the account's sent folder.
package send

import (
	"context"
	"strings"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/mailcore/engine/internal/apperr"
	"github.com/mailcore/engine/internal/compose"
	"github.com/mailcore/engine/internal/diskcache"
	"github.com/mailcore/engine/internal/model"
	"github.com/mailcore/engine/internal/pool"
	"github.com/mailcore/engine/internal/store"
	"github.com/mailcore/engine/internal/track"
	"github.com/mailcore/engine/internal/vendoradapter"
)

// messageIDDomain is the fixed right-hand side of generated Message-Id
// headers, matching what recipients' mail clients already expect from
// this deployment's outbound mail.
const messageIDDomain = "rustmailer"

// Sender resolves accounts/MTAs to SMTP pools and drives one task
// through compose -> track -> deliver -> file-as-sent.
type Sender struct {
	db       *store.DB
	disk     *diskcache.Cache
	codec    track.Codec
	pools    PoolResolver
	adapters AdapterResolver
}

// PoolResolver returns the SMTP pool to send task through: the
// account's own SMTP config, or an MTA's, per task.MTAID.
type PoolResolver func(ctx context.Context, task model.SendEmailTask) (*pool.SMTPPool, error)

// AdapterResolver returns the vendor adapter for task.AccountID, whose
// AppendSent files the sent copy (IMAP appends to "Sent", Gmail inserts
// with the SENT label, Graph files nothing).
type AdapterResolver func(ctx context.Context, accountID string) (vendoradapter.Adapter, error)

func New(db *store.DB, disk *diskcache.Cache, codec track.Codec, pools PoolResolver, adapters AdapterResolver) *Sender {
	return &Sender{db: db, disk: disk, codec: codec, pools: pools, adapters: adapters}
}

// Send renders, tracks, and delivers task, returning the assigned
// Message-Id on success.
func (s *Sender) Send(ctx context.Context, task model.SendEmailTask) (string, error) {
	msgID, err := compose.NewMessageID(messageIDDomain)
	if err != nil {
		return "", apperr.Internal(err, "generate message id")
	}

	htmlBody := task.HTMLBody
	textBody := task.TextBody

	if task.Answer != nil {
		switch task.Answer.Kind {
		case model.ReplyReply, model.ReplyReplyAll, model.ReplyForward:
			orig, ok := s.db.Envelopes.FindByPrimary(task.Answer.OriginalEnvelope)
			if !ok {
				return "", apperr.NotFound("original envelope %q not found for reply", task.Answer.OriginalEnvelope)
			}
			header := compose.ReplyHeaderBlock(addrString(orig.From), addrStrings(orig.To), addrStrings(orig.Cc), addrStrings(orig.Bcc), orig.Subject, orig.InternalDate)
			if task.Answer.QuoteHTML != "" {
				htmlBody = htmlBody + compose.QuoteHTML(htmlNewlines(header)+task.Answer.QuoteHTML)
			}
			if task.Answer.QuoteText != "" {
				textBody = textBody + "\n\n" + compose.QuoteText(header+task.Answer.QuoteText)
			}
		}
	}

	if task.TrackClicks || task.TrackOpens {
		tr := track.New(s.codec, trackingBaseURL, task.CampaignID, msgID, firstOr(task.To, ""), task.AccountID, task.From)
		if task.TrackClicks && htmlBody != "" {
			rewritten, err := tr.TrackLinks(htmlBody)
			if err != nil {
				return "", apperr.Internal(err, "rewrite tracked links")
			}
			htmlBody = rewritten
		}
		if task.TrackOpens && htmlBody != "" {
			pixel, err := tr.PixelURL()
			if err != nil {
				return "", apperr.Internal(err, "build tracking pixel url")
			}
			htmlBody = track.AppendTrackingPixel(htmlBody, pixel)
		}
	}

	attachments, err := s.resolveAttachments(task.Attachments)
	if err != nil {
		return "", err
	}

	raw, err := compose.Build(task, msgID, htmlBody, textBody, attachments)
	if err != nil {
		return "", apperr.Internal(err, "build mime message")
	}

	if err := s.deliver(ctx, task, raw); err != nil {
		return "", err
	}

	if adapter, aerr := s.adapters(ctx, task.AccountID); aerr == nil && adapter != nil {
		_ = adapter.AppendSent(ctx, raw)
	}

	return msgID, nil
}

// trackingBaseURL is a package var so cmd/mailcored can set it from
// config at wiring time (via SetTrackingBaseURL) without threading
// another parameter through every call site.
var trackingBaseURL string

// SetTrackingBaseURL configures the base URL used to build tracking
// links and pixels for every subsequent Send call.
func SetTrackingBaseURL(base string) { trackingBaseURL = base }

func addrString(a model.AddressEntity) string {
	if a.Name != "" {
		return a.Name + " <" + a.Address + ">"
	}
	return a.Address
}

func addrStrings(addrs []model.AddressEntity) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, addrString(a))
	}
	return out
}

// htmlNewlines turns the plain-text reply header block's newlines into
// <br> so it renders as separate lines inside the blockquote.
func htmlNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "<br>")
}

func firstOr(ss []string, def string) string {
	if len(ss) > 0 {
		return ss[0]
	}
	return def
}

func (s *Sender) resolveAttachments(in []model.Attachment) ([]compose.Attachment, error) {
	out := make([]compose.Attachment, 0, len(in))
	for _, a := range in {
		data, ok, err := s.disk.Get(a.CacheKey)
		if err != nil {
			return nil, apperr.Internal(err, "read attachment %q", a.CacheKey)
		}
		if !ok {
			return nil, apperr.NotFound("attachment %q not found in disk cache", a.CacheKey)
		}
		out = append(out, compose.Attachment{Filename: a.Filename, ContentType: a.ContentType, Data: data})
	}
	return out, nil
}

func (s *Sender) deliver(ctx context.Context, task model.SendEmailTask, raw []byte) error {
	smtpPool, err := s.pools(ctx, task)
	if err != nil {
		return err
	}
	conn, err := smtpPool.Acquire(ctx)
	if err != nil {
		return apperr.PoolTimeout(err, "acquire smtp connection for account %q", task.AccountID)
	}
	defer conn.Release()

	recipients := append(append(append([]string{}, task.To...), task.Cc...), task.Bcc...)
	if err := conn.Client.Mail(task.From, mailOptions(task)); err != nil {
		return apperr.SmtpCommandFailed(err, "MAIL FROM")
	}
	for _, rcpt := range recipients {
		if err := conn.Client.Rcpt(rcpt, nil); err != nil {
			return apperr.SmtpCommandFailed(err, "RCPT TO %q", rcpt)
		}
	}
	w, err := conn.Client.Data()
	if err != nil {
		return apperr.SmtpCommandFailed(err, "DATA")
	}
	if _, err := w.Write(raw); err != nil {
		return apperr.SmtpFailed(err, "write message body")
	}
	if err := w.Close(); err != nil {
		return apperr.SmtpFailed(err, "close data stream")
	}
	return nil
}

func mailOptions(task model.SendEmailTask) *gosmtp.MailOptions {
	if !task.RequestDSN {
		return nil
	}
	return &gosmtp.MailOptions{
		RequireTLS: false,
	}
}

// SendTest opens mta's pool and sends a minimal message from->to,
// returning nil on success. Used to verify a newly configured MTA
// before accounts are allowed to send through it.
func SendTest(ctx context.Context, mta model.MTA, proxyURL, from, to, subject, body string) error {
	p := pool.NewSMTPPool(model.SmtpConfig{Host: mta.Host, Port: mta.Port, Encryption: mta.Encryption},
		mta.Username, mta.Password, false, proxyURL)
	conn, err := p.Acquire(ctx)
	if err != nil {
		return apperr.PoolTimeout(err, "acquire mta test connection")
	}
	defer conn.Release()

	msgID, err := compose.NewMessageID(messageIDDomain)
	if err != nil {
		return apperr.Internal(err, "generate test message id")
	}
	raw, err := compose.Build(model.SendEmailTask{From: from, To: []string{to}, Subject: subject, TextBody: body},
		msgID, "", body, nil)
	if err != nil {
		return apperr.Internal(err, "build test message")
	}
	if err := conn.Client.Mail(from, nil); err != nil {
		return apperr.SmtpCommandFailed(err, "MAIL FROM")
	}
	if err := conn.Client.Rcpt(to, nil); err != nil {
		return apperr.SmtpCommandFailed(err, "RCPT TO")
	}
	w, err := conn.Client.Data()
	if err != nil {
		return apperr.SmtpCommandFailed(err, "DATA")
	}
	if _, err := w.Write(raw); err != nil {
		return apperr.SmtpFailed(err, "write test message")
	}
	return w.Close()
}
