// Package compose builds outbound MIME messages, including reply/forward
// quoting, using emersion/go-message's mail writer.
package compose

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/mailcore/engine/internal/model"
)

// NewMessageID generates a Message-ID in the wire format
// "<epoch_ms>.<32 hex chars>@<domain>".
func NewMessageID(domain string) (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("<%d.%s@%s>", time.Now().UnixMilli(), hex.EncodeToString(b[:]), domain), nil
}

// Addr is a display-name/address pair accepted by Build.
type Addr struct {
	Name    string
	Address string
}

func toMailAddrs(addrs []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &mail.Address{Address: a})
	}
	return out
}

// Build renders a SendEmailTask into a complete RFC 5322 message,
// including multipart/alternative text+HTML bodies and any attachments
// referenced by the task. htmlBody/textBody are the already-composed
// bodies (tracking rewrites and reply quoting applied by the caller).
func Build(task model.SendEmailTask, messageID, htmlBody, textBody string, attachments []Attachment) ([]byte, error) {
	var buf bytes.Buffer

	h := mail.Header{}
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: task.From}})
	h.SetAddressList("To", toMailAddrs(task.To))
	if len(task.Cc) > 0 {
		h.SetAddressList("Cc", toMailAddrs(task.Cc))
	}
	h.SetSubject(mime.QEncoding.Encode("utf-8", task.Subject))
	h.Set("Message-Id", messageID)
	if task.Answer != nil && task.Answer.OriginalEnvelope != "" {
		h.Set("In-Reply-To", task.Answer.OriginalEnvelope)
		h.Set("References", task.Answer.OriginalEnvelope)
	}
	if task.RequestDSN {
		h.Set("Disposition-Notification-To", task.From)
		h.Set("Return-Receipt-To", task.From)
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	bw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	if textBody != "" {
		var th mail.InlineHeader
		th.Set("Content-Type", "text/plain; charset=utf-8")
		w, err := bw.CreatePart(th)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, textBody); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	if htmlBody != "" {
		var hh mail.InlineHeader
		hh.Set("Content-Type", "text/html; charset=utf-8")
		w, err := bw.CreatePart(hh)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, htmlBody); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	if err := bw.Close(); err != nil {
		return nil, err
	}

	for _, att := range attachments {
		var ah mail.AttachmentHeader
		ah.SetFilename(att.Filename)
		ah.Set("Content-Type", att.ContentType)
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(att.Data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Attachment is a resolved attachment payload (the caller has already
// fetched Data from the disk cache by CacheKey).
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// QuoteText prefixes every line of body with "> ", the plain-text reply
// quoting convention.
func QuoteText(body string) string {
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

// QuoteHTML wraps body in a blockquote, the HTML reply quoting
// convention used by most mail clients.
func QuoteHTML(body string) string {
	return fmt.Sprintf(`<blockquote type="cite">%s</blockquote>`, body)
}

// ReplyHeaderBlock renders the header reproduced above a quoted reply
// body: an "On <date>, <from> wrote:" line, the original message's
// Subject line (always written), then its To/Cc/Bcc, each on its own
// line when non-empty.
func ReplyHeaderBlock(from string, to, cc, bcc []string, subject string, date time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "On %s, %s wrote:\n", date.Format(time.RFC1123Z), from)
	fmt.Fprintf(&b, "Subject: %s\n", subject)
	if len(to) > 0 {
		fmt.Fprintf(&b, "To: %s\n", strings.Join(to, ", "))
	}
	if len(cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(cc, ", "))
	}
	if len(bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", strings.Join(bcc, ", "))
	}
	return b.String()
}
