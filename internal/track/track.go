// Package track implements click/open tracking for outbound HTML email:
// rewriting hrefs to tracking redirects and injecting an open-tracking
// pixel. Ported from the reference send pipeline's tracker.
package track

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/mailcore/engine/internal/apperr"
)

var hrefPattern = regexp.MustCompile(`href\s*=\s*"([^"]+)"`)

// Type distinguishes a click event from an open event.
type Type string

const (
	Click Type = "click"
	Open  Type = "open"
)

// Payload is the JSON structure encoded into a tracking URL. URL is only
// populated for Click events.
type Payload struct {
	TrackType     Type   `json:"track_type"`
	AccountID     string `json:"account_id"`
	AccountEmail  string `json:"account_email"`
	CampaignID    string `json:"campaign_id"`
	Recipient     string `json:"recipient"`
	MessageID     string `json:"message_id"`
	URL           string `json:"url,omitempty"`
}

// Codec is the pluggable encrypt/decrypt boundary for tracking payloads.
// Production deployments should supply a codec backed by a real
// authenticated-encryption scheme; that primitive is outside this
// engine's scope.
type Codec interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(token string) ([]byte, error)
}

// Tracker rewrites a single outbound HTML body.
type Tracker struct {
	codec        Codec
	baseURL      string
	campaignID   string
	messageID    string
	recipient    string
	accountID    string
	accountEmail string
}

// New builds a Tracker. messageID may be wrapped in angle brackets; they
// are stripped, matching the RFC 5322 Message-ID header form.
func New(codec Codec, baseURL, campaignID, messageID, recipient, accountID, accountEmail string) *Tracker {
	return &Tracker{
		codec:        codec,
		baseURL:      strings.TrimRight(baseURL, "/"),
		campaignID:   campaignID,
		messageID:    strings.Trim(messageID, "<>"),
		recipient:    recipient,
		accountID:    accountID,
		accountEmail: accountEmail,
	}
}

// TrackLinks rewrites every href in html to a click-tracking redirect,
// skipping links with no scheme/host (e.g. "javascript:", "#anchor").
func (t *Tracker) TrackLinks(html string) (string, error) {
	var encErr error
	out := hrefPattern.ReplaceAllStringFunc(html, func(match string) string {
		sub := hrefPattern.FindStringSubmatch(match)
		if len(sub) != 2 {
			return match
		}
		raw := sub[1]
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return match
		}
		trackingURL, err := t.trackingURL(raw)
		if err != nil {
			encErr = err
			return match
		}
		return fmt.Sprintf(`href="%s"`, trackingURL)
	})
	if encErr != nil {
		return html, encErr
	}
	return out, nil
}

func (t *Tracker) trackingURL(targetURL string) (string, error) {
	payload := Payload{
		TrackType:    Click,
		AccountID:    t.accountID,
		AccountEmail: t.accountEmail,
		CampaignID:   t.campaignID,
		Recipient:    t.recipient,
		MessageID:    t.messageID,
		URL:          targetURL,
	}
	return t.encode(payload)
}

// PixelURL returns the open-tracking pixel's target URL.
func (t *Tracker) PixelURL() (string, error) {
	payload := Payload{
		TrackType:    Open,
		AccountID:    t.accountID,
		AccountEmail: t.accountEmail,
		CampaignID:   t.campaignID,
		Recipient:    t.recipient,
		MessageID:    t.messageID,
	}
	return t.encode(payload)
}

func (t *Tracker) encode(p Payload) (string, error) {
	js, err := json.Marshal(p)
	if err != nil {
		return "", apperr.Internal(err, "marshal tracking payload")
	}
	token, err := t.codec.Encrypt(js)
	if err != nil {
		return "", apperr.Internal(err, "encrypt tracking payload")
	}
	return fmt.Sprintf("%s/%s", t.baseURL, token), nil
}

// DecodePayload reverses Codec.Decrypt + JSON unmarshal, for the
// tracking redirect handler to call.
func DecodePayload(codec Codec, token string) (Payload, error) {
	var p Payload
	raw, err := codec.Decrypt(token)
	if err != nil {
		return p, apperr.Internal(err, "decrypt tracking payload")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, apperr.Internal(err, "unmarshal tracking payload")
	}
	return p, nil
}

// AppendTrackingPixel appends an invisible open-tracking pixel before
// </body>, or </html>, or at the end of the document if neither tag is
// present.
func AppendTrackingPixel(html, pixelURL string) string {
	img := fmt.Sprintf(`<img src="%s" style="opacity:0; position:absolute; left:-9999px;" alt="" />`, pixelURL)
	if strings.Contains(html, "</body>") {
		return strings.Replace(html, "</body>", img+"</body>", 1)
	}
	if strings.Contains(html, "</html>") {
		return strings.Replace(html, "</html>", img+"</html>", 1)
	}
	return html + img
}
