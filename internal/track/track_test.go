package track

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCodec struct{}

func (fakeCodec) Encrypt(plaintext []byte) (string, error) {
	return base64.URLEncoding.EncodeToString(plaintext), nil
}

func (fakeCodec) Decrypt(token string) ([]byte, error) {
	return base64.URLEncoding.DecodeString(token)
}

func newTestTracker() *Tracker {
	return New(fakeCodec{}, "https://track.example.com/t/", "campaign-1", "<msg-123@rustmailer>", "a@b.com", "acct-1", "me@example.com")
}

func TestTrackLinksRewritesAbsoluteHrefs(t *testing.T) {
	tr := newTestTracker()
	out, err := tr.TrackLinks(`<a href="https://example.com/page">click</a>`)
	require.NoError(t, err)
	assert.Contains(t, out, "https://track.example.com/t/")
	assert.NotContains(t, out, `href="https://example.com/page"`)

	payload, err := DecodePayload(fakeCodec{}, extractToken(t, out))
	require.NoError(t, err)
	assert.Equal(t, Click, payload.TrackType)
	assert.Equal(t, "https://example.com/page", payload.URL)
	assert.Equal(t, "msg-123@rustmailer", payload.MessageID)
}

func TestTrackLinksSkipsRelativeAndFragmentHrefs(t *testing.T) {
	tr := newTestTracker()
	html := `<a href="#section">jump</a><a href="javascript:void(0)">noop</a>`
	out, err := tr.TrackLinks(html)
	require.NoError(t, err)
	assert.Equal(t, html, out)
}

func TestPixelURLAndAppendTrackingPixel(t *testing.T) {
	tr := newTestTracker()
	pixelURL, err := tr.PixelURL()
	require.NoError(t, err)

	out := AppendTrackingPixel("<html><body>hi</body></html>", pixelURL)
	assert.True(t, strings.Index(out, pixelURL) < strings.Index(out, "</body>"))

	payload, err := DecodePayload(fakeCodec{}, extractToken(t, `href="`+pixelURL+`"`))
	require.NoError(t, err)
	assert.Equal(t, Open, payload.TrackType)
	assert.Empty(t, payload.URL)
}

func extractToken(t *testing.T, html string) string {
	t.Helper()
	start := strings.Index(html, "https://track.example.com/t/")
	require.GreaterOrEqual(t, start, 0)
	rest := html[start+len("https://track.example.com/t/"):]
	end := strings.IndexAny(rest, `"<`)
	if end < 0 {
		end = len(rest)
	}
	return rest[:end]
}
