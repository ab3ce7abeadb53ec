package compose

import (
	"strings"
	"testing"
	"time"

	"github.com/mailcore/engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageIDFormat(t *testing.T) {
	id, err := NewMessageID("example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "<"))
	assert.True(t, strings.HasSuffix(id, "@example.com>"))

	id2, err := NewMessageID("example.com")
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestBuildProducesMultipartMessageWithHeaders(t *testing.T) {
	task := model.SendEmailTask{
		From:    "sender@example.com",
		To:      []string{"recipient@example.com"},
		Cc:      []string{"cc@example.com"},
		Subject: "Hello there",
	}
	raw, err := Build(task, "<abc@example.com>", "<p>hi</p>", "hi", nil)
	require.NoError(t, err)

	s := string(raw)
	assert.Contains(t, s, "Message-Id: <abc@example.com>")
	assert.Contains(t, s, "sender@example.com")
	assert.Contains(t, s, "text/plain")
	assert.Contains(t, s, "text/html")
}

func TestBuildWithAttachment(t *testing.T) {
	task := model.SendEmailTask{From: "a@b.com", To: []string{"c@d.com"}, Subject: "x"}
	att := []Attachment{{Filename: "note.txt", ContentType: "text/plain", Data: []byte("payload")}}
	raw, err := Build(task, "<id@x>", "", "body", att)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "note.txt")
}

func TestBuildSetsReplyHeadersWhenAnswering(t *testing.T) {
	task := model.SendEmailTask{
		From:    "a@b.com",
		To:      []string{"c@d.com"},
		Subject: "Re: hi",
		Answer:  &model.AnswerEmail{Kind: model.ReplyReply, OriginalEnvelope: "<orig@x>"},
	}
	raw, err := Build(task, "<id@x>", "", "body", nil)
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, "In-Reply-To: <orig@x>")
	assert.Contains(t, s, "References: <orig@x>")
}

func TestQuoteTextPrefixesEveryLine(t *testing.T) {
	out := QuoteText("line one\nline two")
	assert.Equal(t, "> line one\n> line two", out)
}

func TestQuoteHTMLWrapsInBlockquote(t *testing.T) {
	out := QuoteHTML("<p>hi</p>")
	assert.Equal(t, `<blockquote type="cite"><p>hi</p></blockquote>`, out)
}

func TestReplyHeaderBlock(t *testing.T) {
	date := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	out := ReplyHeaderBlock("Alice <alice@example.com>", []string{"bob@example.com"}, []string{"carol@example.com"}, nil, "Meeting", date)
	assert.Contains(t, out, "Alice <alice@example.com> wrote:")
	assert.Contains(t, out, "Subject: Meeting")
	assert.Contains(t, out, "To: bob@example.com")
	assert.Contains(t, out, "Cc: carol@example.com")
	assert.NotContains(t, out, "Bcc:")
}
