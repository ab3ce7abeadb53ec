package send

import (
	"context"
	"testing"
	"time"

	"github.com/mailcore/engine/internal/apperr"
	"github.com/mailcore/engine/internal/model"
	"github.com/mailcore/engine/internal/pool"
	"github.com/mailcore/engine/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestSendFailsWhenOriginalEnvelopeMissing(t *testing.T) {
	db := newTestDB(t)
	s := New(db, nil, nil, nil, nil)

	task := model.SendEmailTask{
		From: "me@example.com",
		To:   []string{"you@example.com"},
		Answer: &model.AnswerEmail{
			Kind:             model.ReplyReply,
			OriginalEnvelope: "env-does-not-exist",
			QuoteText:        "the original body",
		},
	}

	_, err := s.Send(context.Background(), task)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.ResourceNotFound))
}

func TestAddrStringAndAddrStringsFormatNameAndAddress(t *testing.T) {
	require.Equal(t, "alice@example.com", addrString(model.AddressEntity{Address: "alice@example.com"}))
	require.Equal(t, "Alice <alice@example.com>", addrString(model.AddressEntity{Name: "Alice", Address: "alice@example.com"}))

	got := addrStrings([]model.AddressEntity{
		{Name: "Bob", Address: "bob@example.com"},
		{Address: "carol@example.com"},
	})
	require.Equal(t, []string{"Bob <bob@example.com>", "carol@example.com"}, got)
}

func TestHTMLNewlinesConvertsToBreaks(t *testing.T) {
	require.Equal(t, "a<br>b<br>c", htmlNewlines("a\nb\nc"))
}

func TestSendLooksUpOriginalEnvelopeForReplyHeader(t *testing.T) {
	db := newTestDB(t)
	orig := model.Envelope{
		ID:           "env-1",
		AccountID:    "acct-1",
		MailboxID:    "mbox-1",
		Subject:      "Meeting",
		InternalDate: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		From:         model.AddressEntity{Name: "Alice", Address: "alice@example.com"},
		To:           []model.AddressEntity{{Address: "bob@example.com"}},
	}
	require.NoError(t, db.Envelopes.Put(orig))

	noPool := func(ctx context.Context, task model.SendEmailTask) (*pool.SMTPPool, error) {
		return nil, apperr.Internal(nil, "no smtp pool configured in test")
	}
	s := New(db, nil, nil, noPool, nil)
	task := model.SendEmailTask{
		From: "bob@example.com",
		To:   []string{"alice@example.com"},
		Answer: &model.AnswerEmail{
			Kind:             model.ReplyReply,
			OriginalEnvelope: "env-1",
			QuoteText:        "original body text",
		},
	}

	// No SMTP pool resolver is wired, so delivery itself will fail once
	// the reply header lookup succeeds -- confirming the lookup doesn't
	// error out and that the pipeline proceeds past it.
	_, err := s.Send(context.Background(), task)
	require.Error(t, err)
	require.False(t, apperr.Is(err, apperr.ResourceNotFound), "envelope lookup must succeed for an existing envelope")
}
