package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConstructorsSetCode(t *testing.T) {
	cases := []struct {
		name string
		err  *AppError
		want Code
	}{
		{"InvalidParam", InvalidParam("bad %s", "input"), InvalidParameter},
		{"NotFound", NotFound("missing %s", "account"), ResourceNotFound},
		{"Denied", Denied("no access"), PermissionDenied},
		{"NotAllowed", NotAllowed("nope"), MethodNotAllowed},
		{"MissingConfig", MissingConfig("unset"), MissingConfiguration},
		{"MailboxNotCached", MailboxNotCached("INBOX"), MailBoxNotCached},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, c.err.Code)
			require.Nil(t, c.err.Err)
		})
	}
}

func TestWrappingConstructorsPreserveCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")

	pt := PoolTimeout(cause, "acquire imap conn")
	require.Equal(t, ConnectionPoolTimeout, pt.Code)
	require.ErrorIs(t, pt, cause)

	imapErr := ImapFailed(cause, "login failed")
	require.Equal(t, ImapConnectionFailed, imapErr.Code)
	require.ErrorIs(t, imapErr, cause)

	smtpErr := SmtpFailed(cause, "connect failed")
	require.Equal(t, SmtpConnectionFailed, smtpErr.Code)

	cmdErr := SmtpCommandFailed(cause, "RCPT TO rejected")
	require.Equal(t, SmtpCommandRejected, cmdErr.Code)

	internal := Internal(cause, "unexpected state")
	require.Equal(t, InternalError, internal.Code)
}

func TestErrorMessageIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("boom")
	withCause := Internal(cause, "failed to flush cache")
	require.Contains(t, withCause.Error(), "boom")
	require.Contains(t, withCause.Error(), "failed to flush cache")

	withoutCause := NotFound("account %s", "acct-1")
	require.NotContains(t, withoutCause.Error(), "<nil>")
	require.Contains(t, withoutCause.Error(), "acct-1")
}

func TestIsMatchesOutermostCode(t *testing.T) {
	err := NotFound("account %s", "acct-1")
	require.True(t, Is(err, ResourceNotFound))
	require.False(t, Is(err, PermissionDenied))

	wrapped := Internal(err, "while loading account")
	require.False(t, Is(wrapped, ResourceNotFound))

	require.False(t, Is(errors.New("plain error"), ResourceNotFound))
}
