// Package apperr defines the error taxonomy shared by every component of
// the sync and send engine.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure. Callers should switch on Code, not
// on error string contents.
type Code string

const (
	InvalidParameter      Code = "invalid_parameter"
	ResourceNotFound      Code = "resource_not_found"
	PermissionDenied      Code = "permission_denied"
	MethodNotAllowed      Code = "method_not_allowed"
	MissingConfiguration  Code = "missing_configuration"
	ConnectionPoolTimeout Code = "connection_pool_timeout"
	ImapConnectionFailed  Code = "imap_connection_failed"
	SmtpConnectionFailed  Code = "smtp_connection_failed"
	SmtpCommandRejected   Code = "smtp_command_failed"
	MailBoxNotCached      Code = "mailbox_not_cached"
	InternalError         Code = "internal_error"
)

// AppError is the concrete error type returned across package boundaries.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func new(code Code, msg string, err error) *AppError {
	return &AppError{Code: code, Message: msg, Err: err}
}

func InvalidParam(msg string, args ...any) *AppError {
	return new(InvalidParameter, fmt.Sprintf(msg, args...), nil)
}

func NotFound(msg string, args ...any) *AppError {
	return new(ResourceNotFound, fmt.Sprintf(msg, args...), nil)
}

func Denied(msg string, args ...any) *AppError {
	return new(PermissionDenied, fmt.Sprintf(msg, args...), nil)
}

func NotAllowed(msg string, args ...any) *AppError {
	return new(MethodNotAllowed, fmt.Sprintf(msg, args...), nil)
}

func MissingConfig(msg string, args ...any) *AppError {
	return new(MissingConfiguration, fmt.Sprintf(msg, args...), nil)
}

func PoolTimeout(err error, msg string, args ...any) *AppError {
	return new(ConnectionPoolTimeout, fmt.Sprintf(msg, args...), err)
}

func ImapFailed(err error, msg string, args ...any) *AppError {
	return new(ImapConnectionFailed, fmt.Sprintf(msg, args...), err)
}

func SmtpFailed(err error, msg string, args ...any) *AppError {
	return new(SmtpConnectionFailed, fmt.Sprintf(msg, args...), err)
}

func SmtpCommandFailed(err error, msg string, args ...any) *AppError {
	return new(SmtpCommandRejected, fmt.Sprintf(msg, args...), err)
}

func MailboxNotCached(msg string, args ...any) *AppError {
	return new(MailBoxNotCached, fmt.Sprintf(msg, args...), nil)
}

func Internal(err error, msg string, args ...any) *AppError {
	return new(InternalError, fmt.Sprintf(msg, args...), err)
}

// Is reports whether the first AppError in err's chain carries the given
// Code; an AppError wrapped inside another AppError is not examined.
func Is(err error, code Code) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
