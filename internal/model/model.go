// Package model defines the persisted record types shared by every
// component of the sync and send engine.
package model

import "time"

// MailerType identifies which vendor protocol an account uses.
type MailerType string

const (
	MailerImapSmtp MailerType = "imap_smtp"
	MailerGmailAPI MailerType = "gmail_api"
	MailerGraphAPI MailerType = "graph_api"
)

// Encryption identifies the transport security an IMAP/SMTP endpoint uses.
type Encryption string

const (
	EncryptionSSL      Encryption = "ssl"
	EncryptionStartTLS Encryption = "starttls"
	EncryptionNone     Encryption = "none"
)

// AuthType identifies how an account authenticates to its vendor.
type AuthType string

const (
	AuthPassword AuthType = "password"
	AuthOAuth2   AuthType = "oauth2"
)

// AuthConfig holds an account's credential material.
type AuthConfig struct {
	Type     AuthType
	Password string // opaque, already decrypted by the caller
	// OAuth2TokenKey references the store row holding the refreshable
	// oauth2.Token for this account (see vendoradapter/gmail.TokenStore).
	OAuth2TokenKey string
}

// ImapConfig describes how to reach an account's IMAP endpoint.
type ImapConfig struct {
	Host       string
	Port       int
	Encryption Encryption
}

// SmtpConfig describes how to reach an account's SMTP endpoint.
type SmtpConfig struct {
	Host       string
	Port       int
	Encryption Encryption
}

// Account is a single mailbox the engine synchronizes and sends on
// behalf of.
type Account struct {
	ID          string
	Email       string
	MailerType  MailerType
	Imap        *ImapConfig // nil unless MailerType == MailerImapSmtp
	Smtp        *SmtpConfig // nil unless MailerType == MailerImapSmtp
	Auth        AuthConfig
	ProxyID     string // optional, references Proxy.ID
	// Capabilities holds IMAP server-advertised capability strings
	// (e.g. "CONDSTORE", "UIDPLUS"), refreshed on each connect.
	Capabilities []string
	// KnownFolders is a sorted set of folder/label names/ids the engine
	// has observed for this account.
	KnownFolders []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SyncType identifies how the next sync for an account/mailbox should run.
type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
	SyncSkip        SyncType = "skip"
)

// AccountRunningState is the live/persisted sync status for an account.
type AccountRunningState struct {
	AccountID string
	// LastSyncAt is updated after every completed sync attempt,
	// success or failure.
	LastSyncAt time.Time
	// LastSyncType records which SyncType the last completed sync used.
	LastSyncType SyncType
	// LastError holds the most recent sync error message, cleared on
	// the next success.
	LastError string
	// Errors is a bounded ring of the most recent error messages,
	// capacity 20, oldest evicted first.
	Errors []string
	// Running is true while a sync for this account is in flight; the
	// periodic trigger skips an account whose previous tick is still
	// running.
	Running bool
}

const MaxErrorRingSize = 20

// PushError appends msg to the bounded error ring, evicting the oldest
// entry once the ring is full.
func (s *AccountRunningState) PushError(msg string) {
	s.LastError = msg
	s.Errors = append(s.Errors, msg)
	if len(s.Errors) > MaxErrorRingSize {
		s.Errors = s.Errors[len(s.Errors)-MaxErrorRingSize:]
	}
}

// GmailCheckPoint is the Gmail history-id watermark for an account,
// scoped per label when a sync is restricted to one label.
type GmailCheckPoint struct {
	AccountID string
	LabelID   string // "" means "whole mailbox"
	HistoryID uint64
}

// FolderDeltaLink is the Graph delta-sync watermark for one folder.
type FolderDeltaLink struct {
	AccountID  string
	FolderID   string
	DeltaLink  string
	NextLink   string
	UpdatedAt  time.Time
}

// MailboxKind distinguishes the three vendor mailbox shapes the engine
// unifies under one cache row.
type MailboxKind string

const (
	MailboxIMAPFolder  MailboxKind = "imap_folder"
	MailboxGmailLabel  MailboxKind = "gmail_label"
	MailboxGraphFolder MailboxKind = "graph_folder"
)

// Mailbox is the vendor-neutral view of an IMAP folder, Gmail label, or
// Graph mail folder.
type Mailbox struct {
	ID          string // stable cache id, independent of display name
	AccountID   string
	Kind        MailboxKind
	Name        string // display name / path
	NativeID    string // vendor-native id (label id, folder id); "" for IMAP
	Subscribed  bool
	UIDValidity uint32 // IMAP only
}

// AddressEntity is a single normalized email address extracted from an
// envelope's To/Cc/Bcc/From headers.
type AddressEntity struct {
	EnvelopeID string
	Kind       string // "from", "to", "cc", "bcc"
	Name       string
	Address    string
}

// Envelope is the cached metadata for one message, independent of vendor.
type Envelope struct {
	ID           string // content hash or vendor-native id, stable across syncs
	AccountID    string
	MailboxID    string
	ThreadID     string
	MessageID    string // RFC 5322 Message-ID header, if present
	InReplyTo    string
	References   []string
	Subject      string
	From         AddressEntity
	To           []AddressEntity
	Cc           []AddressEntity
	Bcc          []AddressEntity
	Flags        []string
	Size         int64
	InternalDate time.Time
	// BounceOf, when non-empty, is the SendEmailTask.ID this envelope
	// was classified as a delivery bounce for.
	BounceOf string
}

// EmailThread groups envelopes that share a thread id. EnvelopeID always
// points at the representative envelope: the one with the greatest
// InternalDate seen so far for this thread.
type EmailThread struct {
	ID         string
	AccountID  string
	MailboxID  string
	EnvelopeID string
	LatestDate time.Time
}

// CacheItem is the metadata row backing one blob in the disk artifact
// cache.
type CacheItem struct {
	Key          string
	Size         int64
	Pending      bool
	WriteAt      time.Time
	LastAccessAt time.Time
}

// Proxy is a SOCKS5 proxy endpoint accounts may route connections through.
type Proxy struct {
	ID        string
	URL       string // socks5://[user:pass@]host:port
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MTA is an outbound relay accounts may send through instead of their
// own SMTP endpoint.
type MTA struct {
	ID           string
	Host         string
	Port         int
	Encryption   Encryption
	Username     string
	Password     string
	ProxyID      string
	LastAccessAt time.Time
}

// SendTaskStatus is the state-machine status of an outbound send task.
type SendTaskStatus string

const (
	TaskScheduled SendTaskStatus = "scheduled"
	TaskRunning   SendTaskStatus = "running"
	TaskSuccess   SendTaskStatus = "success"
	TaskFailed    SendTaskStatus = "failed"
	TaskStopped   SendTaskStatus = "stopped"
)

// ReplyKind distinguishes a fresh send from a reply/forward composition.
type ReplyKind string

const (
	ReplyNone    ReplyKind = ""
	ReplyReply   ReplyKind = "reply"
	ReplyReplyAll ReplyKind = "reply_all"
	ReplyForward ReplyKind = "forward"
)

// AnswerEmail carries the reply/forward composition metadata for a task,
// when ReplyKind != ReplyNone. The sender looks OriginalEnvelope up in
// the cache to render the "On <date>, <from> wrote:" header above the
// quoted body, so QuoteHTML/QuoteText hold only the original message's
// raw body, not a pre-rendered quote.
type AnswerEmail struct {
	Kind             ReplyKind
	OriginalEnvelope string // Envelope.ID being replied to/forwarded
	QuoteHTML        string
	QuoteText        string
}

// SendEmailTask is a durable outbound send request.
type SendEmailTask struct {
	ID            string
	AccountID     string
	MTAID         string // "" means use the account's own SMTP config
	From          string
	To            []string
	Cc            []string
	Bcc           []string
	Subject       string
	HTMLBody      string
	TextBody      string
	Attachments   []Attachment
	RequestDSN    bool
	TrackOpens    bool
	TrackClicks   bool
	CampaignID    string
	Answer        *AnswerEmail

	Status        SendTaskStatus
	Attempt       int
	MaxAttempts   int
	NextAttemptAt time.Time
	LastError     string
	MessageID     string // assigned once sent
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Attachment is a single outbound attachment payload, referenced by disk
// cache key rather than embedded inline.
type Attachment struct {
	Filename    string
	ContentType string
	CacheKey    string
}
