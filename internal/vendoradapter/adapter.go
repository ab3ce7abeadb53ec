// Package vendoradapter defines the uniform interface every mail vendor
// backend (IMAP, Gmail, Graph) implements, so the sync orchestrator and
// send pipeline never branch on vendor type.
package vendoradapter

import (
	"context"

	"github.com/mailcore/engine/internal/model"
)

// SyncResult summarizes one sync pass over an account.
type SyncResult struct {
	Type           model.SyncType
	EnvelopesAdded int
	EnvelopesMoved int
	EnvelopesDeleted int
}

// Progress reports incremental sync progress for a single folder/label.
type Progress struct {
	Folder  string
	Current int64
	Total   int64
}

// Adapter is implemented by every vendor backend.
type Adapter interface {
	// ListMailboxes returns the vendor's current folder/label set.
	ListMailboxes(ctx context.Context) ([]model.Mailbox, error)
	// DetermineSyncType decides whether the next sync should be full,
	// incremental, or skipped, based on persisted checkpoints.
	DetermineSyncType(ctx context.Context, mailboxID string, forceFull bool) (model.SyncType, error)
	// Sync performs a full or incremental sync of one mailbox, emitting
	// progress on the given channel (may be nil).
	Sync(ctx context.Context, mailboxID string, syncType model.SyncType, progress chan<- Progress) (SyncResult, error)

	// CreateMailbox, DeleteMailbox, RenameMailbox, Subscribe,
	// Unsubscribe mutate vendor-side folder state.
	CreateMailbox(ctx context.Context, name string) (model.Mailbox, error)
	DeleteMailbox(ctx context.Context, mailboxID string) error
	RenameMailbox(ctx context.Context, mailboxID, newName string) error
	SetSubscribed(ctx context.Context, mailboxID string, subscribed bool) error

	// CopyMessages, MoveMessages, SetFlags mutate message state.
	CopyMessages(ctx context.Context, srcMailboxID, dstMailboxID string, envelopeIDs []string) error
	MoveMessages(ctx context.Context, srcMailboxID, dstMailboxID string, envelopeIDs []string) error
	SetFlags(ctx context.Context, mailboxID string, envelopeIDs []string, add, remove []string) error

	// FetchRaw returns the raw RFC 5322 message bytes for an envelope,
	// fetched from the vendor on every call; implementations neither read
	// nor populate the disk cache.
	FetchRaw(ctx context.Context, envelopeID string) ([]byte, error)

	// AppendSent appends a just-sent raw message to the account's sent
	// folder, used by the send pipeline after a successful delivery.
	AppendSent(ctx context.Context, raw []byte) error
}
