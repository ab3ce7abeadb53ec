package syncengine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/mailcore/engine/internal/logging"
	"github.com/mailcore/engine/internal/model"
	"github.com/mailcore/engine/internal/store"
	"github.com/mailcore/engine/internal/vendoradapter"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	mailboxes  []model.Mailbox
	syncErr    error
	listErr    error
	syncCalls  int32
}

func (f *fakeAdapter) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.mailboxes, nil
}

func (f *fakeAdapter) DetermineSyncType(ctx context.Context, mailboxID string, forceFull bool) (model.SyncType, error) {
	return model.SyncFull, nil
}

func (f *fakeAdapter) Sync(ctx context.Context, mailboxID string, syncType model.SyncType, progress chan<- vendoradapter.Progress) (vendoradapter.SyncResult, error) {
	atomic.AddInt32(&f.syncCalls, 1)
	if f.syncErr != nil {
		return vendoradapter.SyncResult{}, f.syncErr
	}
	return vendoradapter.SyncResult{Type: syncType, EnvelopesAdded: 1}, nil
}

func (f *fakeAdapter) CreateMailbox(ctx context.Context, name string) (model.Mailbox, error) { return model.Mailbox{}, nil }
func (f *fakeAdapter) DeleteMailbox(ctx context.Context, mailboxID string) error             { return nil }
func (f *fakeAdapter) RenameMailbox(ctx context.Context, mailboxID, newName string) error    { return nil }
func (f *fakeAdapter) SetSubscribed(ctx context.Context, mailboxID string, subscribed bool) error {
	return nil
}
func (f *fakeAdapter) CopyMessages(ctx context.Context, src, dst string, ids []string) error { return nil }
func (f *fakeAdapter) MoveMessages(ctx context.Context, src, dst string, ids []string) error { return nil }
func (f *fakeAdapter) SetFlags(ctx context.Context, mailboxID string, ids []string, add, remove []string) error {
	return nil
}
func (f *fakeAdapter) FetchRaw(ctx context.Context, envelopeID string) ([]byte, error) { return nil, nil }
func (f *fakeAdapter) AppendSent(ctx context.Context, raw []byte) error                { return nil }

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestSyncAccountSyncsEveryMailbox(t *testing.T) {
	db := newTestDB(t)
	fa := &fakeAdapter{mailboxes: []model.Mailbox{{ID: "INBOX"}, {ID: "Sent"}, {ID: "Archive"}}}
	eng := New(db, 2, func(ctx context.Context, acct model.Account) (vendoradapter.Adapter, error) {
		return fa, nil
	}, logging.NewConsole("error"))

	res := eng.SyncAccount(context.Background(), model.Account{ID: "acct-1"}, false)

	require.Empty(t, res.Errs)
	require.Equal(t, 3, res.Mailboxes)
	require.EqualValues(t, 3, fa.syncCalls)

	state, ok := db.RunningState.FindByPrimary("acct-1")
	require.True(t, ok)
	require.False(t, state.Running)
}

func TestSyncAccountRecordsAdapterConstructionError(t *testing.T) {
	db := newTestDB(t)
	wantErr := errors.New("missing oauth token")
	eng := New(db, 2, func(ctx context.Context, acct model.Account) (vendoradapter.Adapter, error) {
		return nil, wantErr
	}, logging.NewConsole("error"))

	res := eng.SyncAccount(context.Background(), model.Account{ID: "acct-1"}, false)
	require.Len(t, res.Errs, 1)
	require.ErrorIs(t, res.Errs[0], wantErr)
}

func TestSyncAccountCollectsPerMailboxErrors(t *testing.T) {
	db := newTestDB(t)
	fa := &fakeAdapter{
		mailboxes: []model.Mailbox{{ID: "INBOX"}},
		syncErr:   errors.New("imap connection reset"),
	}
	eng := New(db, 2, func(ctx context.Context, acct model.Account) (vendoradapter.Adapter, error) {
		return fa, nil
	}, logging.NewConsole("error"))

	res := eng.SyncAccount(context.Background(), model.Account{ID: "acct-1"}, false)
	require.Len(t, res.Errs, 1)
}

func TestTryBeginAccountCoalescesConcurrentTicks(t *testing.T) {
	db := newTestDB(t)
	eng := New(db, 2, func(ctx context.Context, acct model.Account) (vendoradapter.Adapter, error) {
		return &fakeAdapter{}, nil
	}, logging.NewConsole("error"))

	require.True(t, eng.TryBeginAccount("acct-1"))
	require.False(t, eng.TryBeginAccount("acct-1"), "second concurrent begin for the same account must be rejected")
	eng.FinishAccount("acct-1")
	require.True(t, eng.TryBeginAccount("acct-1"), "begin should succeed again once finished")
}
