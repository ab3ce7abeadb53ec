package gmail

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/mailcore/engine/internal/cache"
	"github.com/mailcore/engine/internal/diskcache"
	"github.com/mailcore/engine/internal/model"
	"github.com/mailcore/engine/internal/store"
	gmailapi "google.golang.org/api/gmail/v1"
)

type fakeService struct {
	msgs     map[string]string
	metadata map[string]*gmailapi.Message
	labels   *gmailapi.ListLabelsResponse
	history  *gmailapi.ListHistoryResponse
	messages *gmailapi.ListMessagesResponse
}

func (s *fakeService) GetRawMessage(id string) (string, error) {
	if m, ok := s.msgs[id]; ok {
		return m, nil
	}
	return "", errors.New("not found")
}

func (s *fakeService) GetMetadata(id string) (*gmailapi.Message, error) {
	if m, ok := s.metadata[id]; ok {
		return m, nil
	}
	return nil, errors.New("not found")
}

func (s *fakeService) GetLabels() (*gmailapi.ListLabelsResponse, error) {
	return s.labels, nil
}

func (s *fakeService) GetHistory(historyID uint64, labelID, page string) (*gmailapi.ListHistoryResponse, error) {
	return s.history, nil
}

func (s *fakeService) GetMessages(labelID, page string) (*gmailapi.ListMessagesResponse, error) {
	return s.messages, nil
}

func newTestAdapter(t *testing.T, svc service) *Adapter {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(db.Close)
	disk, err := diskcache.New(filepath.Join(t.TempDir(), "blobs"), db.CacheItems)
	if err != nil {
		t.Fatalf("open disk cache: %v", err)
	}
	return &Adapter{
		accountID: "acct-1",
		svc:       svc,
		db:        db,
		cache:     cache.New(db),
		disk:      disk,
	}
}

func TestListMailboxesMapsLabels(t *testing.T) {
	svc := &fakeService{labels: &gmailapi.ListLabelsResponse{Labels: []*gmailapi.Label{
		{Id: "INBOX", Name: "INBOX"},
		{Id: "Label_1", Name: "Projects"},
	}}}
	a := newTestAdapter(t, svc)

	mbs, err := a.ListMailboxes(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mbs) != 2 {
		t.Fatalf("got %d mailboxes, want 2", len(mbs))
	}
	if mbs[0].ID != "INBOX" || mbs[0].Kind != model.MailboxGmailLabel {
		t.Errorf("unexpected first mailbox: %+v", mbs[0])
	}
}

func TestDetermineSyncTypeFullWhenNoCheckpoint(t *testing.T) {
	a := newTestAdapter(t, &fakeService{})
	st, err := a.DetermineSyncType(nil, "INBOX", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != model.SyncFull {
		t.Errorf("DetermineSyncType = %v, want SyncFull", st)
	}
}

func TestDetermineSyncTypeIncrementalAfterCheckpoint(t *testing.T) {
	a := newTestAdapter(t, &fakeService{})
	if err := a.setCheckpoint("INBOX", 100); err != nil {
		t.Fatalf("setCheckpoint: %v", err)
	}
	st, err := a.DetermineSyncType(nil, "INBOX", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != model.SyncIncremental {
		t.Errorf("DetermineSyncType = %v, want SyncIncremental", st)
	}
}

func TestDetermineSyncTypeForceFullOverridesCheckpoint(t *testing.T) {
	a := newTestAdapter(t, &fakeService{})
	if err := a.setCheckpoint("INBOX", 100); err != nil {
		t.Fatalf("setCheckpoint: %v", err)
	}
	st, err := a.DetermineSyncType(nil, "INBOX", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != model.SyncFull {
		t.Errorf("DetermineSyncType = %v, want SyncFull when forceFull is set", st)
	}
}

func TestLabelsChangedDetectsAdditionsAndRemovals(t *testing.T) {
	if labelsChanged([]string{"a", "b"}, []string{"b", "a"}) {
		t.Error("reordered identical label sets should not be considered changed")
	}
	if !labelsChanged([]string{"a", "b"}, []string{"a"}) {
		t.Error("removed label should be detected as a change")
	}
	if !labelsChanged([]string{"a"}, []string{"a", "b"}) {
		t.Error("added label should be detected as a change")
	}
}

