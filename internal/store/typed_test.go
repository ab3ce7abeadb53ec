package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ID     string
	Group  string
	Rank   int
}

func (r testRecord) PrimaryKey() string { return r.ID }

func (r testRecord) SecondaryKeys() map[string]string {
	return map[string]string{"group": r.Group}
}

func newTestStore(t *testing.T) *Store[testRecord] {
	t.Helper()
	kv, err := OpenBolt(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(kv.Close)
	return New[testRecord](kv, "records")
}

func TestStorePutAndFindByPrimary(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(testRecord{ID: "a", Group: "g1", Rank: 1}))

	got, ok := s.FindByPrimary("a")
	require.True(t, ok)
	require.Equal(t, 1, got.Rank)

	_, ok = s.FindByPrimary("missing")
	require.False(t, ok)
}

func TestStoreSecondaryIndexUpdatesOnRewrite(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(testRecord{ID: "a", Group: "g1"}))

	g1, err := s.FindBySecondary("group", "g1")
	require.NoError(t, err)
	require.Len(t, g1, 1)

	// Moving "a" to a new group must drop the stale g1 index entry.
	require.NoError(t, s.Put(testRecord{ID: "a", Group: "g2"}))

	g1, err = s.FindBySecondary("group", "g1")
	require.NoError(t, err)
	require.Empty(t, g1)

	g2, err := s.FindBySecondary("group", "g2")
	require.NoError(t, err)
	require.Len(t, g2, 1)
}

func TestStorePaginateByPrimary(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.Put(testRecord{ID: id, Group: "g"}))
	}

	page, err := s.PaginateByPrimary("", 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, "a", page.Items[0].ID)
	require.Equal(t, "b", page.Items[1].ID)
	require.NotEmpty(t, page.NextCursor)

	page2, err := s.PaginateByPrimary(page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page2.Items, 2)
	require.Equal(t, "c", page2.Items[0].ID)
	require.Equal(t, "d", page2.Items[1].ID)

	page3, err := s.PaginateByPrimary(page2.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page3.Items, 1)
	require.Equal(t, "e", page3.Items[0].ID)
	require.Empty(t, page3.NextCursor, "last page must not advertise a further cursor")
}

func TestStoreDeleteRemovesSecondaryIndex(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(testRecord{ID: "a", Group: "g1"}))
	require.NoError(t, s.Delete("a"))

	_, ok := s.FindByPrimary("a")
	require.False(t, ok)

	got, err := s.FindBySecondary("group", "g1")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStoreBatchDeleteBySecondary(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 7; i++ {
		require.NoError(t, s.Put(testRecord{ID: string(rune('a' + i)), Group: "g"}))
	}

	n, err := s.BatchDeleteBySecondary("group", "g", 3)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	remaining, err := s.FindBySecondary("group", "g")
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestStoreWithTransaction(t *testing.T) {
	s := newTestStore(t)
	err := s.WithTransaction(func(tx *TxStore[testRecord]) error {
		if err := tx.Put(testRecord{ID: "x", Group: "g"}); err != nil {
			return err
		}
		return tx.Put(testRecord{ID: "y", Group: "g"})
	})
	require.NoError(t, err)

	all, err := s.AllByPrimary()
	require.NoError(t, err)
	require.Len(t, all, 2)
}
