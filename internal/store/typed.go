package store

import (
	"bytes"
	"encoding/gob"
	"sort"

	"github.com/boltdb/bolt"
)

// Keyer is implemented by record types persisted through Store[T]: it
// reports the record's primary key and the set of secondary index
// values it should be found under.
type Keyer interface {
	// PrimaryKey returns the record's unique id within its bucket.
	PrimaryKey() string
	// SecondaryKeys returns a map of index-name -> index-value for every
	// secondary index the record participates in. An index value of ""
	// is skipped (the record is simply absent from that index).
	SecondaryKeys() map[string]string
}

// Store is a generic façade over a primary bucket plus one secondary
// index bucket per declared index, all within a single *bolt.DB,
// layering primary/secondary indices and pagination on top of a flat
// namespaced KV store.
type Store[T Keyer] struct {
	db     *BoltKV
	bucket string
}

// New returns a Store for records of type T stored in the named primary
// bucket.
func New[T Keyer](db *BoltKV, bucket string) *Store[T] {
	return &Store[T]{db: db, bucket: bucket}
}

func (s *Store[T]) primaryBucket() string { return s.bucket }

func (s *Store[T]) secondaryBucket(index string) string {
	return s.bucket + "__idx__" + index
}

func encode[T any](v T) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func decode[T any](b []byte) T {
	var v T
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		panic(err)
	}
	return v
}

// Put inserts or replaces a record, maintaining every secondary index it
// declares. Any stale secondary-index entries pointing at the record's
// primary key (from a previous value with different index values) are
// removed first.
func (s *Store[T]) Put(v T) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.putTx(tx, v)
	})
}

func (s *Store[T]) putTx(tx *bolt.Tx, v T) error {
	pb, err := tx.CreateBucketIfNotExists([]byte(s.primaryBucket()))
	if err != nil {
		return err
	}
	pk := v.PrimaryKey()
	// Remove stale secondary entries for the old value, if present.
	if old := pb.Get([]byte(pk)); old != nil {
		oldV := decode[T](old)
		for idx, val := range oldV.SecondaryKeys() {
			if val == "" {
				continue
			}
			ib, err := tx.CreateBucketIfNotExists([]byte(s.secondaryBucket(idx)))
			if err != nil {
				return err
			}
			if err := ib.Delete(compositeKey(val, pk)); err != nil {
				return err
			}
		}
	}
	if err := pb.Put([]byte(pk), encode(v)); err != nil {
		return err
	}
	for idx, val := range v.SecondaryKeys() {
		if val == "" {
			continue
		}
		ib, err := tx.CreateBucketIfNotExists([]byte(s.secondaryBucket(idx)))
		if err != nil {
			return err
		}
		if err := ib.Put(compositeKey(val, pk), []byte(pk)); err != nil {
			return err
		}
	}
	return nil
}

// compositeKey builds a secondary-index key that sorts by index value
// then by primary key, so range scans over an index value yield stable
// ordering.
func compositeKey(val, pk string) []byte {
	return []byte(val + "\x00" + pk)
}

// FindByPrimary looks up a single record by primary key.
func (s *Store[T]) FindByPrimary(pk string) (T, bool) {
	var v T
	var ok bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(s.primaryBucket()))
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(pk))
		if raw == nil {
			return nil
		}
		v = decode[T](raw)
		ok = true
		return nil
	})
	return v, ok
}

// FindBySecondary returns every record whose named index has value val.
func (s *Store[T]) FindBySecondary(index, val string) ([]T, error) {
	var out []T
	err := s.db.View(func(tx *bolt.Tx) error {
		ib := tx.Bucket([]byte(s.secondaryBucket(index)))
		pb := tx.Bucket([]byte(s.primaryBucket()))
		if ib == nil || pb == nil {
			return nil
		}
		c := ib.Cursor()
		prefix := []byte(val + "\x00")
		for k, pk := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, pk = c.Next() {
			raw := pb.Get(pk)
			if raw == nil {
				continue
			}
			out = append(out, decode[T](raw))
		}
		return nil
	})
	return out, err
}

// FilterBySecondary returns every record in index whose value satisfies
// pred, scanning the whole index bucket. Use FindBySecondary when an
// exact value match suffices; FilterBySecondary is for range/predicate
// queries (e.g. "all accounts with a non-empty proxy").
func (s *Store[T]) FilterBySecondary(index string, pred func(val string) bool) ([]T, error) {
	var out []T
	err := s.db.View(func(tx *bolt.Tx) error {
		ib := tx.Bucket([]byte(s.secondaryBucket(index)))
		pb := tx.Bucket([]byte(s.primaryBucket()))
		if ib == nil || pb == nil {
			return nil
		}
		return ib.ForEach(func(k, pk []byte) error {
			parts := bytes.SplitN(k, []byte{0}, 2)
			if len(parts) != 2 || !pred(string(parts[0])) {
				return nil
			}
			raw := pb.Get(pk)
			if raw == nil {
				return nil
			}
			out = append(out, decode[T](raw))
			return nil
		})
	})
	return out, err
}

// Page is one page of a primary-key scan.
type Page[T any] struct {
	Items      []T
	NextCursor string // empty when there are no more pages
}

// PaginateByPrimary returns up to limit records in primary-key order,
// starting after cursor (exclusive). Pass cursor="" to start from the
// beginning.
func (s *Store[T]) PaginateByPrimary(cursor string, limit int) (Page[T], error) {
	var page Page[T]
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(s.primaryBucket()))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var k, v []byte
		if cursor == "" {
			k, v = c.First()
		} else {
			k, v = c.Seek([]byte(cursor))
			if k != nil && string(k) == cursor {
				k, v = c.Next()
			}
		}
		for ; k != nil && len(page.Items) < limit; k, v = c.Next() {
			page.Items = append(page.Items, decode[T](v))
			page.NextCursor = string(k)
		}
		// If we stopped because we hit limit, k already holds the record
		// after the last one taken; surface NextCursor only if it exists.
		if len(page.Items) < limit || k == nil {
			page.NextCursor = ""
		}
		return nil
	})
	return page, err
}

// PaginateBySecondary mirrors PaginateByPrimary but walks a secondary
// index bucket restricted to a single index value, ordered by primary
// key within that value.
func (s *Store[T]) PaginateBySecondary(index, val, cursor string, limit int) (Page[T], error) {
	var page Page[T]
	err := s.db.View(func(tx *bolt.Tx) error {
		ib := tx.Bucket([]byte(s.secondaryBucket(index)))
		pb := tx.Bucket([]byte(s.primaryBucket()))
		if ib == nil || pb == nil {
			return nil
		}
		prefix := []byte(val + "\x00")
		c := ib.Cursor()
		k, pk := c.Seek(prefix)
		if cursor != "" {
			startKey := compositeKey(val, cursor)
			k, pk = c.Seek(startKey)
			if k != nil && bytes.Equal(k, startKey) {
				k, pk = c.Next()
			}
		}
		for ; k != nil && bytes.HasPrefix(k, prefix) && len(page.Items) < limit; k, pk = c.Next() {
			raw := pb.Get(pk)
			if raw == nil {
				continue
			}
			page.Items = append(page.Items, decode[T](raw))
			page.NextCursor = string(pk)
		}
		if len(page.Items) < limit || k == nil || !bytes.HasPrefix(k, prefix) {
			page.NextCursor = ""
		}
		return nil
	})
	return page, err
}

// Delete removes a record and its secondary index entries.
func (s *Store[T]) Delete(pk string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.deleteTx(tx, pk)
	})
}

func (s *Store[T]) deleteTx(tx *bolt.Tx, pk string) error {
	pb := tx.Bucket([]byte(s.primaryBucket()))
	if pb == nil {
		return nil
	}
	raw := pb.Get([]byte(pk))
	if raw == nil {
		return nil
	}
	v := decode[T](raw)
	for idx, val := range v.SecondaryKeys() {
		if val == "" {
			continue
		}
		if ib := tx.Bucket([]byte(s.secondaryBucket(idx))); ib != nil {
			if err := ib.Delete(compositeKey(val, pk)); err != nil {
				return err
			}
		}
	}
	return pb.Delete([]byte(pk))
}

// BatchDeleteBySecondary deletes every record matching index=val in
// batches of batchSize, committing one bolt transaction per batch, until
// none remain. It returns the total number of deleted records. This
// mirrors the disk cache and envelope cache's "clean_account"-style bulk
// deletes, which must not hold a single oversized write transaction.
func (s *Store[T]) BatchDeleteBySecondary(index, val string, batchSize int) (int, error) {
	total := 0
	for {
		n, err := s.deleteOneBatch(index, val, batchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 {
			return total, nil
		}
	}
}

func (s *Store[T]) deleteOneBatch(index, val string, batchSize int) (int, error) {
	var pks []string
	err := s.db.View(func(tx *bolt.Tx) error {
		ib := tx.Bucket([]byte(s.secondaryBucket(index)))
		if ib == nil {
			return nil
		}
		c := ib.Cursor()
		prefix := []byte(val + "\x00")
		for k, pk := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix) && len(pks) < batchSize; k, pk = c.Next() {
			pks = append(pks, string(pk))
		}
		return nil
	})
	if err != nil || len(pks) == 0 {
		return 0, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		for _, pk := range pks {
			if err := s.deleteTx(tx, pk); err != nil {
				return err
			}
		}
		return nil
	})
	return len(pks), err
}

// WithTransaction runs fn with a TxStore bound to a single read-write
// bolt transaction, so multiple Put/Delete calls commit atomically.
func (s *Store[T]) WithTransaction(fn func(tx *TxStore[T]) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&TxStore[T]{s: s, tx: tx})
	})
}

// TxStore exposes Put/Delete bound to an in-flight transaction.
type TxStore[T Keyer] struct {
	s  *Store[T]
	tx *bolt.Tx
}

func (t *TxStore[T]) Put(v T) error     { return t.s.putTx(t.tx, v) }
func (t *TxStore[T]) Delete(pk string) error { return t.s.deleteTx(t.tx, pk) }

// AllByPrimary returns every record in primary-key order. Intended for
// small buckets (accounts, proxies, MTAs); large tables should use
// PaginateByPrimary instead.
func (s *Store[T]) AllByPrimary() ([]T, error) {
	var out []T
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(s.primaryBucket()))
		if b == nil {
			return nil
		}
		keys := make([][]byte, 0)
		if err := b.ForEach(func(k, _ []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}
		sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
		for _, k := range keys {
			out = append(out, decode[T](b.Get(k)))
		}
		return nil
	})
	return out, err
}
