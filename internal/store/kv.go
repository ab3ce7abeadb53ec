// Package store provides the key-value façade the rest of the engine is
// built on: a namespaced bolt-backed KV interface, and a typed Store[T]
// layered on top that adds primary/secondary indices, pagination and
// transactional batch deletes.
package store

import (
	"sync"

	"github.com/boltdb/bolt"
)

// KV is a namespaced byte-oriented key-value store, kept minimal so the
// higher-level Store[T] façade can be built on any backend that
// implements it.
type KV interface {
	Set(ns, k string, v []byte)
	Get(ns, k string) ([]byte, bool)
	Del(ns, k string)
	Items(ns string, ks chan<- string)
	Close()
}

// BoltKV is the bolt-backed KV implementation, adding read-write
// transactions and ordered bucket scans (needed by Store[T] for
// pagination) on top of the plain namespaced KV contract.
type BoltKV struct {
	db *bolt.DB
}

// OpenBolt opens (creating if necessary) a bolt database at path.
func OpenBolt(path string) (*BoltKV, error) {
	db, err := bolt.Open(path, 0666, nil)
	if err != nil {
		return nil, err
	}
	return &BoltKV{db: db}, nil
}

func (c *BoltKV) Close() { _ = c.db.Close() }

func (c *BoltKV) Set(ns, k string, v []byte) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return err
		}
		return b.Put([]byte(k), v)
	}); err != nil {
		panic(err)
	}
}

func (c *BoltKV) Get(ns, k string) ([]byte, bool) {
	var b []byte
	var ok bool
	if err := c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(ns))
		if bk == nil {
			return nil
		}
		v := bk.Get([]byte(k))
		if v == nil {
			return nil
		}
		b = append([]byte(nil), v...)
		ok = true
		return nil
	}); err != nil {
		panic(err)
	}
	return b, ok
}

func (c *BoltKV) Del(ns, k string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b != nil {
			return b.Delete([]byte(k))
		}
		return nil
	}); err != nil {
		panic(err)
	}
}

func (c *BoltKV) Items(ns string, ks chan<- string) {
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket([]byte(ns))
			if b == nil {
				return nil
			}
			return b.ForEach(func(k, _ []byte) error {
				ks <- string(k)
				return nil
			})
		}); err != nil {
			panic(err)
		}
	}()
	wg.Wait()
	close(ks)
}

// Update runs fn in a read-write bolt transaction.
func (c *BoltKV) Update(fn func(tx *bolt.Tx) error) error {
	return c.db.Update(fn)
}

// View runs fn in a read-only bolt transaction.
func (c *BoltKV) View(fn func(tx *bolt.Tx) error) error {
	return c.db.View(fn)
}
