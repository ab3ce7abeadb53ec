// Package diskcache is the content-addressed on-disk blob store for
// message bodies and attachments, with LRU-by-access eviction. The
// eviction algorithm (threshold, grace period, item cap, mount-prefix
// disk usage resolution) is ported from the original Rust disk cache.
package diskcache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mailcore/engine/internal/model"
	"github.com/mailcore/engine/internal/store"
	"golang.org/x/sys/unix"
)

const (
	// DiskUsageThresholdPercent triggers eviction once crossed.
	DiskUsageThresholdPercent = 85.0
	// PendingGrace protects items mid-write from eviction for a week.
	PendingGrace = 7 * 24 * time.Hour
	// MaxItems is the hard cap on cached blob count.
	MaxItems = 10000
)

// Cache is the disk artifact cache.
type Cache struct {
	dir   string
	items *store.Store[model.CacheItem]
}

// New returns a Cache rooted at dir, using items for metadata rows.
func New(dir string, items *store.Store[model.CacheItem]) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir, items: items}, nil
}

// Key returns the content-addressed cache key for data.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *Cache) path(key string) string {
	// Two-level fan-out directory to avoid huge flat directories.
	if len(key) >= 4 {
		return filepath.Join(c.dir, key[:2], key[2:4], key)
	}
	return filepath.Join(c.dir, key)
}

// Put writes data under its content-addressed key, recording a pending
// CacheItem row, then marks the row non-pending once the write
// completes. Returns the key.
func (c *Cache) Put(data []byte) (string, error) {
	key := Key(data)
	p := c.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", err
	}
	now := time.Now()
	item := model.CacheItem{Key: key, Size: int64(len(data)), Pending: true, WriteAt: now, LastAccessAt: now}
	if err := c.items.Put(item); err != nil {
		return "", err
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		_ = c.items.Delete(key)
		return "", err
	}
	item.Pending = false
	if err := c.items.Put(item); err != nil {
		return "", err
	}
	return key, nil
}

// Get reads the blob for key, bumping its last-access time.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	item, ok := c.items.FindByPrimary(key)
	if !ok {
		return nil, false, nil
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			_ = c.items.Delete(key)
			return nil, false, nil
		}
		return nil, false, err
	}
	item.LastAccessAt = time.Now()
	if err := c.items.Put(item); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Clear removes the blob and metadata row for key.
func (c *Cache) Clear(key string) error {
	_ = os.Remove(c.path(key))
	return c.items.Delete(key)
}

// diskUsageBytes returns the total and used space, in bytes, of the
// filesystem mounted at (or above) dir, resolved by walking up dir's
// ancestors until Statfs succeeds -- the Go analogue of the original's
// deepest-matching-mount-point lookup.
func diskUsageBytes(dir string) (total, used float64, err error) {
	var st unix.Statfs_t
	p := dir
	for {
		if err := unix.Statfs(p, &st); err == nil {
			break
		}
		parent := filepath.Dir(p)
		if parent == p {
			return 0, 0, os.ErrNotExist
		}
		p = parent
	}
	total = float64(st.Blocks) * float64(st.Bsize)
	free := float64(st.Bfree) * float64(st.Bsize)
	return total, total - free, nil
}

// CleanIfNeeded runs the five-step eviction algorithm:
//  1. list all CacheItem rows, sorted ascending by LastAccessAt
//  2. compute disk usage percentage for the cache directory's mount
//  3. skip entirely if usage is below DiskUsageThresholdPercent and the
//     item count is at or below MaxItems
//  4. walk the sorted list, skipping pending items younger than
//     PendingGrace
//  5. delete items until usage is below the threshold AND the item
//     count is at or below MaxItems
func (c *Cache) CleanIfNeeded() (deleted int, err error) {
	items, err := c.items.AllByPrimary()
	if err != nil {
		return 0, err
	}
	total, used, err := diskUsageBytes(c.dir)
	if err != nil {
		return 0, err
	}
	usagePct := func() float64 {
		if total == 0 {
			return 0
		}
		return used / total * 100.0
	}
	if usagePct() < DiskUsageThresholdPercent && len(items) <= MaxItems {
		return 0, nil
	}
	sort.Slice(items, func(i, j int) bool { return items[i].LastAccessAt.Before(items[j].LastAccessAt) })

	now := time.Now()
	remaining := len(items)
	for _, item := range items {
		if usagePct() < DiskUsageThresholdPercent && remaining <= MaxItems {
			break
		}
		if item.Pending && now.Sub(item.WriteAt) < PendingGrace {
			continue
		}
		if err := c.Clear(item.Key); err != nil {
			return deleted, err
		}
		deleted++
		remaining--
		used -= float64(item.Size)
		if used < 0 {
			used = 0
		}
	}
	return deleted, nil
}

// Reader opens the blob for key as a stream without loading it fully
// into memory, for large attachments.
func (c *Cache) Reader(key string) (io.ReadCloser, error) {
	return os.Open(c.path(key))
}
