// Package cache memoises remote metadata JSON on disk, keyed by the md5
// fingerprint of its URL.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-pnp-cards/artifact"
	"github.com/aluiziolira/go-pnp-cards/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Dir is the cache directory name under the card directory.
const Dir = "cache"

// Lookup outcomes used as metric labels.
const (
	ResultMemory = "memory"
	ResultDisk   = "disk"
	ResultMiss   = "miss"
)

// JSONFetcher retrieves a JSON document.
type JSONFetcher interface {
	FetchJSON(ctx context.Context, url string) (json.RawMessage, error)
}

// CorruptionError reports a cache entry that exists but does not hold JSON.
// Entries are never refetched silently.
type CorruptionError struct {
	Key  string
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("cache entry %s for %s is corrupt: %v", e.Path, e.Key, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// Cache is a write-once, content-addressed JSON store. An in-memory LRU
// fronts the disk so repeated lookups within a run skip the filesystem.
type Cache struct {
	dir     string
	fetcher JSONFetcher
	memory  *lru.Cache[string, json.RawMessage]
	metrics *metrics.Metrics
}

// New builds a cache rooted at root/cache.
func New(root string, fetcher JSONFetcher, entries int, m *metrics.Metrics) (*Cache, error) {
	if entries <= 0 {
		entries = 1
	}
	memory, err := lru.New[string, json.RawMessage](entries)
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	return &Cache{
		dir:     filepath.Join(root, Dir),
		fetcher: fetcher,
		memory:  memory,
		metrics: m,
	}, nil
}

// Fingerprint returns the lowercase hex md5 digest of key.
func Fingerprint(key string) string {
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Path returns the file backing key.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, Fingerprint(key)+".json")
}

// Get returns the JSON document for key, fetching and storing it on a miss.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if raw, ok := c.memory.Get(key); ok {
		c.metrics.IncCache(ResultMemory)
		return raw, nil
	}

	path := c.Path(key)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if !json.Valid(data) {
			return nil, &CorruptionError{Key: key, Path: path, Err: errors.New("invalid JSON")}
		}
		c.metrics.IncCache(ResultDisk)
		raw := json.RawMessage(data)
		c.memory.Add(key, raw)
		return raw, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, &artifact.IOError{Op: "read", Path: path, Err: err}
	}

	c.metrics.IncCache(ResultMiss)
	slog.Debug("cache miss", slog.String("key", key), slog.String("path", path))
	raw, err := c.fetcher.FetchJSON(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := artifact.WriteFileAtomic(path, raw); err != nil {
		return nil, err
	}
	c.memory.Add(key, raw)
	return raw, nil
}
