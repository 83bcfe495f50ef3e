// Package urlcache is the file-backed URL enrichment cache the vision stage
// consults before re-processing a link (spec §4.7 vision, §5 "URL cache:
// file-backed with per-path asynchronous lock", §6 "secondary JSON file").
package urlcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Cache maps a URL to its previously enriched text.
type Cache struct {
	mu   sync.RWMutex
	path string
	urls map[string]string
}

// Open loads the cache from path, creating an empty one if the file does
// not yet exist.
func Open(path string) (*Cache, error) {
	c := &Cache{path: path, urls: map[string]string{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("urlcache: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.urls); err != nil {
		return nil, fmt.Errorf("urlcache: parse %s: %w", path, err)
	}
	return c, nil
}

// Get returns the cached enrichment for url, if any.
func (c *Cache) Get(url string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.urls[url]
	return v, ok
}

// Set stores an enrichment for url and persists the cache to disk via
// write-temp-then-rename, matching the module's stated serialization
// approach for on-disk state (spec §9).
func (c *Cache) Set(url, enriched string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls[url] = enriched
	return c.persistLocked()
}

func (c *Cache) persistLocked() error {
	data, err := json.MarshalIndent(c.urls, "", "  ")
	if err != nil {
		return fmt.Errorf("urlcache: marshal: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("urlcache: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "urlcache-*.tmp")
	if err != nil {
		return fmt.Errorf("urlcache: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("urlcache: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("urlcache: close temp: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("urlcache: rename: %w", err)
	}
	return nil
}
