// Package artwork caches cover-art bytes per player. Entries expire after a
// fixed TTL and the cache holds a small number of tracks; the embedded
// default logo doubles as the sentinel URL the normalizer emits when a
// device reports no usable artwork.
package artwork

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/linkplay-community/linkplay-go/internal/assets"
	"github.com/linkplay-community/linkplay-go/pkg/lperr"
)

// DefaultURL is the sentinel image URL. It never reaches the network; the
// cache answers it with the embedded logo.
const DefaultURL = "linkplay://artwork/default"

const (
	defaultTTL      = time.Hour
	defaultCapacity = 10
)

// Default returns the embedded logo bytes.
func Default() []byte { return assets.LogoPNG }

type entry struct {
	data        []byte
	contentType string
	fetched     time.Time
	lastUse     time.Time
}

// Cache is a per-player artwork cache with TTL expiry and least-recently
// used eviction. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry

	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// NewCache builds a cache with the standard TTL (1 h) and capacity (10).
func NewCache() *Cache {
	return &Cache{
		entries:  make(map[string]*entry),
		ttl:      defaultTTL,
		capacity: defaultCapacity,
		now:      time.Now,
	}
}

// Get returns the cached bytes for url, or ok=false on miss or expiry.
// The sentinel URL always hits.
func (c *Cache) Get(url string) (data []byte, contentType string, ok bool) {
	if url == DefaultURL {
		return assets.LogoPNG, "image/png", true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[url]
	if !found {
		return nil, "", false
	}
	if c.now().Sub(e.fetched) > c.ttl {
		delete(c.entries, url)
		return nil, "", false
	}
	e.lastUse = c.now()
	return e.data, e.contentType, true
}

// Put stores bytes for url, evicting the least recently used entry when the
// cache is full. Storing the sentinel is a no-op.
func (c *Cache) Put(url string, data []byte, contentType string) {
	if url == DefaultURL {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[url]; !exists && len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	now := c.now()
	c.entries[url] = &entry{data: data, contentType: contentType, fetched: now, lastUse: now}
}

// evictOldest removes the least recently used entry. Caller holds the lock.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.lastUse.Before(oldest) {
			oldestKey, oldest = key, e.lastUse
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Fetch returns artwork bytes for url, consulting the cache first and
// falling back to an HTTP GET. Any failure degrades to the embedded logo
// with the error returned alongside so callers can log it.
func (c *Cache) Fetch(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	if data, contentType, ok := c.Get(url); ok {
		return data, contentType, nil
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return assets.LogoPNG, "image/png", lperr.Wrap(lperr.ErrMalformed, "artwork.fetch", err).WithEndpoint(url)
	}
	resp, err := client.Do(req)
	if err != nil {
		return assets.LogoPNG, "image/png", lperr.Wrap(lperr.ErrConnection, "artwork.fetch", err).WithEndpoint(url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return assets.LogoPNG, "image/png", lperr.New(lperr.ErrConnection, "artwork.fetch").
			WithEndpoint(url).
			WithCause(fmt.Errorf("http status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return assets.LogoPNG, "image/png", lperr.Wrap(lperr.ErrConnection, "artwork.fetch", err).WithEndpoint(url)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	c.Put(url, data, contentType)
	return data, contentType, nil
}
