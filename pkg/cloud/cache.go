package cloud

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"gitlab.com/davidxarnold/census/pkg/core"
)

// cacheEntry holds the result of one detail lookup with its fetch time.
// Exactly one of Hints or Power is meaningful, depending on the key kind.
type cacheEntry struct {
	Hints     *core.OSHints `json:",omitempty"`
	Power     string        `json:",omitempty"`
	Timestamp time.Time
}

// Cache holds per-resource detail lookups in memory with a TTL and optional
// disk persistence. Keys are built by detailKey from the source name, the
// lookup kind and the resource id.
type Cache struct {
	mu      sync.RWMutex
	cache   map[string]*cacheEntry
	ttl     time.Duration
	useDisk bool
	path    string
	group   singleflight.Group
}

// NewCache creates a new detail cache with the specified TTL and disk setting.
func NewCache(ttl time.Duration, useDisk bool) *Cache {
	c := &Cache{
		cache:   make(map[string]*cacheEntry),
		ttl:     ttl,
		useDisk: useDisk,
	}
	if useDisk {
		c.path = defaultCachePath()
		c.loadFromDisk()
	}
	return c
}

// get retrieves a cached entry if it exists and is not expired.
func (c *Cache) get(key string) (*cacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Since(entry.Timestamp) > c.ttl {
		return nil, false
	}
	return entry, true
}

func (c *Cache) set(key string, entry *cacheEntry) {
	entry.Timestamp = time.Now()
	c.mu.Lock()
	c.cache[key] = entry
	c.mu.Unlock()
}

// Len reports the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// GetOrFetchHints returns cached OS hints for key or calls fetch and caches
// its result. Concurrent callers for the same key share one fetch. Errors
// are never cached.
func (c *Cache) GetOrFetchHints(key string, fetch func() (core.OSHints, error)) (core.OSHints, error) {
	if e, ok := c.get(key); ok && e.Hints != nil {
		return *e.Hints, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		h, err := fetch()
		if err != nil {
			return nil, err
		}
		c.set(key, &cacheEntry{Hints: &h})
		return h, nil
	})
	if err != nil {
		return core.OSHints{}, err
	}
	return v.(core.OSHints), nil
}

// GetOrFetchPower is GetOrFetchHints for power state lookups.
func (c *Cache) GetOrFetchPower(key string, fetch func() (string, error)) (string, error) {
	if e, ok := c.get(key); ok && e.Power != "" {
		return e.Power, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		p, err := fetch()
		if err != nil {
			return nil, err
		}
		c.set(key, &cacheEntry{Power: p})
		return p, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Flush writes the cache to disk when persistence is enabled.
func (c *Cache) Flush() {
	if c.useDisk {
		c.saveToDisk()
	}
}

// defaultCachePath returns the path to the disk cache file.
func defaultCachePath() string {
	home, err := homedir.Dir()
	if err != nil {
		log.Debugf("failed to get home directory for detail cache: %v", err)
		return ""
	}
	return filepath.Join(home, ".census", "detail-cache.json")
}

// loadFromDisk loads unexpired cache entries from disk.
func (c *Cache) loadFromDisk() {
	if c.path == "" {
		return
	}

	// #nosec G304 - path is computed from home directory, not user input
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Debugf("failed to read detail cache from disk: %v", err)
		}
		return
	}

	var diskCache map[string]*cacheEntry
	if err := json.Unmarshal(data, &diskCache); err != nil {
		log.Debugf("failed to unmarshal detail cache: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range diskCache {
		if entry != nil && time.Since(entry.Timestamp) <= c.ttl {
			c.cache[key] = entry
		}
	}

	log.Debugf("loaded %d detail cache entries from disk", len(c.cache))
}

// saveToDisk saves the current cache to disk.
func (c *Cache) saveToDisk() {
	if c.path == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0750); err != nil {
		log.Debugf("failed to create cache directory: %v", err)
		return
	}

	c.mu.RLock()
	data, err := json.Marshal(c.cache)
	c.mu.RUnlock()
	if err != nil {
		log.Debugf("failed to marshal detail cache: %v", err)
		return
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		log.Debugf("failed to write detail cache to disk: %v", err)
	}
}

func detailKey(source, kind string, res core.Resource) (string, bool) {
	id := res.Identity().ID
	if id == nil || *id == "" {
		return "", false
	}
	return source + "|" + kind + "|" + *id, true
}

// cachedSource decorates a Source so that detail and power lookups go
// through a Cache. Scopes and List are never cached.
type cachedSource struct {
	Source
	cache *Cache
}

// WithCache wraps src with cache. A nil cache returns src unchanged.
func WithCache(src Source, cache *Cache) Source {
	if cache == nil {
		return src
	}
	return &cachedSource{Source: src, cache: cache}
}

// Close closes the wrapped source.
func (s *cachedSource) Close() error {
	return CloseSource(s.Source)
}

func (s *cachedSource) Details(ctx context.Context, scope core.Scope, res core.Resource) (core.OSHints, error) {
	key, ok := detailKey(s.Name(), "os", res)
	if !ok {
		return s.Source.Details(ctx, scope, res)
	}
	return s.cache.GetOrFetchHints(key, func() (core.OSHints, error) {
		return s.Source.Details(ctx, scope, res)
	})
}

func (s *cachedSource) PowerState(ctx context.Context, scope core.Scope, res core.Resource) (string, error) {
	key, ok := detailKey(s.Name(), "power", res)
	if !ok {
		return s.Source.PowerState(ctx, scope, res)
	}
	return s.cache.GetOrFetchPower(key, func() (string, error) {
		return s.Source.PowerState(ctx, scope, res)
	})
}
