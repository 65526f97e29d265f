package resolver

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ralt/addonsync/internal/models"
)

// DefaultCacheTTL is how long a successful resolution is reused
const DefaultCacheTTL = 10 * time.Minute

type cacheEntry struct {
	artifact  models.ReleaseArtifact
	expiresAt time.Time
}

// Cache is a process-lifetime TTL cache of resolutions, safe for concurrent use
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

// NewCache creates a cache whose entries expire after ttl
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func cacheKey(req Request) string {
	return fmt.Sprintf("%s|%s|%s", req.Reference.String(), strings.ToLower(strings.TrimSpace(req.AssetName)), req.Priority)
}

// Get returns a live entry; expired entries are dropped on read
func (c *Cache) Get(req Request) (models.ReleaseArtifact, bool) {
	key := cacheKey(req)
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return models.ReleaseArtifact{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return models.ReleaseArtifact{}, false
	}
	return e.artifact, true
}

// Put stores a resolution. Artifacts that fail validation are never stored.
func (c *Cache) Put(req Request, artifact models.ReleaseArtifact) {
	if artifact.Validate() != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(req)] = cacheEntry{
		artifact:  artifact,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Invalidate drops every entry for ref
func (c *Cache) Invalidate(ref models.RepositoryReference) {
	prefix := ref.String() + "|"
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of stored entries, expired or not
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
