package hub

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/scrtlabs/attest-hub/internal/attest"
)

type cacheEntry struct {
	data      attest.AttestationData
	createdAt time.Time
}

// attestationCache is a TTL-bounded LRU keyed by VM name. Lookup and
// move-to-most-recently-used are atomic under one lock; hit/miss counters
// feed the service health report.
type attestationCache struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, cacheEntry]
	ttl     time.Duration

	hits   uint64
	misses uint64
}

func newAttestationCache(maxSize int, ttl time.Duration) *attestationCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	entries, err := simplelru.NewLRU[string, cacheEntry](maxSize, nil)
	if err != nil {
		// Only reachable with a non-positive size, which is guarded above.
		panic(err)
	}
	return &attestationCache{entries: entries, ttl: ttl}
}

// get returns the cached attestation if present and fresh, promoting it to
// most-recently-used. Expired entries are removed on lookup.
func (c *attestationCache) get(vmName string, now time.Time) (attest.AttestationData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(vmName)
	if !ok {
		c.misses++
		return attest.AttestationData{}, false
	}
	if now.Sub(entry.createdAt) > c.ttl {
		c.entries.Remove(vmName)
		c.misses++
		return attest.AttestationData{}, false
	}
	c.hits++
	return entry.data, true
}

// put stores an attestation, evicting the least-recently-used entry when the
// cache is at capacity.
func (c *attestationCache) put(vmName string, data attest.AttestationData, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(vmName, cacheEntry{data: data, createdAt: now})
}

func (c *attestationCache) hitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

func (c *attestationCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
