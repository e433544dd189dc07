package cctx

import (
	"sort"
	"sync"
	"time"
)

const (
	gitCacheTTL      = time.Second
	gitCacheCapacity = 200
	gitCacheEvictPct = 20
)

type gitCacheEntry struct {
	root      string
	branch    string
	detached  bool
	cachedAt  time.Time
}

// GitCache memoizes git detection per working directory with a short TTL and
// a bounded size, evicting the oldest 20% of entries once full. This mirrors
// the TTL+bounded-eviction shape of the rule/condition caches (C9) applied to
// the cheaper, more frequently repeated git-detection lookup.
type GitCache struct {
	mu      sync.Mutex
	entries map[string]gitCacheEntry
	now     func() time.Time
}

// NewGitCache constructs an empty cache using the real clock.
func NewGitCache() *GitCache {
	return &GitCache{
		entries: make(map[string]gitCacheEntry),
		now:     time.Now,
	}
}

// Lookup returns the cached git state for workingDir, computing and caching
// it on a miss or expired entry.
func (c *GitCache) Lookup(workingDir string) (root, branch string, detached bool) {
	c.mu.Lock()
	if e, ok := c.entries[workingDir]; ok && c.now().Sub(e.cachedAt) < gitCacheTTL {
		c.mu.Unlock()
		return e.root, e.branch, e.detached
	}
	c.mu.Unlock()

	root, branch, detached = detectGit(workingDir)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= gitCacheCapacity {
		c.evictOldestLocked()
	}
	c.entries[workingDir] = gitCacheEntry{root: root, branch: branch, detached: detached, cachedAt: c.now()}
	return root, branch, detached
}

// evictOldestLocked removes the oldest ~20% of entries. Caller holds c.mu.
func (c *GitCache) evictOldestLocked() {
	if len(c.entries) == 0 {
		return
	}
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].cachedAt.Before(c.entries[keys[j]].cachedAt)
	})
	toRemove := len(keys) * gitCacheEvictPct / 100
	if toRemove < 1 {
		toRemove = 1
	}
	for _, k := range keys[:toRemove] {
		delete(c.entries, k)
	}
}
