package rules

import (
	"os"
	"sort"
	"sync"
	"time"
)

// cachedRuleSet is one working-directory's loaded rules plus the mtimes of
// the files they were loaded from, for invalidation.
type cachedRuleSet struct {
	rules     []Rule
	mtimes    map[string]time.Time
	loadedAt  time.Time
}

// RuleCache caches loaded rule sets keyed by working directory, invalidating
// when any tracked source file's mtime changes or the set of rule files
// that would be loaded for that directory changes (a file appeared or
// disappeared).
type RuleCache struct {
	mu      sync.Mutex
	loader  *Loader
	entries map[string]cachedRuleSet
	hits    int
	misses  int
}

// NewRuleCache wraps a Loader with an mtime-keyed cache.
func NewRuleCache(loader *Loader) *RuleCache {
	return &RuleCache{loader: loader, entries: make(map[string]cachedRuleSet)}
}

// Get returns the rules applicable to workingDir, using the cache when
// valid and reloading from disk otherwise.
func (c *RuleCache) Get(workingDir string) ([]Rule, error) {
	c.mu.Lock()
	if cached, ok := c.entries[workingDir]; ok && c.valid(cached, workingDir) {
		c.hits++
		rules := cached.rules
		c.mu.Unlock()
		return rules, nil
	}
	c.misses++
	c.mu.Unlock()

	result, err := c.loader.Load(workingDir)
	if err != nil {
		return nil, err
	}

	mtimes := make(map[string]time.Time, len(result.SourceFiles))
	for _, f := range result.SourceFiles {
		if st, err := os.Stat(f); err == nil {
			mtimes[f] = st.ModTime()
		}
	}

	c.mu.Lock()
	c.entries[workingDir] = cachedRuleSet{rules: result.Rules, mtimes: mtimes, loadedAt: time.Now()}
	c.mu.Unlock()

	return result.Rules, nil
}

// valid reports whether a cached entry's tracked files are unchanged and no
// new/removed rule file would alter the set discovered for workingDir.
// Get calls it with c.mu held; it takes no lock itself and reads only
// filesystem state and the loader's configuration.
func (c *RuleCache) valid(cached cachedRuleSet, workingDir string) bool {
	for path, mtime := range cached.mtimes {
		st, err := os.Stat(path)
		if err != nil {
			return false
		}
		if !st.ModTime().Equal(mtime) {
			return false
		}
	}

	currentFiles := c.discoverFiles(workingDir)
	if len(currentFiles) != len(cached.mtimes) {
		return false
	}
	for f := range currentFiles {
		if _, ok := cached.mtimes[f]; !ok {
			return false
		}
	}
	return true
}

func (c *RuleCache) discoverFiles(workingDir string) map[string]struct{} {
	files := make(map[string]struct{})
	if c.loader.GlobalRulesPath != "" {
		if st, err := os.Stat(c.loader.GlobalRulesPath); err == nil && !st.IsDir() {
			files[c.loader.GlobalRulesPath] = struct{}{}
		}
	}
	if repoPath, ok := FindRepoRules(workingDir); ok {
		files[repoPath] = struct{}{}
	}
	return files
}

// Invalidate drops the cache entry for workingDir, or the entire cache if
// workingDir is empty.
func (c *RuleCache) Invalidate(workingDir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if workingDir == "" {
		c.entries = make(map[string]cachedRuleSet)
		return
	}
	delete(c.entries, workingDir)
}

// Stats reports cache hit/miss counters and current entry count.
func (c *RuleCache) Stats() (hits, misses, entries int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}

// --- Condition-result cache (C9) ---

type conditionCacheKey struct {
	fingerprint string
	rawCommand  string
	workingDir  string
}

type conditionCacheEntry struct {
	result   bool
	cachedAt time.Time
}

// ConditionCache memoizes condition-evaluation results across requests,
// keyed by (condition fingerprint, raw command, working dir), with a TTL
// and bounded-size eviction of the oldest 10% when full.
type ConditionCache struct {
	mu       sync.Mutex
	entries  map[conditionCacheKey]conditionCacheEntry
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// NewConditionCache constructs a cache with the given TTL and capacity.
func NewConditionCache(ttl time.Duration, capacity int) *ConditionCache {
	return &ConditionCache{
		entries:  make(map[conditionCacheKey]conditionCacheEntry),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Get returns the cached result for key, if present and unexpired.
func (c *ConditionCache) Get(fingerprint, rawCommand, workingDir string) (bool, bool) {
	key := conditionCacheKey{fingerprint, rawCommand, workingDir}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false, false
	}
	if c.now().Sub(e.cachedAt) >= c.ttl {
		delete(c.entries, key)
		return false, false
	}
	return e.result, true
}

// Set stores a condition result, evicting the oldest 10% first if the cache
// is at capacity.
func (c *ConditionCache) Set(fingerprint, rawCommand, workingDir string, result bool) {
	key := conditionCacheKey{fingerprint, rawCommand, workingDir}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[key] = conditionCacheEntry{result: result, cachedAt: c.now()}
}

func (c *ConditionCache) evictOldestLocked() {
	if len(c.entries) == 0 {
		return
	}
	keys := make([]conditionCacheKey, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].cachedAt.Before(c.entries[keys[j]].cachedAt)
	})
	toRemove := len(keys) / 10
	if toRemove < 1 {
		toRemove = 1
	}
	for _, k := range keys[:toRemove] {
		delete(c.entries, k)
	}
}
