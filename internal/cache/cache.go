package cache

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ent0n29/buddy/internal/session"
)

const DefaultMaxEntries = 100

// Cache stores generated responses per entity, keyed by a fingerprint of the
// scenario and normalized query.
type Cache struct {
	store      *session.Store
	maxEntries int
}

func New(store *session.Store, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{store: store, maxEntries: maxEntries}
}

// Fingerprint derives the cache key. Queries that differ only by case or
// whitespace share a key.
func Fingerprint(scenario, query string) string {
	d := xxhash.New()
	_, _ = d.WriteString(strings.ToLower(strings.TrimSpace(scenario)))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(normalizeQuery(query))
	return strconv.FormatUint(d.Sum64(), 16)
}

// Get returns the cached response if it is younger than ttl. An expired entry
// is deleted on the miss.
func (c *Cache) Get(entityID, scenario, query string, ttl time.Duration) (string, bool) {
	key := Fingerprint(scenario, query)
	now := c.store.Now()

	var (
		entry   session.CacheEntry
		found   bool
		expired bool
	)
	c.store.View(entityID, func(rec *session.Record) {
		entry, found = rec.Cache[key]
		expired = found && now.Sub(entry.CachedAt) > ttl
	})
	if !found {
		return "", false
	}
	if !expired {
		return entry.Response, true
	}

	c.store.Update(entityID, func(rec *session.Record) {
		// A concurrent Put may have refreshed the entry since the read.
		if cur, ok := rec.Cache[key]; ok && now.Sub(cur.CachedAt) > ttl {
			delete(rec.Cache, key)
		}
	})
	return "", false
}

// Put stores response and evicts the oldest tenth of entries once the cache
// exceeds its capacity. It returns how many entries were evicted.
func (c *Cache) Put(entityID, scenario, query, response string) int {
	key := Fingerprint(scenario, query)
	now := c.store.Now()

	evicted := 0
	c.store.Update(entityID, func(rec *session.Record) {
		if rec.Cache == nil {
			rec.Cache = make(map[string]session.CacheEntry)
		}
		rec.Cache[key] = session.CacheEntry{
			Response: response,
			CachedAt: now,
			Scenario: scenario,
			Query:    query,
		}
		if len(rec.Cache) > c.maxEntries {
			evicted = evictOldest(rec.Cache, key)
		}
	})
	return evicted
}

func (c *Cache) Clear(entityID string) {
	c.store.Update(entityID, func(rec *session.Record) {
		clear(rec.Cache)
	})
}

func (c *Cache) Len(entityID string) int {
	n := 0
	c.store.View(entityID, func(rec *session.Record) {
		n = len(rec.Cache)
	})
	return n
}

// evictOldest drops the oldest tenth of entries, at least one. The entry
// under keep was just written and is never a victim.
func evictOldest(entries map[string]session.CacheEntry, keep string) int {
	type aged struct {
		key string
		at  time.Time
	}
	n := max(len(entries)/10, 1)
	all := make([]aged, 0, len(entries))
	for k, e := range entries {
		if k != keep {
			all = append(all, aged{key: k, at: e.CachedAt})
		}
	}
	slices.SortFunc(all, func(a, b aged) int {
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
		return strings.Compare(a.key, b.key)
	})

	n = min(n, len(all))
	for _, victim := range all[:n] {
		delete(entries, victim.key)
	}
	return n
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
