package service

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
)

// verdictCache is a small LRU of remote verification results with a per-entry TTL.
// Methods are safe for concurrent use.
type verdictCache struct {
	mu     sync.Mutex
	cap    int
	ll     *list.List // front = most recently used
	items  map[string]*list.Element
	now    func() time.Time
	hits   atomic.Uint64
	misses atomic.Uint64
	evicts atomic.Uint64
}

type verdictEntry struct {
	token   string
	verdict domainauth.Verdict
	session domainauth.Session
	expiry  time.Time
}

func newVerdictCache(capacity int, now func() time.Time) *verdictCache {
	if capacity <= 0 {
		capacity = 1024
	}
	if now == nil {
		now = time.Now
	}
	return &verdictCache{
		cap:   capacity,
		ll:    list.New(),
		items: make(map[string]*list.Element, capacity),
		now:   now,
	}
}

func (c *verdictCache) get(token string) (verdictEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[token]
	if !ok {
		c.misses.Add(1)
		return verdictEntry{}, false
	}
	ent := el.Value.(*verdictEntry)
	if !c.now().Before(ent.expiry) {
		c.remove(el)
		c.misses.Add(1)
		return verdictEntry{}, false
	}
	c.ll.MoveToFront(el)
	c.hits.Add(1)
	return *ent, true
}

func (c *verdictCache) set(token string, v domainauth.Verdict, sess domainauth.Session, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	exp := c.now().Add(ttl)
	// A cached Authenticated verdict must not outlive the session itself.
	if v == domainauth.Authenticated && sess.ExpiresAt != nil && sess.ExpiresAt.Before(exp) {
		exp = *sess.ExpiresAt
	}

	if el, ok := c.items[token]; ok {
		ent := el.Value.(*verdictEntry)
		ent.verdict, ent.session, ent.expiry = v, sess, exp
		c.ll.MoveToFront(el)
		return
	}
	c.items[token] = c.ll.PushFront(&verdictEntry{token: token, verdict: v, session: sess, expiry: exp})
	for c.ll.Len() > c.cap {
		c.remove(c.ll.Back())
		c.evicts.Add(1)
	}
}

func (c *verdictCache) delete(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[token]; ok {
		c.remove(el)
	}
}

func (c *verdictCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// caller holds c.mu
func (c *verdictCache) remove(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*verdictEntry).token)
}

// CacheStats are counters for observability.
type CacheStats struct {
	Hits, Misses, Evictions uint64
	Size, Capacity          int
}

func (c *verdictCache) stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evicts.Load(),
		Size:      c.len(),
		Capacity:  c.cap,
	}
}
