package session

import (
	"hash/fnv"
	"sync"
	"time"
)

// Idempotency cache defaults. Entries live for a full day so a client
// retrying after any realistic outage still gets its original result.
const (
	dedupeShards     = 16
	DefaultDedupeTTL = 24 * time.Hour
)

// cacheEntry holds a completed command result keyed by idempotency key.
type cacheEntry struct {
	result  []byte
	expires time.Time
}

type dedupeShard struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// Dedupe is a sharded TTL cache of command results. A replayed command
// returns the stored bytes unchanged, so the client sees a byte-identical
// reply without the command executing twice.
type Dedupe struct {
	shards [dedupeShards]*dedupeShard
	ttl    time.Duration
	now    func() time.Time
}

// NewDedupe creates a cache with the given TTL (DefaultDedupeTTL if 0).
func NewDedupe(ttl time.Duration) *Dedupe {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	d := &Dedupe{ttl: ttl, now: time.Now}
	for i := range d.shards {
		d.shards[i] = &dedupeShard{entries: make(map[string]cacheEntry)}
	}
	return d
}

func (d *Dedupe) shard(key string) *dedupeShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return d.shards[h.Sum32()%dedupeShards]
}

// Lookup returns the stored result for key, if present and fresh.
func (d *Dedupe) Lookup(key string) ([]byte, bool) {
	if key == "" {
		return nil, false
	}
	s := d.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if d.now().After(e.expires) {
		delete(s.entries, key)
		return nil, false
	}
	return e.result, true
}

// Store records a result under key.
func (d *Dedupe) Store(key string, result []byte) {
	if key == "" {
		return
	}
	s := d.shard(key)
	s.mu.Lock()
	s.entries[key] = cacheEntry{result: result, expires: d.now().Add(d.ttl)}
	s.mu.Unlock()
}

// Sweep drops expired entries; run it periodically from the server.
func (d *Dedupe) Sweep() int {
	now := d.now()
	removed := 0
	for _, s := range d.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if now.After(e.expires) {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
