// Package dedup drops broker redeliveries of messages published above
// QoS 0. Entries expire after a TTL; the map is swept when it outgrows
// its cap.
package dedup

import (
	"sync"
	"time"
)

type Guard struct {
	mu      sync.Mutex
	ttl     time.Duration
	cap     int
	expires map[string]time.Time
}

func New(ttl time.Duration, cap int) *Guard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if cap <= 0 {
		cap = 10000
	}
	return &Guard{ttl: ttl, cap: cap, expires: make(map[string]time.Time, cap)}
}

// Seen records id and reports whether it was already recorded within the
// TTL. An empty id is never deduplicated.
func (g *Guard) Seen(id string) bool {
	if id == "" {
		return false
	}
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if exp, ok := g.expires[id]; ok && now.Before(exp) {
		return true
	}
	g.expires[id] = now.Add(g.ttl)
	if len(g.expires) > g.cap {
		g.sweep(now)
	}
	return false
}

// sweep removes expired entries; caller holds g.mu.
func (g *Guard) sweep(now time.Time) {
	for id, exp := range g.expires {
		if now.After(exp) {
			delete(g.expires, id)
		}
	}
}
