// Package selfwrite remembers files the sync engine itself just wrote, so the
// watcher does not treat them as user edits.
package selfwrite

import (
	"sync"
	"time"
)

// DefaultTTL is how long a self-write is remembered
const DefaultTTL = 5 * time.Second

// Guard is a path -> write-time table. Entries are never removed on a timer;
// an entry older than the TTL simply reads as absent.
type Guard struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

// New creates a guard; ttl <= 0 selects DefaultTTL
func New(ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{ttl: ttl, now: time.Now, entries: make(map[string]time.Time)}
}

// Mark records that path is about to be written by the engine
func (g *Guard) Mark(path string) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[path] = g.now()
}

// IsRecent reports whether path was marked within the TTL
func (g *Guard) IsRecent(path string) bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	at, ok := g.entries[path]
	if !ok {
		return false
	}
	if g.now().Sub(at) >= g.ttl {
		delete(g.entries, path)
		return false
	}
	return true
}

// Clear forgets every entry
func (g *Guard) Clear() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = make(map[string]time.Time)
}

// Len returns the number of stored entries, expired ones included
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
