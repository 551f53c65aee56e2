// Package robots implements the per-domain robots.txt compliance cache.
// Decisions are fail-open: a URL is crawled unless robots.txt explicitly
// disallows it for the crawler's user agent.
package robots

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// Entry is one cached robots.txt lookup for a domain.
type Entry struct {
	Domain    string    `json:"domain"`
	Status    int       `json:"status,omitempty"`
	Body      []byte    `json:"body,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
	// AttemptedAndFailed marks a fetch that errored or returned a
	// non-success status. Such entries allow everything until they expire.
	AttemptedAndFailed bool `json:"attemptedAndFailed"`
}

// Expired reports whether the entry is older than ttl at now.
func (e Entry) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(e.FetchedAt) >= ttl
}

// Store is the narrow keyed store the Checker caches entries in.
type Store interface {
	Get(ctx context.Context, domain string) (Entry, bool, error)
	Set(ctx context.Context, domain string, entry Entry) error
}

// MemoryStore keeps entries in a process-local map and drops them after ttl.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	clock   crawler.Clock
}

// NewMemoryStore creates a MemoryStore. A nil clock uses time.Now.
func NewMemoryStore(ttl time.Duration, clock crawler.Clock) *MemoryStore {
	if clock == nil {
		clock = wallClock{}
	}
	return &MemoryStore{
		entries: make(map[string]Entry),
		ttl:     ttl,
		clock:   clock,
	}
}

// Get returns a live entry for domain.
func (s *MemoryStore) Get(_ context.Context, domain string) (Entry, bool, error) {
	key := strings.ToLower(domain)
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	if entry.Expired(s.clock.Now(), s.ttl) {
		s.mu.Lock()
		if current, still := s.entries[key]; still && current.FetchedAt.Equal(entry.FetchedAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Set stores entry under domain.
func (s *MemoryStore) Set(_ context.Context, domain string, entry Entry) error {
	s.mu.Lock()
	s.entries[strings.ToLower(domain)] = entry
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries, live or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
