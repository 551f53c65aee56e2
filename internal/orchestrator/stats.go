package orchestrator

import (
	"sync"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// tracker owns the job counters. The budget check and the attempted
// increment happen in one critical section so concurrent batch members can
// never push attempted past the budget.
type tracker struct {
	mu    sync.Mutex
	stats crawler.Stats
}

func newTracker(budget crawler.Budget) *tracker {
	return &tracker{stats: crawler.Stats{Budget: budget}}
}

// reserve claims one attempt if budget remains.
func (t *tracker) reserve() (crawler.Stats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stats.Attempted >= t.stats.Budget.Limit() {
		return t.stats, false
	}
	t.stats.Attempted++
	return t.stats, true
}

// release returns an attempt claimed by reserve.
func (t *tracker) release() crawler.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stats.Attempted > 0 {
		t.stats.Attempted--
	}
	return t.stats
}

func (t *tracker) succeed() crawler.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Successful++
	return t.stats
}

func (t *tracker) setDiscovered(n int) {
	t.mu.Lock()
	t.stats.Discovered = n
	t.mu.Unlock()
}

func (t *tracker) remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.Budget.Limit() - t.stats.Attempted
}

func (t *tracker) snapshot() crawler.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
