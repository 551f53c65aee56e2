package headless

import (
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// networkTracker follows in-flight requests for one tab and remembers the
// main document response.
type networkTracker struct {
	clock crawler.Clock

	mu           sync.Mutex
	pending      map[network.RequestID]struct{}
	lastActivity time.Time
	docStatus    int
	docURL       string
}

func newNetworkTracker(clock crawler.Clock) *networkTracker {
	return &networkTracker{
		clock:        clock,
		pending:      make(map[network.RequestID]struct{}),
		lastActivity: clock.Now(),
	}
}

func (t *networkTracker) observe(ev any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.pending[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(t.pending, e.RequestID)
	case *network.EventLoadingFailed:
		delete(t.pending, e.RequestID)
	case *network.EventResponseReceived:
		if e.Type == network.ResourceTypeDocument && e.Response != nil {
			t.docStatus = int(e.Response.Status)
			t.docURL = e.Response.URL
		}
	default:
		return
	}
	t.lastActivity = t.clock.Now()
}

func (t *networkTracker) idleFor(window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending) == 0 && t.clock.Now().Sub(t.lastActivity) >= window
}

func (t *networkTracker) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *networkTracker) documentStatus() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.docStatus
}

func (t *networkTracker) documentURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.docURL
}
