package orchestrator

// frontier is the FIFO queue of discovered-but-unfetched canonical URLs
// together with the set of every URL ever enqueued. It is owned by the run
// loop and never touched by fetch goroutines.
type frontier struct {
	queue      []string
	discovered map[string]struct{}
}

func newFrontier(seed string) *frontier {
	return &frontier{
		queue:      []string{seed},
		discovered: map[string]struct{}{seed: {}},
	}
}

func (f *frontier) Len() int {
	return len(f.queue)
}

func (f *frontier) Discovered() int {
	return len(f.discovered)
}

func (f *frontier) Seen(u string) bool {
	_, ok := f.discovered[u]
	return ok
}

// Add enqueues u unless it was discovered before.
func (f *frontier) Add(u string) bool {
	if f.Seen(u) {
		return false
	}
	f.discovered[u] = struct{}{}
	f.queue = append(f.queue, u)
	return true
}

// Take removes up to n URLs from the front.
func (f *frontier) Take(n int) []string {
	n = min(n, len(f.queue))
	if n <= 0 {
		return nil
	}
	batch := append([]string(nil), f.queue[:n]...)
	f.queue = f.queue[n:]
	return batch
}
