package crawler

import "fmt"

// OutcomeKind tags which branch of the two-tier fetch produced an Outcome.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeFailed OutcomeKind = iota
	OutcomeRendered
	OutcomeFallback
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRendered:
		return "rendered"
	case OutcomeFallback:
		return "fallback"
	default:
		return "failed"
	}
}

// Outcome is the tagged result of a single fetchPage call:
// Rendered(page) | Fallback(page) | Failed(err).
type Outcome struct {
	Kind OutcomeKind
	Page PageResult
	Err  error
}

// Rendered wraps a page produced by the rendering engine.
func Rendered(page PageResult) Outcome {
	page.Strategy = StrategyRendered
	return Outcome{Kind: OutcomeRendered, Page: page}
}

// Fallback wraps a page produced by the static fetch.
func Fallback(page PageResult) Outcome {
	page.Strategy = StrategyFallback
	return Outcome{Kind: OutcomeFallback, Page: page}
}

// Failed wraps the reason neither strategy produced content.
func Failed(err error) Outcome {
	if err == nil {
		err = fmt.Errorf("fetch failed without reason: %w", ErrNetwork)
	}
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// OK reports whether the outcome carries a usable page.
func (o Outcome) OK() bool {
	return o.Kind != OutcomeFailed
}
