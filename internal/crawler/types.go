package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Budget is the maximum number of pages a job may attempt.
type Budget int

// Unbounded disables the page limit.
const Unbounded Budget = -1

const unboundedLiteral = "unbounded"

// ParseBudget accepts "unbounded" or a positive integer.
func ParseBudget(raw string) (Budget, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, unboundedLiteral) {
		return Unbounded, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse budget %q: %w", raw, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("budget must be >= 1, got %d", n)
	}
	return Budget(n), nil
}

// IsUnbounded reports whether the budget has no limit.
func (b Budget) IsUnbounded() bool {
	return b < 0
}

// Limit returns the budget as an int, mapping Unbounded to math.MaxInt.
func (b Budget) Limit() int {
	if b.IsUnbounded() {
		return math.MaxInt
	}
	return int(b)
}

func (b Budget) String() string {
	if b.IsUnbounded() {
		return unboundedLiteral
	}
	return strconv.Itoa(int(b))
}

// MarshalJSON encodes Unbounded as the string "unbounded".
func (b Budget) MarshalJSON() ([]byte, error) {
	if b.IsUnbounded() {
		return json.Marshal(unboundedLiteral)
	}
	return json.Marshal(int(b))
}

// UnmarshalJSON accepts either "unbounded" or a positive integer.
func (b *Budget) UnmarshalJSON(data []byte) error {
	var literal string
	if err := json.Unmarshal(data, &literal); err == nil {
		parsed, perr := ParseBudget(literal)
		if perr != nil {
			return perr
		}
		*b = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New(`budget must be "unbounded" or an integer`)
	}
	if n < 1 {
		return fmt.Errorf("budget must be >= 1, got %d", n)
	}
	*b = Budget(n)
	return nil
}

// Job is one crawl of a single site. It is immutable once created.
type Job struct {
	ID        string    `json:"id"`
	StartURL  string    `json:"startUrl"`
	StartHost string    `json:"startHost"`
	Budget    Budget    `json:"pageBudget"`
	Submitted time.Time `json:"submittedAt"`
}

// NewJob canonicalizes the start URL and derives the start hostname.
func NewJob(id, rawURL string, budget Budget, submitted time.Time) (Job, error) {
	canonical := Canonicalize(rawURL)
	host := Hostname(canonical)
	if host == "" {
		return Job{}, fmt.Errorf("start url %q has no hostname", rawURL)
	}
	if budget == 0 {
		return Job{}, errors.New("budget must be >= 1 or unbounded")
	}
	return Job{
		ID:        id,
		StartURL:  canonical,
		StartHost: host,
		Budget:    budget,
		Submitted: submitted,
	}, nil
}

// Strategy records which fetch tier produced a page.
type Strategy string

// Fetch strategies.
const (
	StrategyRendered Strategy = "rendered"
	StrategyFallback Strategy = "fallback"
)

// PageResult is the usable content extracted from one page.
type PageResult struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Links     []string  `json:"links"`
	Strategy  Strategy  `json:"strategy"`
	ServedURL string    `json:"servedUrl,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// State is the orchestrator lifecycle state.
type State string

// Orchestrator states. Completed, Canceled and Failed are terminal.
const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCanceled  State = "canceled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCanceled, StateFailed:
		return true
	default:
		return false
	}
}

// CanTransition enforces idle -> running -> {completed|canceled|failed}.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateIdle:
		return next == StateRunning || next == StateFailed
	case StateRunning:
		return next.Terminal()
	default:
		return false
	}
}

// CompletionStatus is the status carried by the complete event.
type CompletionStatus string

// Completion statuses.
const (
	CompletionSuccess  CompletionStatus = "success"
	CompletionCanceled CompletionStatus = "canceled"
	CompletionFailed   CompletionStatus = "failed"
)

// Stats is a snapshot of the orchestrator counters.
type Stats struct {
	Attempted  int    `json:"attempted"`
	Successful int    `json:"successful"`
	Discovered int    `json:"discovered"`
	Budget     Budget `json:"budget"`
}

// Percent estimates completion in the 0-100 range.
func (s Stats) Percent() int {
	denominator := s.Budget.Limit()
	if s.Budget.IsUnbounded() {
		denominator = s.Discovered
	}
	if denominator <= 0 {
		return 0
	}
	pct := s.Attempted * 100 / denominator
	return min(max(pct, 0), 100)
}

// Report is the final outcome of a crawl job.
type Report struct {
	JobID       string           `json:"jobId"`
	Status      CompletionStatus `json:"status"`
	State       State            `json:"state"`
	Stats       Stats            `json:"stats"`
	CrawledURLs []string         `json:"crawledUrls"`
	Results     []PageResult     `json:"results"`
}

// JobStatus is the persisted lifecycle of an asynchronously submitted job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether the job has finished.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobCounters tracks per-job page counts for persistence.
type JobCounters struct {
	Attempted  int `json:"attempted"`
	Successful int `json:"successful"`
}

// JobRecord is the persisted metadata of a submitted job.
type JobRecord struct {
	ID         string      `json:"id"`
	StartURL   string      `json:"startUrl"`
	Budget     Budget      `json:"pageBudget"`
	Status     JobStatus   `json:"status"`
	Submitted  time.Time   `json:"submittedAt"`
	Started    *time.Time  `json:"startedAt,omitempty"`
	Finished   *time.Time  `json:"finishedAt,omitempty"`
	ErrorText  string      `json:"errorText,omitempty"`
	Counters   JobCounters `json:"counters"`
	ArchiveURI string      `json:"archiveUri,omitempty"`
}

// JobResult is returned by the API result endpoint.
type JobResult struct {
	Job   JobRecord    `json:"job"`
	Pages []PageResult `json:"pages"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	Job     Job
	Attempt int
}

// CompletionNotice is published when an asynchronous job finishes.
type CompletionNotice struct {
	JobID      string           `json:"jobId"`
	StartURL   string           `json:"startUrl"`
	Status     CompletionStatus `json:"status"`
	Attempted  int              `json:"attempted"`
	Successful int              `json:"successful"`
	ArchiveURI string           `json:"archiveUri,omitempty"`
	FinishedAt time.Time        `json:"finishedAt"`
}
