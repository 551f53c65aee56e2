package crawler

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is against any error returned by a
// fetcher or the orchestrator.
var (
	// ErrPolicy marks a URL skipped because robots.txt disallows it.
	ErrPolicy = errors.New("disallowed by robots policy")
	// ErrNetwork marks a navigation or HTTP failure.
	ErrNetwork = errors.New("network failure")
	// ErrContent marks a page that yielded no usable title or text.
	ErrContent = errors.New("no usable content")
	// ErrDomainParking marks a page classified as a parked domain.
	ErrDomainParking = errors.New("domain parking detected")
	// ErrClientDisconnect marks a transport that stopped accepting events.
	ErrClientDisconnect = errors.New("client disconnected")
	// ErrCanceled marks a job-level abort.
	ErrCanceled = errors.New("crawl canceled")
	// ErrJobNotFound is returned by job stores for unknown IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueClosed is returned by Dequeue once the queue is shut down.
	ErrQueueClosed = errors.New("queue closed")
)

// FetchError describes a failed page fetch.
type FetchError struct {
	Kind     error
	URL      string
	Strategy Strategy
	Reason   string
	Err      error
}

func (e *FetchError) Error() string {
	msg := e.Kind.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Strategy != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Strategy)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.URL, msg)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// PolicyError reports a robots disallow. It is a skip, never a failure.
func PolicyError(url string) error {
	return &FetchError{Kind: ErrPolicy, URL: url}
}

// NetworkError wraps a navigation or transport failure.
func NetworkError(url string, strategy Strategy, err error) error {
	return &FetchError{Kind: ErrNetwork, URL: url, Strategy: strategy, Err: err}
}

// ContentError reports a page without usable content.
func ContentError(url string, strategy Strategy, reason string) error {
	return &FetchError{Kind: ErrContent, URL: url, Strategy: strategy, Reason: reason}
}

// DomainParkingError reports a parked or squatted page.
func DomainParkingError(url string, strategy Strategy, reason string) error {
	return &FetchError{Kind: ErrDomainParking, URL: url, Strategy: strategy, Reason: reason}
}

// CancellationError wraps a context error observed mid-fetch.
func CancellationError(url string, err error) error {
	return &FetchError{Kind: ErrCanceled, URL: url, Err: err}
}

// IsCancellation reports whether err stems from job cancellation.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCanceled)
}
