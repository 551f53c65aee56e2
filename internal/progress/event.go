package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// Type names one of the four frames of the progress stream.
type Type string

// Supported event types.
const (
	TypeProgress Type = "progress"
	TypeResult   Type = "result"
	TypeError    Type = "error"
	TypeComplete Type = "complete"
)

// Progress statuses carried by progress frames.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
)

// Event is one immutable frame of a job's progress stream. Every frame
// carries the job's running counters.
type Event struct {
	JobID string
	Type  Type
	TS    time.Time
	// Status is a progress status or, for complete frames, the completion status.
	Status     string
	Stats      crawler.Stats
	CurrentURL string
	Message    string
	LinksFound int
	// Result is set on result frames.
	Result *crawler.PageResult
	// CrawledURLs and Results are set on complete frames.
	CrawledURLs []string
	Results     []crawler.PageResult
}

// NewProgress builds a progress frame.
func NewProgress(jobID string, ts time.Time, status string, stats crawler.Stats, currentURL, message string) Event {
	return Event{
		JobID:      jobID,
		Type:       TypeProgress,
		TS:         ts,
		Status:     status,
		Stats:      stats,
		CurrentURL: currentURL,
		Message:    message,
		LinksFound: stats.Discovered,
	}
}

// NewResult builds a result frame for one fetched page.
func NewResult(jobID string, ts time.Time, stats crawler.Stats, page crawler.PageResult) Event {
	return Event{
		JobID:      jobID,
		Type:       TypeResult,
		TS:         ts,
		Status:     StatusRunning,
		Stats:      stats,
		CurrentURL: page.URL,
		Result:     &page,
	}
}

// NewError builds an error frame for a failed page.
func NewError(jobID string, ts time.Time, stats crawler.Stats, url string, err error) Event {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Event{
		JobID:      jobID,
		Type:       TypeError,
		TS:         ts,
		Status:     StatusRunning,
		Stats:      stats,
		CurrentURL: url,
		Message:    msg,
	}
}

// NewComplete builds the terminal frame of a stream.
func NewComplete(jobID string, ts time.Time, report crawler.Report) Event {
	crawled := append([]string{}, report.CrawledURLs...)
	results := append([]crawler.PageResult{}, report.Results...)
	return Event{
		JobID:       jobID,
		Type:        TypeComplete,
		TS:          ts,
		Status:      string(report.Status),
		Stats:       report.Stats,
		LinksFound:  report.Stats.Discovered,
		CrawledURLs: crawled,
		Results:     results,
	}
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeProgress, TypeError:
	case TypeResult:
		if e.Result == nil {
			return errors.New("result frame requires a page")
		}
	case TypeComplete:
		if e.Status == "" {
			return errors.New("complete frame requires a status")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// Percent is the completion percentage reported to callers; complete frames
// always report 100.
func (e Event) Percent() int {
	if e.Type == TypeComplete {
		return 100
	}
	return e.Stats.Percent()
}

type progressPayload struct {
	Status     string `json:"status"`
	Attempted  int    `json:"attempted"`
	Successful int    `json:"successful"`
	Progress   int    `json:"progress"`
	CurrentURL string `json:"currentUrl,omitempty"`
	Message    string `json:"message"`
	LinksFound *int   `json:"linksFound,omitempty"`
}

type resultPayload struct {
	Attempted  int                 `json:"attempted"`
	Successful int                 `json:"successful"`
	Progress   int                 `json:"progress"`
	Result     *crawler.PageResult `json:"result"`
}

type errorPayload struct {
	Attempted  int    `json:"attempted"`
	Successful int    `json:"successful"`
	Progress   int    `json:"progress"`
	CurrentURL string `json:"currentUrl,omitempty"`
	Message    string `json:"message"`
}

type completePayload struct {
	Status      string               `json:"status"`
	Attempted   int                  `json:"attempted"`
	Successful  int                  `json:"successful"`
	Progress    int                  `json:"progress"`
	CrawledURLs []string             `json:"crawledUrls"`
	Results     []crawler.PageResult `json:"results"`
}

// Payload returns the wire shape of the frame's data.
func (e Event) Payload() any {
	switch e.Type {
	case TypeResult:
		return resultPayload{
			Attempted:  e.Stats.Attempted,
			Successful: e.Stats.Successful,
			Progress:   e.Percent(),
			Result:     e.Result,
		}
	case TypeError:
		return errorPayload{
			Attempted:  e.Stats.Attempted,
			Successful: e.Stats.Successful,
			Progress:   e.Percent(),
			CurrentURL: e.CurrentURL,
			Message:    e.Message,
		}
	case TypeComplete:
		crawled := e.CrawledURLs
		if crawled == nil {
			crawled = []string{}
		}
		results := e.Results
		if results == nil {
			results = []crawler.PageResult{}
		}
		return completePayload{
			Status:      e.Status,
			Attempted:   e.Stats.Attempted,
			Successful:  e.Stats.Successful,
			Progress:    100,
			CrawledURLs: crawled,
			Results:     results,
		}
	default:
		p := progressPayload{
			Status:     e.Status,
			Attempted:  e.Stats.Attempted,
			Successful: e.Stats.Successful,
			Progress:   e.Percent(),
			CurrentURL: e.CurrentURL,
			Message:    e.Message,
		}
		if e.LinksFound > 0 {
			links := e.LinksFound
			p.LinksFound = &links
		}
		return p
	}
}

// Frame pairs the event type with its payload for line-oriented transports.
type Frame struct {
	Event Type `json:"event"`
	Data  any  `json:"data"`
}

// Frame returns the transport envelope for e.
func (e Event) Frame() Frame {
	return Frame{Event: e.Type, Data: e.Payload()}
}
