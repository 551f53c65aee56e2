// Package validator checks crawl start requests before any crawling begins:
// URL structure, domain shape, and a reachability probe of the start page.
package validator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// DefaultProbeTimeout bounds the reachability probe.
const DefaultProbeTimeout = 5 * time.Second

// ErrInvalidRequest matches every validation failure.
var ErrInvalidRequest = errors.New("invalid crawl request")

// StartRequest is the body of a crawl start call.
type StartRequest struct {
	URL        string         `json:"url"`
	PageBudget crawler.Budget `json:"pageBudget"`
}

// ValidationError describes why a start request was rejected.
type ValidationError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid URL %q: %s", e.URL, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes ErrInvalidRequest and the underlying cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidRequest}
	}
	return []error{ErrInvalidRequest, e.Err}
}

// Config tunes a Validator.
type Config struct {
	// Client performs the probe. Defaults to a client with ProbeTimeout.
	Client       *http.Client
	ProbeTimeout time.Duration
	UserAgent    string
	// DefaultBudget applies when the request omits pageBudget.
	DefaultBudget crawler.Budget
	// SkipProbe disables the network check (offline CLI use and tests).
	SkipProbe bool
}

// Validator rejects unusable start requests.
type Validator struct {
	client        *http.Client
	timeout       time.Duration
	userAgent     string
	defaultBudget crawler.Budget
	skipProbe     bool
}

// New fills defaults from cfg.
func New(cfg Config) *Validator {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.ProbeTimeout}
	}
	if cfg.DefaultBudget == 0 {
		cfg.DefaultBudget = crawler.Unbounded
	}
	return &Validator{
		client:        cfg.Client,
		timeout:       cfg.ProbeTimeout,
		userAgent:     cfg.UserAgent,
		defaultBudget: cfg.DefaultBudget,
		skipProbe:     cfg.SkipProbe,
	}
}

// Validate checks req and returns it normalized: the URL trimmed and the
// budget defaulted.
func (v *Validator) Validate(ctx context.Context, req StartRequest) (StartRequest, error) {
	req.URL = strings.TrimSpace(req.URL)
	u, err := ParseStartURL(req.URL)
	if err != nil {
		return StartRequest{}, err
	}
	if req.PageBudget == 0 {
		req.PageBudget = v.defaultBudget
	}
	if req.PageBudget < crawler.Unbounded {
		return StartRequest{}, &ValidationError{URL: req.URL, Reason: "pageBudget must be >= 1 or \"unbounded\""}
	}
	if !v.skipProbe {
		if err := v.Probe(ctx, u); err != nil {
			return StartRequest{}, err
		}
	}
	return req, nil
}

// ParseStartURL applies the structural checks: http(s) scheme, a hostname
// that is not an IP, at least two labels, a plausible top-level label, and
// a registrable domain under the public suffix list.
func ParseStartURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, &ValidationError{URL: raw, Reason: "url is required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ValidationError{URL: raw, Reason: "malformed url", Err: err}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, &ValidationError{URL: raw, Reason: fmt.Sprintf("unsupported scheme %q (only http and https allowed)", u.Scheme)}
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return nil, &ValidationError{URL: raw, Reason: "missing hostname"}
	}
	if net.ParseIP(host) != nil {
		return nil, &ValidationError{URL: raw, Reason: "hostname must be a domain name, not an IP address"}
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return nil, &ValidationError{URL: raw, Reason: "hostname needs at least two labels"}
	}
	for _, label := range labels {
		if label == "" {
			return nil, &ValidationError{URL: raw, Reason: "hostname has an empty label"}
		}
	}
	tld := labels[len(labels)-1]
	if isNumeric(tld) {
		return nil, &ValidationError{URL: raw, Reason: "top-level domain is numeric"}
	}
	if len(tld) < 2 || len(tld) > 12 {
		return nil, &ValidationError{URL: raw, Reason: "top-level domain must be 2-12 characters"}
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(host); err != nil {
		return nil, &ValidationError{URL: raw, Reason: "no registrable domain", Err: err}
	}
	return u, nil
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Probe checks the start page answers. HEAD is tried first and GET is used
// when the server rejects HEAD with 405. 403 and 405 count as reachable.
func (v *Validator) Probe(ctx context.Context, u *url.URL) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	status, err := v.request(ctx, http.MethodHead, u)
	if err == nil && status == http.StatusMethodNotAllowed {
		status, err = v.request(ctx, http.MethodGet, u)
	}
	if err != nil {
		return &ValidationError{URL: u.String(), Reason: "start url is unreachable", Err: err}
	}
	if status >= http.StatusBadRequest && status != http.StatusForbidden && status != http.StatusMethodNotAllowed {
		return &ValidationError{URL: u.String(), Reason: fmt.Sprintf("start url answered %d", status)}
	}
	return nil
}

func (v *Validator) request(ctx context.Context, method string, u *url.URL) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", method, err)
	}
	if v.userAgent != "" {
		req.Header.Set("User-Agent", v.userAgent)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, u.Host, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}
