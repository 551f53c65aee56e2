// Package system exercises the real-time clock adapter.
package system

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	requireNotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockNowMonotonic checks successive timestamps are non-decreasing.
func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	if second.Before(first) {
		t.Fatalf("expected second call %v to be >= first %v", second, first)
	}
}

// TestClockStampsMarshalAsUTC checks job timestamps serialize with a Z suffix,
// which the archived reports and job API rely on.
func TestClockStampsMarshalAsUTC(t *testing.T) {
	t.Parallel()

	var clk crawler.Clock = New()
	raw, err := json.Marshal(struct {
		Submitted time.Time `json:"submitted"`
	}{Submitted: clk.Now()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.HasSuffix(string(raw), `Z"}`) {
		t.Fatalf("expected UTC timestamp, got %s", raw)
	}
}

func requireNotNil(t *testing.T, v any) {
	t.Helper()
	if v == nil {
		t.Fatal("expected value to be non-nil")
	}
}
