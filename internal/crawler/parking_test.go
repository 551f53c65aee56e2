package crawler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDetectParking(t *testing.T) {
	t.Parallel()

	adLinks := make([]string, 0, AdLinkThreshold+1)
	for i := 0; i <= AdLinkThreshold; i++ {
		adLinks = append(adLinks, fmt.Sprintf("https://example.com/click?id=%d", i))
	}

	tests := []struct {
		name    string
		signals ParkingSignals
		want    bool
	}{
		{
			name:    "clean page",
			signals: ParkingSignals{Title: "Acme Widgets", BodyText: "We build widgets.", StartHost: "example.com", ServedHost: "example.com"},
			want:    false,
		},
		{
			name:    "for sale body",
			signals: ParkingSignals{Title: "example.com", BodyText: "This Domain For Sale! Contact us."},
			want:    true,
		},
		{
			name:    "too many ad links",
			signals: ParkingSignals{Title: "Links", BodyText: "sponsored listings", Anchors: adLinks},
			want:    true,
		},
		{
			name:    "exactly threshold ad links",
			signals: ParkingSignals{Title: "Links", BodyText: "listings", Anchors: adLinks[:AdLinkThreshold]},
			want:    false,
		},
		{
			name:    "ad iframe",
			signals: ParkingSignals{Title: "Home", BodyText: "content", AdIframe: true},
			want:    true,
		},
		{
			name:    "for sale title",
			signals: ParkingSignals{Title: "example.com is for sale", BodyText: "welcome"},
			want:    true,
		},
		{
			name:    "domain may be for sale title",
			signals: ParkingSignals{Title: "This Domain May Be For Sale", BodyText: "welcome"},
			want:    true,
		},
		{
			name: "marketplace title",
			signals: ParkingSignals{
				Title:      "Used Cars for Sale in Austin | Smith Motors",
				BodyText:   "Browse our inventory of certified pre-owned vehicles.",
				StartHost:  "smithmotors.com",
				ServedHost: "smithmotors.com",
			},
			want: false,
		},
		{
			name:    "house is for sale title",
			signals: ParkingSignals{Title: "This House is for Sale", BodyText: "Three bedrooms, two baths."},
			want:    false,
		},
		{
			name:    "redirected host",
			signals: ParkingSignals{Title: "Home", BodyText: "content", StartHost: "example.com", ServedHost: "parking.example.net"},
			want:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			verdict := DetectParking(tt.signals)
			require.Equal(t, tt.want, verdict.Parked, verdict.Reason)
			if tt.want {
				require.NotEmpty(t, verdict.Reason)
			}
		})
	}
}

func TestBuildPage(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	in := PageInput{
		RequestURL: "https://example.com",
		StartHost:  "example.com",
		Strategy:   StrategyFallback,
		FetchedAt:  now,
		Extraction: Extraction{
			Title:    "Home",
			Text:     "Welcome",
			Anchors:  []string{"https://example.com/a/", "https://example.com/a?utm_source=x", "https://cdn.example.com/x"},
			AdIframe: true,
		},
	}

	page, err := BuildPage(in)
	require.NoError(t, err, "ad iframe is ignored for the static strategy")
	require.Equal(t, []string{"https://example.com/a"}, page.Links)
	require.Equal(t, "https://example.com", page.ServedURL)
	require.Equal(t, now, page.FetchedAt)

	in.Strategy = StrategyRendered
	_, err = BuildPage(in)
	require.ErrorIs(t, err, ErrDomainParking)

	in.Extraction = Extraction{}
	_, err = BuildPage(in)
	require.ErrorIs(t, err, ErrContent)

	in.Extraction = Extraction{Title: "Domain parked", Text: "domain for sale"}
	_, err = BuildPage(in)
	require.ErrorIs(t, err, ErrDomainParking)
}
