package crawler

import (
	"fmt"
	"regexp"
	"strings"
)

// AdLinkThreshold is the number of ad/click-tracking links a page may carry
// before it is classified as parked.
const AdLinkThreshold = 10

var parkingPhrases = []string{
	"domain for sale",
	"this domain is for sale",
	"this domain may be for sale",
	"buy this domain",
	"domain is parked",
	"parked free",
	"parked domain",
	"make an offer on this domain",
	"inquire about this domain",
	"the domain owner",
	"hugedomains",
	"sedo domain parking",
	"related searches",
}

// Title phrases name the domain itself; a plain "for sale" is ordinary
// marketplace copy.
var titlePhrases = []string{
	"domain for sale",
	"domain is for sale",
	"domain may be for sale",
	"buy this domain",
	"parked domain",
	"domain parking",
}

// hostForSale matches titles such as "example.com is for sale".
var hostForSale = regexp.MustCompile(`\b[a-z0-9-]+(\.[a-z0-9-]+)+\s+(is|may be)\s+for\s+sale\b`)

var adLinkMarkers = []string{
	"/click",
	"/aclk",
	"/pagead",
	"/adclick",
	"/ads/",
	"/sponsored",
	"/track",
	"doubleclick",
	"googlesyndication",
	"parkingcrew",
	"bodis",
}

// ParkingSignals is everything the detector looks at for one page.
type ParkingSignals struct {
	Title      string
	BodyText   string
	Anchors    []string
	ServedHost string
	StartHost  string
	// AdIframe is only meaningful for rendered pages; the static strategy
	// leaves it false.
	AdIframe bool
}

// ParkingVerdict is the detector's decision and the first rule that fired.
type ParkingVerdict struct {
	Parked bool
	Reason string
}

// DetectParking classifies a page as a parked or squatted domain.
func DetectParking(s ParkingSignals) ParkingVerdict {
	body := strings.ToLower(s.BodyText)
	for _, phrase := range parkingPhrases {
		if strings.Contains(body, phrase) {
			return ParkingVerdict{Parked: true, Reason: fmt.Sprintf("body contains %q", phrase)}
		}
	}
	if n := countAdLinks(s.Anchors); n > AdLinkThreshold {
		return ParkingVerdict{Parked: true, Reason: fmt.Sprintf("%d ad links", n)}
	}
	if s.AdIframe {
		return ParkingVerdict{Parked: true, Reason: "ad iframe present"}
	}
	title := strings.ToLower(s.Title)
	for _, phrase := range titlePhrases {
		if strings.Contains(title, phrase) {
			return ParkingVerdict{Parked: true, Reason: fmt.Sprintf("title contains %q", phrase)}
		}
	}
	if m := hostForSale.FindString(title); m != "" {
		return ParkingVerdict{Parked: true, Reason: fmt.Sprintf("title offers the domain: %q", m)}
	}
	if s.ServedHost != "" && s.StartHost != "" && !strings.EqualFold(s.ServedHost, s.StartHost) {
		return ParkingVerdict{Parked: true, Reason: fmt.Sprintf("served from %s", s.ServedHost)}
	}
	return ParkingVerdict{}
}

func countAdLinks(anchors []string) int {
	count := 0
	for _, link := range anchors {
		lower := strings.ToLower(link)
		for _, marker := range adLinkMarkers {
			if strings.Contains(lower, marker) {
				count++
				break
			}
		}
	}
	return count
}
