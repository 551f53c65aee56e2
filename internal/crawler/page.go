package crawler

import "time"

// PageInput bundles what a fetch strategy observed for one URL.
type PageInput struct {
	RequestURL string
	ServedURL  string
	StartHost  string
	Strategy   Strategy
	Extraction Extraction
	FetchedAt  time.Time
}

// BuildPage runs the parking detector and content checks over a strategy's
// extraction. It returns a DomainParkingError or ContentError on rejection.
func BuildPage(in PageInput) (PageResult, error) {
	served := in.ServedURL
	if served == "" {
		served = in.RequestURL
	}
	adIframe := in.Strategy == StrategyRendered && in.Extraction.AdIframe
	verdict := DetectParking(ParkingSignals{
		Title:      in.Extraction.Title,
		BodyText:   in.Extraction.Text,
		Anchors:    in.Extraction.Anchors,
		ServedHost: Hostname(served),
		StartHost:  in.StartHost,
		AdIframe:   adIframe,
	})
	if verdict.Parked {
		return PageResult{}, DomainParkingError(in.RequestURL, in.Strategy, verdict.Reason)
	}
	if in.Extraction.Title == "" && in.Extraction.Text == "" {
		return PageResult{}, ContentError(in.RequestURL, in.Strategy, "empty title and text")
	}
	return PageResult{
		URL:       in.RequestURL,
		Title:     in.Extraction.Title,
		Text:      in.Extraction.Text,
		Links:     FilterLinks(in.Extraction.Anchors, in.StartHost),
		Strategy:  in.Strategy,
		ServedURL: served,
		FetchedAt: in.FetchedAt,
	}, nil
}
