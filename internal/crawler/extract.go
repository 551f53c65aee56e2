package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// adIframeSelector matches iframes typically injected by ad networks and
// parking providers.
const adIframeSelector = `iframe[src*="ads"], iframe[id*="google_ads"], iframe[src*="doubleclick"], ` +
	`iframe[src*="googlesyndication"], iframe[name*="ad"], iframe[src*="adserver"]`

var skippedTextElements = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
	"iframe":   {},
	"svg":      {},
	"head":     {},
}

// Extraction is what both fetch strategies read out of a page's markup.
type Extraction struct {
	Title    string
	Text     string
	Anchors  []string
	AdIframe bool
}

// Extract parses markup served at pageURL. Anchors holds every absolute
// http(s) link in document order; use FilterLinks for frontier candidates.
func Extract(body []byte, pageURL string) (Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Extraction{}, fmt.Errorf("parse markup: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return Extraction{}, fmt.Errorf("parse page url: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, rerr := base.Parse(strings.TrimSpace(href)); rerr == nil {
			base = resolved
		}
	}

	var anchors []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if abs, ok := ResolveLink(base, href); ok {
			anchors = append(anchors, abs)
		}
	})

	return Extraction{
		Title:    collapseSpace(doc.Find("title").First().Text()),
		Text:     visibleText(doc),
		Anchors:  anchors,
		AdIframe: doc.Find(adIframeSelector).Length() > 0,
	}, nil
}

func visibleText(doc *goquery.Document) string {
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	var sb strings.Builder
	for _, node := range root.Nodes {
		writeText(&sb, node)
	}
	return collapseSpace(sb.String())
}

func writeText(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
		return
	case html.ElementNode:
		if _, skip := skippedTextElements[n.Data]; skip {
			return
		}
		if hidden(n) {
			return
		}
	case html.CommentNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(sb, c)
	}
}

func hidden(n *html.Node) bool {
	for _, attr := range n.Attr {
		switch attr.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if attr.Val == "true" {
				return true
			}
		case "style":
			style := strings.ReplaceAll(strings.ToLower(attr.Val), " ", "")
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
