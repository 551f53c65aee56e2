package crawler

import (
	"net/url"
	"path"
	"strings"
)

// trackingParams lists query keys that never change page content.
var trackingParams = map[string]struct{}{
	"gclid":    {},
	"dclid":    {},
	"fbclid":   {},
	"msclkid":  {},
	"yclid":    {},
	"mc_cid":   {},
	"mc_eid":   {},
	"_ga":      {},
	"_gl":      {},
	"igshid":   {},
	"ref":      {},
	"ref_src":  {},
	"spm":      {},
	"_hsenc":   {},
	"_hsmi":    {},
	"oly_enc":  {},
	"vero_id":  {},
	"wickedid": {},
}

var staticAssetExtensions = map[string]struct{}{
	// images
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {}, ".bmp": {}, ".tif": {}, ".tiff": {}, ".avif": {},
	// styles and scripts
	".css": {}, ".js": {}, ".mjs": {}, ".map": {}, ".json": {}, ".xml": {}, ".rss": {},
	// fonts
	".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
	// media
	".mp3": {}, ".mp4": {}, ".webm": {}, ".ogg": {}, ".wav": {}, ".avi": {}, ".mov": {}, ".m4a": {},
	// archives and binaries
	".zip": {}, ".gz": {}, ".tgz": {}, ".tar": {}, ".rar": {}, ".7z": {}, ".bz2": {}, ".exe": {}, ".dmg": {}, ".apk": {}, ".iso": {},
	// documents
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {}, ".csv": {},
}

// Canonicalize returns the dedup key for a URL. It lowercases scheme and
// host, drops default ports, strips tracking parameters, sorts the remaining
// query, rewrites "#/route" hash paths into the path, drops other fragments,
// and removes trailing slashes. Input that cannot be parsed as an absolute
// URL is returned unchanged. The result is idempotent.
func Canonicalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	query := u.Query()
	if route, ok := hashRoute(u.Fragment); ok {
		routePath, routeQuery, _ := strings.Cut(route, "?")
		u.Path = strings.TrimRight(u.Path, "/") + routePath
		u.RawPath = ""
		if extra, perr := url.ParseQuery(routeQuery); perr == nil {
			for key, values := range extra {
				for _, v := range values {
					query.Add(key, v)
				}
			}
		}
	}
	u.Fragment = ""
	u.RawFragment = ""

	for key := range query {
		if isTrackingParam(key) {
			query.Del(key)
		}
	}
	u.RawQuery = query.Encode()
	u.ForceQuery = false

	u.Path = strings.TrimRight(u.Path, "/")
	if u.RawPath != "" {
		u.RawPath = strings.TrimRight(u.RawPath, "/")
	}
	return u.String()
}

func hashRoute(fragment string) (string, bool) {
	switch {
	case strings.HasPrefix(fragment, "/"):
		return fragment, true
	case strings.HasPrefix(fragment, "!/"):
		return fragment[1:], true
	default:
		return "", false
	}
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "utm_") {
		return true
	}
	_, ok := trackingParams[lower]
	return ok
}

// Hostname returns the lowercase hostname of rawURL, or "" when unparseable.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SameHost reports whether rawURL is served from exactly host. Subdomains
// do not match.
func SameHost(rawURL, host string) bool {
	h := Hostname(rawURL)
	return h != "" && h == strings.ToLower(host)
}

// IsStaticAsset reports whether the URL path ends in a non-page extension.
func IsStaticAsset(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return false
	}
	_, ok := staticAssetExtensions[ext]
	return ok
}

// ResolveLink resolves href against base and returns an absolute http(s) URL.
func ResolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:", "sms:", "ftp:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}

// FilterLinks keeps same-host, non-asset links, canonicalized and deduplicated
// in first-seen order.
func FilterLinks(links []string, startHost string) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, link := range links {
		if !SameHost(link, startHost) || IsStaticAsset(link) {
			continue
		}
		canonical := Canonicalize(link)
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	return out
}
