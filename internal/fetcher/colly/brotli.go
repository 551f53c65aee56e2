package collyfetcher

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// brotliTransport advertises br alongside gzip and decodes br bodies before
// colly sees them. Colly inflates gzip itself.
type brotliTransport struct {
	base http.RoundTripper
}

func (t *brotliTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", "gzip, br")
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	if strings.EqualFold(strings.TrimSpace(resp.Header.Get("Content-Encoding")), "br") {
		resp.Body = &brotliBody{Reader: brotli.NewReader(resp.Body), closer: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
		resp.Uncompressed = true
	}
	return resp, nil
}

type brotliBody struct {
	*brotli.Reader
	closer io.Closer
}

func (b *brotliBody) Close() error {
	return b.closer.Close()
}
