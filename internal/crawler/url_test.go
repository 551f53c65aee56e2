package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "root trailing slash", in: "https://example.com/", want: "https://example.com"},
		{name: "path trailing slash", in: "https://example.com/a/", want: "https://example.com/a"},
		{name: "tracking params", in: "https://example.com/a?utm_source=x&utm_medium=y&fbclid=z", want: "https://example.com/a"},
		{name: "keeps real params sorted", in: "https://example.com/a?b=2&gclid=1&a=1", want: "https://example.com/a?a=1&b=2"},
		{name: "hash route", in: "https://example.com/#/pricing", want: "https://example.com/pricing"},
		{name: "hashbang route", in: "https://example.com/app#!/docs/", want: "https://example.com/app/docs"},
		{name: "plain fragment dropped", in: "https://example.com/a#section", want: "https://example.com/a"},
		{name: "case and default port", in: "HTTPS://Example.COM:443/Path", want: "https://example.com/Path"},
		{name: "hash route query merged", in: "https://example.com/#/a?utm_campaign=q&page=2", want: "https://example.com/a?page=2"},
		{name: "relative left alone", in: "/relative/path/", want: "/relative/path/"},
		{name: "unparseable left alone", in: "http://[::1", want: "http://[::1"},
		{name: "mailto left alone", in: "mailto:someone@example.com", want: "mailto:someone@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Canonicalize(tt.in))
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://example.com/",
		"https://example.com/a/b/?utm_source=news&x=1&x=2",
		"https://example.com/app#/users/42?tab=posts",
		"http://example.com:80/a%20b/?q=hello+world",
		"https://example.com/?empty",
		"https://example.com/a//",
		"not a url",
	}
	for _, in := range inputs {
		once := Canonicalize(in)
		require.Equal(t, once, Canonicalize(once), "input %q", in)
	}
}

func TestCanonicalizeEquivalentForms(t *testing.T) {
	t.Parallel()

	base := Canonicalize("https://example.com/a")
	require.Equal(t, base, Canonicalize("https://example.com/a?utm_source=x"))
	require.Equal(t, base, Canonicalize("https://example.com/a/"))
	require.Equal(t, base, Canonicalize("https://example.com/#/a"))
}

func TestSameHostAndAssets(t *testing.T) {
	t.Parallel()

	require.True(t, SameHost("https://Example.com/a", "example.com"))
	require.False(t, SameHost("https://blog.example.com/a", "example.com"))
	require.False(t, SameHost("https://example.org/a", "example.com"))
	require.False(t, SameHost("::bad", "example.com"))

	require.True(t, IsStaticAsset("https://example.com/logo.PNG"))
	require.True(t, IsStaticAsset("https://example.com/app.js?v=3"))
	require.True(t, IsStaticAsset("https://example.com/files/report.pdf"))
	require.False(t, IsStaticAsset("https://example.com/about"))
	require.False(t, IsStaticAsset("https://example.com/post.html"))
}

func TestResolveLink(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/docs/intro")
	require.NoError(t, err)

	abs, ok := ResolveLink(base, "../pricing")
	require.True(t, ok)
	require.Equal(t, "https://example.com/pricing", abs)

	for _, href := range []string{"", "javascript:void(0)", "mailto:a@b.c", "tel:123", "ftp://example.com/f"} {
		_, ok := ResolveLink(base, href)
		require.False(t, ok, href)
	}
}

func TestFilterLinks(t *testing.T) {
	t.Parallel()

	links := []string{
		"https://example.com/a?utm_source=x",
		"https://example.com/a",
		"https://example.com/a/",
		"https://sub.example.com/b",
		"https://other.org/c",
		"https://example.com/style.css",
		"https://example.com/#/d",
	}
	require.Equal(t, []string{"https://example.com/a", "https://example.com/d"}, FilterLinks(links, "example.com"))
}
