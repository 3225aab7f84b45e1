package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIsFixedPoint(t *testing.T) {
	cases := []string{
		"HTTPS://Example.COM:443/a//b/",
		"http://example.com:80/",
		"https://example.com",
		"https://example.com/path?x=1#frag",
	}
	for _, c := range cases {
		once := Normalize(c)
		twice := Normalize(once)
		assert.Equal(t, once, twice, "Normalize must be a fixed point for %q", c)
	}
}

func TestNormalizeLowercasesSchemeAndHost(t *testing.T) {
	assert.Equal(t, "https://example.com/", Normalize("HTTPS://EXAMPLE.com"))
}

func TestNormalizeStripsDefaultPort(t *testing.T) {
	assert.Equal(t, "https://example.com/", Normalize("https://example.com:443"))
	assert.Equal(t, "http://example.com/", Normalize("http://example.com:80"))
	assert.Equal(t, "https://example.com:8443/", Normalize("https://example.com:8443"))
}

func TestNormalizeDropsFragment(t *testing.T) {
	assert.Equal(t, "https://example.com/login", Normalize("https://example.com/login#section"))
}

func TestNormalizeCollapsesSlashes(t *testing.T) {
	assert.Equal(t, "https://example.com/a/b", Normalize("https://example.com/a//b"))
}

func TestRegistrableDomain(t *testing.T) {
	assert.Equal(t, "example.com", RegistrableDomain("www.example.com"))
	assert.Equal(t, "example.com", RegistrableDomain("login.sso.example.com"))
	assert.Equal(t, "example.co.uk", RegistrableDomain("www.example.co.uk"))
	assert.Equal(t, "example.com", RegistrableDomain("example.com"))
}

func TestRegistrableDomainAcceptsFullURLs(t *testing.T) {
	assert.Equal(t, "example.com", RegistrableDomain("https://login.example.com/sso"))
	assert.Equal(t, "example.com", RegistrableDomain("http://example.com:8080/"))
}

func TestSameRegistrableDomain(t *testing.T) {
	assert.True(t, SameRegistrableDomain("https://login.example.com/a", "https://www.example.com/b"))
	assert.False(t, SameRegistrableDomain("https://example.com", "https://example.org"))
}

func TestJoinResolvesRelative(t *testing.T) {
	got, ok := Join("https://example.com/app/", "../login")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/login", got)
}

func TestDedupKeepsFirstSeen(t *testing.T) {
	in := []string{
		"https://example.com/login",
		"HTTPS://EXAMPLE.COM:443/login",
		"https://example.com/signup",
	}
	out := Dedup(in)
	assert.Equal(t, []string{"https://example.com/login", "https://example.com/signup"}, out)
}
