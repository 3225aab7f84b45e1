// Package urlutil normalizes URLs and extracts registrable-domain (eTLD+1)
// information used throughout login-page candidate discovery (§4.3) and IdP
// request matching (§4.4). The normalization rules are adapted from the
// teacher's internal/utils/url_normalizer.go context-rule engine, repointed
// at scheme/host/path canonicalization instead of path templating.
package urlutil

import (
	"net/url"
	"sort"
	"strings"
)

var defaultPort = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalize canonicalizes rawURL: lower-cases scheme and host, strips a
// default port, collapses an empty path to "/", and removes a trailing
// fragment. It is a fixed point: Normalize(Normalize(u)) == Normalize(u)
// (§8).
func Normalize(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = normalizeHost(u.Scheme, u.Host)
	u.Fragment = ""

	if u.Path == "" {
		u.Path = "/"
	} else {
		u.Path = collapseSlashes(u.Path)
	}

	return u.String()
}

func normalizeHost(scheme, host string) string {
	if host == "" {
		return host
	}
	hostname, port, found := strings.Cut(host, ":")
	hostname = strings.ToLower(hostname)
	if !found {
		return hostname
	}
	if defaultPort[scheme] == port {
		return hostname
	}
	return hostname + ":" + port
}

func collapseSlashes(path string) string {
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if path == "" {
		return "/"
	}
	return path
}

// Join resolves ref (possibly relative) against base, then normalizes.
// Returns ("", false) if either fails to parse.
func Join(base, ref string) (string, bool) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	return Normalize(baseURL.ResolveReference(refURL).String()), true
}

// RegistrableDomain returns a best-effort eTLD+1 for host: the last two
// labels, except for a small set of well-known two-label public suffixes
// (co.uk-style) where the last three labels are kept. This mirrors
// tldextract's registered_domain used by original_source's URLHelper.get_tld,
// without requiring a live public-suffix-list dependency. host may be a bare
// host[:port] or a full URL; a full URL is reduced to its host first.
func RegistrableDomain(host string) string {
	host = hostOf(host)
	host = strings.ToLower(host)
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}

	secondLevelSuffixes := map[string]bool{
		"co.uk": true, "org.uk": true, "ac.uk": true, "gov.uk": true,
		"com.au": true, "net.au": true, "org.au": true,
		"co.jp": true, "co.nz": true, "co.za": true,
		"com.br": true, "com.cn": true,
	}
	lastTwo := strings.Join(labels[len(labels)-2:], ".")
	if secondLevelSuffixes[lastTwo] && len(labels) >= 3 {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return lastTwo
}

// SameRegistrableDomain reports whether two URLs (or bare hosts) share an
// eTLD+1, i.e. are "same-site" for the purposes of CRAWLING/SITEMAP/ROBOTS
// candidate filtering (§4.3).
func SameRegistrableDomain(a, b string) bool {
	return RegistrableDomain(hostOf(a)) == RegistrableDomain(hostOf(b))
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}

// Dedup removes duplicate normalized URLs from urls, keeping the first
// occurrence (§3 "de-duplicated by normalized URL, keeping the first-seen
// strategy/priority").
func Dedup(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		n := Normalize(u)
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// SortByLength is a stable helper used by callers that want deterministic
// iteration order over a set of paths before probing them (PATHS strategy).
func SortByLength(paths []string) []string {
	out := append([]string(nil), paths...)
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) < len(out[j]) })
	return out
}
