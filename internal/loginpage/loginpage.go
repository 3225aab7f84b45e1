// Package loginpage implements the login-page candidate generation
// strategies (§4.3, C3): HOMEPAGE, MANUAL, PATHS, CRAWLING, SITEMAP,
// ROBOTS, and METASEARCH, plus the normalization/priority/dedup pass that
// turns their raw output into an ordered candidate list.
package loginpage

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/BetterCallFirewall/authlandscape/internal/authdetect"
	"github.com/BetterCallFirewall/authlandscape/internal/models"
	"github.com/BetterCallFirewall/authlandscape/internal/urlutil"
)

// HTTPGetter is the subset of an HTTP client the PATHS/SITEMAP/ROBOTS
// strategies need. *http.Client satisfies it directly.
type HTTPGetter interface {
	Get(url string) (*http.Response, error)
}

// Clicker abstracts the CRAWLING strategy's browser interaction so it can
// be unit tested without a live browser. Production wiring implements it
// over internal/browser and internal/locators.
type Clicker interface {
	// Anchors returns every absolute anchor href on the current page.
	Anchors(ctx context.Context) ([]string, error)
	// ClickAndObserve clicks each of up to maxClicks generic-login elements
	// and returns the URL navigated to, if any.
	ClickAndObserve(ctx context.Context, keywords []string, maxClicks int) ([]string, error)
}

// Homepage emits the resolved homepage URL as the sole candidate (§4.3).
func Homepage(resolvedURL string, rules []models.PriorityRule) models.LoginPageCandidate {
	return models.LoginPageCandidate{
		URL:      urlutil.Normalize(resolvedURL),
		Strategy: models.StrategyHomepage,
		Priority: urlutil.PriorityOf(resolvedURL, rules),
	}
}

// Manual emits every configured URL verbatim (§4.3).
func Manual(cfg models.ManualStrategyConfig, rules []models.PriorityRule) []models.LoginPageCandidate {
	out := make([]models.LoginPageCandidate, 0, len(cfg.URLs))
	for _, raw := range cfg.URLs {
		out = append(out, models.LoginPageCandidate{
			URL:      urlutil.Normalize(raw),
			Strategy: models.StrategyManual,
			Priority: urlutil.PriorityOf(raw, rules),
		})
	}
	return out
}

// Paths probes {scheme}://{domain}/{path} for each configured scheme and
// path against the domain it is given, gated by a 404-sanity check against
// a random path, and stops after the first 200 (§4.3).
// PathsStrategyConfig.UseSubdomain is not consulted.
func Paths(client HTTPGetter, domain string, cfg models.PathsStrategyConfig, rules []models.PriorityRule) ([]models.LoginPageCandidate, error) {
	schemes := cfg.Schemes
	if len(schemes) == 0 {
		schemes = []string{"https", "http"}
	}

	var out []models.LoginPageCandidate
	for _, scheme := range schemes {
		origin := fmt.Sprintf("%s://%s", scheme, domain)

		sanityURL := origin + "/" + uuid.NewString()
		sanityResp, err := client.Get(sanityURL)
		if err != nil {
			continue
		}
		sanityResp.Body.Close()
		if sanityResp.StatusCode == http.StatusOK {
			// This origin can't distinguish real paths from 404s; skip it.
			continue
		}

		for _, path := range urlutil.SortByLength(cfg.Paths) {
			candidateURL := origin + "/" + strings.TrimPrefix(path, "/")
			resp, err := client.Get(candidateURL)
			if err != nil {
				continue
			}
			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				continue
			}
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()

			candidate := models.LoginPageCandidate{
				URL:      urlutil.Normalize(candidateURL),
				Strategy: models.StrategyPaths,
				Priority: urlutil.PriorityOf(candidateURL, rules),
			}
			// Fold in a best-effort static password-form signal while the
			// body is already in hand, so a later browser-stage timeout or
			// skip doesn't lose this evidence entirely (§4.6).
			if err == nil {
				if detection := authdetect.DetectPasswordFormStatic(string(body), candidate.URL); detection.Detected {
					candidate.Info = map[string]any{"static_password_detection": detection}
				}
			}
			out = append(out, candidate)
			break
		}
		if len(out) > 0 {
			break
		}
	}
	return out, nil
}

// Crawling loads the homepage (already navigated by the caller) and
// collects two kinds of candidates: same-eTLD+1 anchors matching
// LoginRegex, and elements clicked via generic login keywords that
// navigate same-eTLD+1 (§4.3).
func Crawling(ctx context.Context, clicker Clicker, homepageURL string, cfg models.CrawlingStrategyConfig, rules []models.PriorityRule) ([]models.LoginPageCandidate, error) {
	var out []models.LoginPageCandidate

	loginRegex, err := regexp.Compile(cfg.LoginRegex)
	if err != nil {
		return nil, fmt.Errorf("loginpage: compile crawling login_regex: %w", err)
	}

	anchors, err := clicker.Anchors(ctx)
	if err != nil {
		return nil, fmt.Errorf("loginpage: list anchors: %w", err)
	}
	for _, href := range anchors {
		resolved, ok := urlutil.Join(homepageURL, href)
		if !ok || !urlutil.SameRegistrableDomain(resolved, homepageURL) {
			continue
		}
		if !loginRegex.MatchString(resolved) {
			continue
		}
		out = append(out, models.LoginPageCandidate{
			URL:      resolved,
			Strategy: models.StrategyCrawling,
			Priority: urlutil.PriorityOf(resolved, rules),
		})
	}

	maxClicks := cfg.MaxElementsToClick
	if maxClicks <= 0 {
		maxClicks = 5
	}
	navigated, err := clicker.ClickAndObserve(ctx, cfg.GenericKeywords, maxClicks)
	if err != nil {
		return nil, fmt.Errorf("loginpage: click-and-observe: %w", err)
	}
	for _, resolved := range navigated {
		if !urlutil.SameRegistrableDomain(resolved, homepageURL) {
			continue
		}
		out = append(out, models.LoginPageCandidate{
			URL:      urlutil.Normalize(resolved),
			Strategy: models.StrategyCrawling,
			Priority: urlutil.PriorityOf(resolved, rules),
		})
	}

	return out, nil
}

type sitemapIndex struct {
	XMLName  xml.Name      `xml:"sitemapindex"`
	Sitemaps []sitemapLink `xml:"sitemap"`
}

type sitemapLink struct {
	Loc string `xml:"loc"`
}

type urlset struct {
	XMLName xml.Name      `xml:"urlset"`
	URLs    []sitemapLink `xml:"url"`
}

// Sitemap recursively fetches sitemap trees starting from
// {origin}/sitemap.xml, bounded by MaxDepth and MaxSitemapURLs, keeping
// only same-eTLD+1 URLs matching LoginRegex (§4.3).
func Sitemap(client HTTPGetter, origin string, cfg models.SitemapStrategyConfig, rules []models.PriorityRule) ([]models.LoginPageCandidate, error) {
	loginRegex, err := regexp.Compile(cfg.LoginRegex)
	if err != nil {
		return nil, fmt.Errorf("loginpage: compile sitemap login_regex: %w", err)
	}

	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	maxURLs := cfg.MaxSitemapURLs
	if maxURLs <= 0 {
		maxURLs = 5000
	}

	var out []models.LoginPageCandidate
	seen := make(map[string]bool)
	var visit func(sitemapURL string, depth int) error
	visit = func(sitemapURL string, depth int) error {
		if depth > maxDepth || len(out) >= maxURLs || seen[sitemapURL] {
			return nil
		}
		seen[sitemapURL] = true

		body, err := fetchMaybeGzipped(client, sitemapURL)
		if err != nil {
			return nil
		}

		var index sitemapIndex
		if xml.Unmarshal(body, &index) == nil && len(index.Sitemaps) > 0 {
			for _, child := range index.Sitemaps {
				if err := visit(child.Loc, depth+1); err != nil {
					return err
				}
			}
			return nil
		}

		var set urlset
		if xml.Unmarshal(body, &set) != nil {
			return nil
		}
		for _, entry := range set.URLs {
			if len(out) >= maxURLs {
				break
			}
			if !urlutil.SameRegistrableDomain(entry.Loc, origin) || !loginRegex.MatchString(entry.Loc) {
				continue
			}
			out = append(out, models.LoginPageCandidate{
				URL:      urlutil.Normalize(entry.Loc),
				Strategy: models.StrategySitemap,
				Priority: urlutil.PriorityOf(entry.Loc, rules),
			})
		}
		return nil
	}

	if err := visit(origin+"/sitemap.xml", 0); err != nil {
		return nil, err
	}
	return out, nil
}

func fetchMaybeGzipped(client HTTPGetter, url string) ([]byte, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loginpage: %s returned %d", url, resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if strings.HasSuffix(url, ".gz") || resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

// Robots fetches /robots.txt (must be text/plain), extracts Allow/Disallow
// paths, and filters by LoginRegex (§4.3).
func Robots(client HTTPGetter, origin string, cfg models.RobotsStrategyConfig, rules []models.PriorityRule) ([]models.LoginPageCandidate, error) {
	loginRegex, err := regexp.Compile(cfg.LoginRegex)
	if err != nil {
		return nil, fmt.Errorf("loginpage: compile robots login_regex: %w", err)
	}

	resp, err := client.Get(origin + "/robots.txt")
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/plain") {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}

	var out []models.LoginPageCandidate
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		var path string
		switch {
		case strings.HasPrefix(strings.ToLower(line), "allow:"):
			path = strings.TrimSpace(line[len("allow:"):])
		case strings.HasPrefix(strings.ToLower(line), "disallow:"):
			path = strings.TrimSpace(line[len("disallow:"):])
		default:
			continue
		}
		if path == "" || !loginRegex.MatchString(path) {
			continue
		}
		candidateURL := origin + path
		out = append(out, models.LoginPageCandidate{
			URL:      urlutil.Normalize(candidateURL),
			Strategy: models.StrategyRobots,
			Priority: urlutil.PriorityOf(candidateURL, rules),
		})
	}
	return out, nil
}

// MetasearchResult is one ranked hit, in the order the search engine
// returned it; that order is preserved into the candidate list (§4.3).
type MetasearchResult struct {
	URL string
}

// MetasearchQuerier abstracts the meta-search backend so it can be faked in
// tests.
type MetasearchQuerier interface {
	Search(ctx context.Context, query string, page int) ([]MetasearchResult, error)
}

// Metasearch queries the configured meta-search service with "{search_term}
// {etld1}", paging until search_results_number same-eTLD+1 results are
// collected, preserving search-engine order (§4.3).
func Metasearch(ctx context.Context, querier MetasearchQuerier, origin string, cfg models.MetasearchStrategyConfig, rules []models.PriorityRule) ([]models.LoginPageCandidate, error) {
	etld1 := urlutil.RegistrableDomain(hostOf(origin))
	query := fmt.Sprintf("%s %s", cfg.SearchTerm, etld1)

	want := cfg.SearchResultsNumber
	if want <= 0 {
		want = 10
	}

	var out []models.LoginPageCandidate
	for page := 1; len(out) < want; page++ {
		results, err := querier.Search(ctx, query, page)
		if err != nil {
			return nil, fmt.Errorf("loginpage: metasearch query %q page %d: %w", query, page, err)
		}
		if len(results) == 0 {
			break
		}
		for _, r := range results {
			if !urlutil.SameRegistrableDomain(r.URL, origin) {
				continue
			}
			out = append(out, models.LoginPageCandidate{
				URL:      urlutil.Normalize(r.URL),
				Strategy: models.StrategyMetasearch,
				Priority: urlutil.PriorityOf(r.URL, rules),
			})
			if len(out) >= want {
				break
			}
		}
	}
	return out, nil
}

func hostOf(rawURL string) string {
	if idx := strings.Index(rawURL, "://"); idx >= 0 {
		rest := rawURL[idx+3:]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			return rest[:slash]
		}
		return rest
	}
	return rawURL
}

// Finalize normalizes, de-duplicates (keeping first-seen strategy/priority)
// and sorts candidates by non-increasing priority with a strategy-rank
// tie-break (§4.3, §8).
func Finalize(candidates []models.LoginPageCandidate) []models.LoginPageCandidate {
	seen := make(map[string]int, len(candidates))
	out := make([]models.LoginPageCandidate, 0, len(candidates))
	for _, c := range candidates {
		c.URL = urlutil.Normalize(c.URL)
		if _, ok := seen[c.URL]; ok {
			continue
		}
		seen[c.URL] = len(out)
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.Priority != out[j].Priority.Priority {
			return out[i].Priority.Priority > out[j].Priority.Priority
		}
		return models.StrategyRank(out[i].Strategy) < models.StrategyRank(out[j].Strategy)
	})
	return out
}
