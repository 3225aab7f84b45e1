package loginpage

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

type fakeGetter struct {
	responses map[string]fakeResponse
}

type fakeResponse struct {
	status  int
	body    string
	headers map[string]string
}

func (f *fakeGetter) Get(url string) (*http.Response, error) {
	resp, ok := f.responses[url]
	if !ok {
		return &http.Response{StatusCode: 404, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	header := make(http.Header)
	for k, v := range resp.headers {
		header.Set(k, v)
	}
	return &http.Response{StatusCode: resp.status, Body: io.NopCloser(strings.NewReader(resp.body)), Header: header}, nil
}

func TestHomepageNormalizesAndPrioritizes(t *testing.T) {
	rules := []models.PriorityRule{{Regex: "(?i)login", Priority: 50}}
	c := Homepage("HTTPS://Example.com/Login", rules)
	assert.Equal(t, "https://example.com/Login", c.URL)
	assert.Equal(t, models.StrategyHomepage, c.Strategy)
	assert.Equal(t, 50, c.Priority.Priority)
}

func TestManualEmitsConfiguredURLsVerbatim(t *testing.T) {
	cfg := models.ManualStrategyConfig{URLs: []string{"https://example.com/signin"}}
	out := Manual(cfg, nil)
	require.Len(t, out, 1)
	assert.Equal(t, models.StrategyManual, out[0].Strategy)
}

func TestPathsStopsAfterFirst200(t *testing.T) {
	getter := &fakeGetter{responses: map[string]fakeResponse{
		"https://example.com/login": {status: 200},
	}}
	// any non-configured URL (including the random sanity path) 404s via the
	// fake's default branch.
	cfg := models.PathsStrategyConfig{Schemes: []string{"https"}, Paths: []string{"login", "signin"}}

	out, err := Paths(getter, "example.com", cfg, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "https://example.com/login", out[0].URL)
}

func TestPathsSkipsOriginWhenSanityCheckReturns200(t *testing.T) {
	getter := &alwaysOKGetter{}
	cfg := models.PathsStrategyConfig{Schemes: []string{"https"}, Paths: []string{"login"}}

	out, err := Paths(getter, "example.com", cfg, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

type alwaysOKGetter struct{}

func (a *alwaysOKGetter) Get(url string) (*http.Response, error) {
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func TestRobotsExtractsLoginPaths(t *testing.T) {
	getter := &fakeGetter{responses: map[string]fakeResponse{
		"https://example.com/robots.txt": {
			status:  200,
			body:    "User-agent: *\nDisallow: /admin/login\nAllow: /public\n",
			headers: map[string]string{"Content-Type": "text/plain"},
		},
	}}
	cfg := models.RobotsStrategyConfig{LoginRegex: "login"}

	out, err := Robots(getter, "https://example.com", cfg, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "https://example.com/admin/login", out[0].URL)
}

type fakeClicker struct {
	anchors   []string
	navigated []string
}

func (f *fakeClicker) Anchors(ctx context.Context) ([]string, error) { return f.anchors, nil }
func (f *fakeClicker) ClickAndObserve(ctx context.Context, keywords []string, maxClicks int) ([]string, error) {
	return f.navigated, nil
}

func TestCrawlingFiltersBySameSiteAndRegex(t *testing.T) {
	clicker := &fakeClicker{
		anchors:   []string{"/login", "https://evil.example.org/login", "/about"},
		navigated: []string{"https://example.com/account/login"},
	}
	cfg := models.CrawlingStrategyConfig{LoginRegex: "login", GenericKeywords: []string{"sign in"}}

	out, err := Crawling(context.Background(), clicker, "https://example.com/", cfg, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	urls := []string{out[0].URL, out[1].URL}
	assert.ElementsMatch(t, []string{"https://example.com/login", "https://example.com/account/login"}, urls)
}

type fakeQuerier struct {
	pages [][]MetasearchResult
}

func (f *fakeQuerier) Search(ctx context.Context, query string, page int) ([]MetasearchResult, error) {
	if page-1 >= len(f.pages) {
		return nil, nil
	}
	return f.pages[page-1], nil
}

func TestMetasearchPagesUntilEnoughResults(t *testing.T) {
	querier := &fakeQuerier{pages: [][]MetasearchResult{
		{{URL: "https://example.com/a"}, {URL: "https://other.org/b"}},
		{{URL: "https://example.com/c"}},
	}}
	cfg := models.MetasearchStrategyConfig{SearchTerm: "login", SearchResultsNumber: 2}

	out, err := Metasearch(context.Background(), querier, "https://example.com", cfg, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "https://example.com/a", out[0].URL)
	assert.Equal(t, "https://example.com/c", out[1].URL)
}

func TestFinalizeDedupsAndSortsByPriority(t *testing.T) {
	in := []models.LoginPageCandidate{
		{URL: "https://example.com/a", Priority: models.CandidatePriority{Priority: 10}, Strategy: models.StrategyPaths},
		{URL: "HTTPS://EXAMPLE.com/a", Priority: models.CandidatePriority{Priority: 10}, Strategy: models.StrategyCrawling},
		{URL: "https://example.com/b", Priority: models.CandidatePriority{Priority: 50}, Strategy: models.StrategyManual},
	}
	out := Finalize(in)
	require.Len(t, out, 2)
	assert.Equal(t, "https://example.com/b", out[0].URL)
	assert.Equal(t, "https://example.com/a", out[1].URL)
	assert.Equal(t, models.StrategyPaths, out[1].Strategy, "first-seen strategy wins on dedup")
}
