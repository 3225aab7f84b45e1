package loginpage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// searxQuerier queries a SearXNG-compatible metasearch endpoint's JSON API
// (§4.3 METASEARCH). SearXNG is the reference open-source metasearch
// engine; cfg.Endpoint is assumed to speak its /search?format=json
// contract.
type searxQuerier struct {
	client   *http.Client
	endpoint string
}

// NewSearxQuerier builds a MetasearchQuerier against a SearXNG-compatible
// endpoint, using client for the underlying requests.
func NewSearxQuerier(client *http.Client, endpoint string) MetasearchQuerier {
	return &searxQuerier{client: client, endpoint: endpoint}
}

type searxResult struct {
	URL string `json:"url"`
}

type searxResponse struct {
	Results []searxResult `json:"results"`
}

func (q *searxQuerier) Search(ctx context.Context, query string, page int) ([]MetasearchResult, error) {
	u, err := url.Parse(q.endpoint)
	if err != nil {
		return nil, fmt.Errorf("loginpage: parse metasearch endpoint: %w", err)
	}
	values := u.Query()
	values.Set("q", query)
	values.Set("format", "json")
	values.Set("pageno", strconv.Itoa(page))
	u.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("loginpage: build metasearch request: %w", err)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("loginpage: metasearch request: %w", err)
	}
	defer resp.Body.Close()

	var parsed searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("loginpage: decode metasearch response: %w", err)
	}

	out := make([]MetasearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		out = append(out, MetasearchResult{URL: r.URL})
	}
	return out, nil
}
