package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SearxNG implements Searcher against a SearxNG instance's /search endpoint,
// requesting JSON output per the SearxNG JSON API.
type SearxNG struct {
	BaseURL    string
	APIKey     string // optional
	HTTPClient *http.Client
	UserAgent  string
	// MaxResults caps how many URLs a single Search call returns. The
	// orchestrator applies its own max_search_items cap on top of this, so
	// leaving it at zero (no cap here) is the common case.
	MaxResults int
}

func (s *SearxNG) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Search performs a single meta-search GET request and returns the ordered
// result URLs. Any failure — network error, non-2xx status, bad JSON — is
// logged and reported as an empty slice; it never propagates as an error.
func (s *SearxNG) Search(ctx context.Context, query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	if s.BaseURL == "" {
		log.Warn().Msg("searxng: missing base url")
		return nil
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("searxng: invalid base url")
		return nil
	}
	if !strings.HasSuffix(u.Path, "/search") {
		u.Path = strings.TrimRight(u.Path, "/") + "/search"
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	if s.APIKey != "" {
		q.Set("apikey", s.APIKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		log.Warn().Err(err).Msg("searxng: build request")
		return nil
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}

	resp, err := s.client().Do(req)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("searxng: request failed")
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Int("status", resp.StatusCode).Str("query", query).Msg("searxng: non-2xx response")
		return nil
	}

	var sr searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		log.Warn().Err(err).Msg("searxng: decode response")
		return nil
	}

	limit := s.MaxResults
	out := make([]string, 0, len(sr.Results))
	for _, r := range sr.Results {
		u := strings.TrimSpace(r.URL)
		if u == "" {
			continue
		}
		out = append(out, u)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

var _ Searcher = (*SearxNG)(nil)
