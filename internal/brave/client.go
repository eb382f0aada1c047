// Package brave backs the web_search tool with the Brave Search API.
package brave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"speedchat/internal/config"
	"speedchat/internal/parts"
)

const (
	defaultResultCount = 5
	maxQueryWords      = 50
	maxQueryRunes      = 100
	maxErrorBodyBytes  = 8 * 1024
)

var ErrMissingAPIKey = errors.New("brave api key is not configured")

type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("brave returned %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		apiKey:     strings.TrimSpace(cfg.BraveAPIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BraveBaseURL), "/"),
		httpClient: httpClient,
	}
}

// webResponse is the subset of /web/search we read. Older responses put
// results at the top level.
type webResponse struct {
	Web struct {
		Results []webResult `json:"results"`
	} `json:"web"`
	Results []webResult `json:"results"`
}

func (r webResponse) results() []webResult {
	if len(r.Web.Results) > 0 {
		return r.Web.Results
	}
	return r.Results
}

type webResult struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Snippet       string   `json:"snippet"`
	ExtraSnippets []string `json:"extra_snippets"`
	PageAge       string   `json:"page_age"`
	Age           string   `json:"age"`
	MetaURL       struct {
		Favicon string `json:"favicon"`
	} `json:"meta_url"`
}

// searchResult converts r, reporting false when it has no URL.
func (r webResult) searchResult() (parts.SearchResult, bool) {
	link := strings.TrimSpace(r.URL)
	if link == "" {
		return parts.SearchResult{}, false
	}
	extra := ""
	if len(r.ExtraSnippets) > 0 {
		extra = r.ExtraSnippets[0]
	}
	return parts.SearchResult{
		ID:            uuid.NewString(),
		URL:           link,
		Title:         firstNonBlank(r.Title, link),
		Snippet:       firstNonBlank(r.Description, r.Snippet, extra),
		Favicon:       strings.TrimSpace(r.MetaURL.Favicon),
		PublishedDate: firstNonBlank(r.PageAge, r.Age),
	}, true
}

// Search returns at most count web results for query, one per URL. A blank
// query returns no results without calling Brave.
func (c Client) Search(ctx context.Context, query string, count int) ([]parts.SearchResult, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	q := normalizeQuery(query)
	if q == "" {
		return nil, nil
	}
	if count <= 0 {
		count = defaultResultCount
	}

	var resp webResponse
	if err := c.get(ctx, "/web/search", url.Values{
		"q":                {q},
		"count":            {strconv.Itoa(count)},
		"spellcheck":       {"0"},
		"text_decorations": {"0"},
	}, &resp); err != nil {
		return nil, err
	}
	return collect(resp.results(), count), nil
}

func (c Client) get(ctx context.Context, path string, params url.Values, target any) error {
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse brave endpoint: %w", err)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build brave request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request brave: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode brave response: %w", err)
	}
	return nil
}

func collect(raw []webResult, limit int) []parts.SearchResult {
	out := make([]parts.SearchResult, 0, min(len(raw), limit))
	seen := make(map[string]bool, len(raw))
	for _, item := range raw {
		if len(out) == limit {
			break
		}
		result, ok := item.searchResult()
		if !ok || seen[result.URL] {
			continue
		}
		seen[result.URL] = true
		out = append(out, result)
	}
	return out
}

// normalizeQuery collapses whitespace and caps the query at maxQueryWords
// words and maxQueryRunes runes, cutting only between words.
func normalizeQuery(query string) string {
	words := strings.Fields(query)
	if len(words) > maxQueryWords {
		words = words[:maxQueryWords]
	}

	var b strings.Builder
	runes := 0
	for _, word := range words {
		n := len([]rune(word))
		if b.Len() > 0 {
			n++
		}
		if runes+n > maxQueryRunes {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
		runes += n
	}
	if b.Len() == 0 && len(words) > 0 {
		// A single oversized word is cut mid-word.
		return string([]rune(words[0])[:maxQueryRunes])
	}
	return b.String()
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
