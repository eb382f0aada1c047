package brave

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speedchat/internal/config"
)

func TestSearchReturnsResults(t *testing.T) {
	var receivedToken string
	var receivedQuery string
	var receivedCount string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedToken = r.Header.Get("X-Subscription-Token")
		receivedQuery = r.URL.Query().Get("q")
		receivedCount = r.URL.Query().Get("count")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
		  "web": {
		    "results": [
		      {"url":"https://example.com/a","title":"Example A","description":"Snippet A","page_age":"2025-10-01T00:00:00","meta_url":{"favicon":"https://imgs.example/a.ico"}},
		      {"url":"https://example.com/a","title":"Example A Dup","description":"Duplicate"},
		      {"url":"","title":"No URL"},
		      {"url":"https://example.com/b","title":"","snippet":"Snippet B","age":"2 days ago"},
		      {"url":"https://example.com/c","title":"C","extra_snippets":[" Extra C "]}
		    ]
		  }
		}`))
	}))
	defer server.Close()

	client := NewClient(config.Config{
		BraveAPIKey:  "brave-key",
		BraveBaseURL: server.URL,
	}, server.Client())

	results, err := client.Search(context.Background(), "latest ai news", 3)
	require.NoError(t, err)

	assert.Equal(t, "brave-key", receivedToken)
	assert.Equal(t, "latest ai news", receivedQuery)
	assert.Equal(t, "3", receivedCount)

	require.Len(t, results, 3)
	assert.Equal(t, "https://example.com/a", results[0].URL)
	assert.Equal(t, "Example A", results[0].Title)
	assert.Equal(t, "Snippet A", results[0].Snippet)
	assert.Equal(t, "https://imgs.example/a.ico", results[0].Favicon)
	assert.Equal(t, "2025-10-01T00:00:00", results[0].PublishedDate)

	assert.Equal(t, "https://example.com/b", results[1].Title)
	assert.Equal(t, "Snippet B", results[1].Snippet)
	assert.Equal(t, "2 days ago", results[1].PublishedDate)
	assert.Empty(t, results[1].Favicon)

	assert.Equal(t, "Extra C", results[2].Snippet)

	for _, result := range results {
		_, err := uuid.Parse(result.ID)
		assert.NoError(t, err)
	}
	assert.NotEqual(t, results[0].ID, results[1].ID)
}

func TestSearchFallsBackToTopLevelResultsAndTrimsQuery(t *testing.T) {
	var receivedQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedQuery = r.URL.Query().Get("q")
		assert.Equal(t, "5", r.URL.Query().Get("count"))
		_, _ = w.Write([]byte(`{"results":[{"url":"https://example.com/x","title":"X"}]}`))
	}))
	defer server.Close()

	client := NewClient(config.Config{BraveAPIKey: "k", BraveBaseURL: server.URL + "/"}, server.Client())

	long := strings.TrimSpace(strings.Repeat("a ", maxQueryWords+10))
	results, err := client.Search(context.Background(), long, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Len(t, strings.Fields(receivedQuery), maxQueryWords)
}

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "collapses whitespace", query: "  go \t generics\n news ", want: "go generics news"},
		{name: "cuts between words at rune cap", query: strings.Repeat("golang ", 20), want: strings.TrimSpace(strings.Repeat("golang ", 14))},
		{name: "counts runes not bytes", query: strings.Repeat("ü", 60) + " " + strings.Repeat("é", 39), want: strings.Repeat("ü", 60) + " " + strings.Repeat("é", 39)},
		{name: "cuts oversized single word", query: strings.Repeat("x", maxQueryRunes+5), want: strings.Repeat("x", maxQueryRunes)},
		{name: "blank", query: " \n ", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeQuery(tt.query)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len([]rune(got)), maxQueryRunes)
		})
	}
}

func TestSearchBlankQueryReturnsNothing(t *testing.T) {
	client := NewClient(config.Config{BraveAPIKey: "k", BraveBaseURL: "http://127.0.0.1:0"}, nil)

	results, err := client.Search(context.Background(), "   ", 3)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestSearchReturnsErrMissingAPIKey(t *testing.T) {
	client := NewClient(config.Config{
		BraveAPIKey:  "",
		BraveBaseURL: "https://api.search.brave.com/res/v1",
	}, nil)

	_, err := client.Search(context.Background(), "test", 3)
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestSearchReturnsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer server.Close()

	client := NewClient(config.Config{
		BraveAPIKey:  "bad-key",
		BraveBaseURL: server.URL,
	}, server.Client())

	_, err := client.Search(context.Background(), "test", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "brave returned 401")

	var apiErr APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
