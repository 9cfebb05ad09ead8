package research

import (
	"context"
	"errors"
	"net/http"
)

// DefaultTavilyURL is the Tavily search endpoint.
const DefaultTavilyURL = "https://api.tavily.com/search"

var errMissingKey = errors.New("api key not configured")

// Tavily searches with the Tavily API.
type Tavily struct {
	client *http.Client
	apiKey string
	depth  string
	url    string
}

// NewTavily creates a Tavily provider. url may be empty.
func NewTavily(client *http.Client, apiKey, depth, url string) *Tavily {
	if depth == "" {
		depth = "advanced"
	}
	if url == "" {
		url = DefaultTavilyURL
	}
	return &Tavily{client: client, apiKey: apiKey, depth: depth, url: url}
}

// Name implements Provider.
func (t *Tavily) Name() string { return ProviderTavily }

type tavilyRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search implements Provider.
func (t *Tavily) Search(ctx context.Context, query string) Result {
	res := Result{Provider: ProviderTavily, Query: query}
	if t.apiKey == "" {
		res.Error = errMissingKey.Error()
		return res
	}

	var out tavilyResponse
	err := postJSON(ctx, t.client, t.url, t.apiKey, tavilyRequest{
		Query:         query,
		SearchDepth:   t.depth,
		IncludeAnswer: true,
	}, &out)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Answer = out.Answer
	for _, r := range out.Results {
		res.Items = append(res.Items, Item{Title: r.Title, URL: r.URL, Content: r.Content, Score: r.Score})
	}
	return res
}
