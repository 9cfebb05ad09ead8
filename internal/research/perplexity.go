package research

import (
	"context"
	"net/http"
)

// DefaultPerplexityURL is the Perplexity search endpoint.
const DefaultPerplexityURL = "https://api.perplexity.ai/search"

// Perplexity searches with the Perplexity Search API.
type Perplexity struct {
	client     *http.Client
	apiKey     string
	maxResults int
	url        string
}

// NewPerplexity creates a Perplexity provider. url may be empty.
func NewPerplexity(client *http.Client, apiKey string, maxResults int, url string) *Perplexity {
	if maxResults <= 0 {
		maxResults = 5
	}
	if url == "" {
		url = DefaultPerplexityURL
	}
	return &Perplexity{client: client, apiKey: apiKey, maxResults: maxResults, url: url}
}

// Name implements Provider.
func (p *Perplexity) Name() string { return ProviderPerplexity }

type perplexityRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type perplexityResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
		Date    string `json:"date"`
	} `json:"results"`
}

// Search implements Provider.
func (p *Perplexity) Search(ctx context.Context, query string) Result {
	res := Result{Provider: ProviderPerplexity, Query: query}
	if p.apiKey == "" {
		res.Error = errMissingKey.Error()
		return res
	}

	var out perplexityResponse
	err := postJSON(ctx, p.client, p.url, p.apiKey, perplexityRequest{
		Query:      query,
		MaxResults: p.maxResults,
	}, &out)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	for _, r := range out.Results {
		title := r.Title
		if title == "" {
			title = "No Title"
		}
		res.Items = append(res.Items, Item{Title: title, URL: r.URL, Content: r.Snippet, Date: r.Date})
	}
	return res
}
