// Package research runs web searches against the configured providers.
package research

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/ashureev/salesbot/internal/knowledge"
)

// Provider names.
const (
	ProviderTavily     = "tavily"
	ProviderPerplexity = "perplexity"
)

// Item is one search hit.
type Item struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
	Date    string  `json:"date,omitempty"`
}

// Result is the outcome of one provider call.
// Failures are carried in Error so callers always get partial data.
type Result struct {
	Provider string `json:"provider"`
	Query    string `json:"query"`
	Answer   string `json:"answer,omitempty"`
	Items    []Item `json:"results,omitempty"`
	Error    string `json:"error,omitempty"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Error == ""
}

// Provider is a web search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) Result
}

// Queries are the two search strings used for one research run.
type Queries struct {
	Lookup   string `json:"lookup_query" jsonschema:"description=Short keyword query for factual lookup"`
	Analysis string `json:"analysis_query" jsonschema:"description=Natural language question for deeper analysis"`
}

// Dossier collects provider results keyed by provider name.
type Dossier map[string]Result

// Failed reports whether every provider failed.
func (d Dossier) Failed() bool {
	for _, r := range d {
		if r.OK() {
			return false
		}
	}
	return true
}

// JSON renders the dossier for prompts and research records.
func (d Dossier) JSON() string {
	b, err := json.Marshal(d)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Compact renders the dossier as plain text capped at limit bytes.
// Failed providers keep their error line so readers see what is missing.
// A limit of zero disables the cap.
func (d Dossier) Compact(limit int) string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		r := d[name]
		b.WriteString("## " + name + "\n")
		if !r.OK() {
			b.WriteString("error: " + r.Error + "\n\n")
			continue
		}
		if r.Answer != "" {
			b.WriteString(r.Answer + "\n")
		}
		for _, it := range r.Items {
			b.WriteString("- " + it.Title)
			if it.URL != "" {
				b.WriteString(" (" + it.URL + ")")
			}
			b.WriteString(": " + strings.TrimSpace(it.Content) + "\n")
		}
		b.WriteString("\n")
	}

	return knowledge.Truncate(strings.TrimSpace(b.String()), limit)
}

// Sources lists the providers that answered, sorted.
func (d Dossier) Sources() []string {
	var names []string
	for name, r := range d {
		if r.OK() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
