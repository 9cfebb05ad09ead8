// Package knowledge stores research summaries as embeddings and retrieves
// the passages most similar to a query.
package knowledge

import (
	"context"
	"errors"
)

// TypeResearchSummary tags passages written after a research run.
const TypeResearchSummary = "research_summary"

// ErrNoEmbedding is returned when the embedder produced no vector.
var ErrNoEmbedding = errors.New("no embedding returned")

// Retriever is the knowledge store used by agents.
type Retriever interface {
	// Query returns passages for company ordered by descending similarity.
	// An empty company searches every passage.
	Query(ctx context.Context, text, company string) ([]string, error)

	// Store indexes text with its metadata.
	Store(ctx context.Context, text string, meta Metadata) error
}

// Metadata describes a stored passage.
type Metadata struct {
	Company string `json:"company"`
	Type    string `json:"type"`
	Source  string `json:"source,omitempty"`
	Scope   string `json:"scope,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// Embedder turns text into vectors.
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Nop is a Retriever that stores nothing and finds nothing.
type Nop struct{}

// Query implements Retriever.
func (Nop) Query(context.Context, string, string) ([]string, error) { return nil, nil }

// Store implements Retriever.
func (Nop) Store(context.Context, string, Metadata) error { return nil }
