package knowledge

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Task types understood by the embedding API.
const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// GenAIEmbedder generates embeddings using Google's Gemini API.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
}

// NewGenAIEmbedder creates an embedder sharing client.
func NewGenAIEmbedder(client *genai.Client, model string) *GenAIEmbedder {
	if model == "" {
		model = "text-embedding-004"
	}
	return &GenAIEmbedder{client: client, model: model}
}

// EmbedDocument implements Embedder.
func (e *GenAIEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, taskRetrievalDocument)
}

// EmbedQuery implements Embedder.
func (e *GenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, taskRetrievalQuery)
}

func (e *GenAIEmbedder) embed(ctx context.Context, text, task string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		contents,
		&genai.EmbedContentConfig{
			TaskType: task,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, ErrNoEmbedding
	}
	return result.Embeddings[0].Values, nil
}
