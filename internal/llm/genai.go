package llm

import (
	"context"
	"fmt"
	"iter"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/ashureev/salesbot/internal/domain"
)

// GenAIConfig selects the model and sampling settings.
type GenAIConfig struct {
	Model       string
	Temperature float64
}

// GenAI is a Generator backed by the Gemini API.
type GenAI struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}

// NewGenAI wraps client as a Generator.
func NewGenAI(client *genai.Client, cfg GenAIConfig) *GenAI {
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GenAI{
		client:      client,
		model:       model,
		temperature: float32(cfg.Temperature),
	}
}

// Complete implements Generator.
func (g *GenAI) Complete(ctx context.Context, prompt string, opts ...Option) (string, error) {
	req := NewRequest(opts...)
	ctx, span := g.startSpan(ctx, "llm.Complete", req)
	defer span.End()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, g.contents(req, prompt), g.config(req))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate content failed")
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		span.SetStatus(codes.Error, "empty response")
		return "", ErrEmptyResponse
	}
	span.SetAttributes(attribute.Int("llm.response_chars", len(text)))
	return text, nil
}

// Stream implements Generator.
func (g *GenAI) Stream(ctx context.Context, prompt string, opts ...Option) iter.Seq2[string, error] {
	req := NewRequest(opts...)
	return func(yield func(string, error) bool) {
		ctx, span := g.startSpan(ctx, "llm.Stream", req)
		defer span.End()

		chunks := 0
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, g.contents(req, prompt), g.config(req)) {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "stream failed")
				yield("", fmt.Errorf("stream content: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			chunks++
			if !yield(text, nil) {
				return
			}
		}
		span.SetAttributes(attribute.Int("llm.chunks", chunks))
	}
}

func (g *GenAI) startSpan(ctx context.Context, name string, req Request) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.model", g.model),
		attribute.Int("llm.history", len(req.History)),
	}
	if req.Schema != nil {
		attrs = append(attrs, attribute.String("llm.schema", req.Schema.Name()))
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (g *GenAI) config(req Request) *genai.GenerateContentConfig {
	temperature := g.temperature
	cfg := &genai.GenerateContentConfig{Temperature: &temperature}
	if req.Instructions != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.Instructions, genai.RoleUser)
	}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = req.Schema.Document()
	}
	return cfg
}

func (g *GenAI) contents(req Request, prompt string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, msg := range req.History {
		role := genai.Role(genai.RoleUser)
		if msg.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return append(contents, genai.NewContentFromText(prompt, genai.RoleUser))
}
