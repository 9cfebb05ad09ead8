// Package llm defines the generation backend used by every turn.
package llm

import (
	"context"
	"errors"
	"iter"

	"github.com/ashureev/salesbot/internal/domain"
)

var (
	// ErrEmptyResponse is returned when the backend produced no text.
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrInvalidOutput is returned when structured output fails decoding or validation.
	ErrInvalidOutput = errors.New("model output does not match schema")
)

// Generator produces text for a prompt.
// Implementations must be safe for concurrent use.
type Generator interface {
	// Complete returns the full response for prompt.
	Complete(ctx context.Context, prompt string, opts ...Option) (string, error)

	// Stream returns response fragments as they are produced.
	// The sequence is finite and cannot be restarted.
	Stream(ctx context.Context, prompt string, opts ...Option) iter.Seq2[string, error]
}

// Request collects the optional parts of a generation call.
type Request struct {
	Instructions string
	History      []domain.Message
	Schema       *Schema
}

// Option configures a Request.
type Option func(*Request)

// WithInstructions sets a system instruction.
func WithInstructions(text string) Option {
	return func(r *Request) { r.Instructions = text }
}

// WithHistory sends prior turns before the prompt.
func WithHistory(messages []domain.Message) Option {
	return func(r *Request) { r.History = messages }
}

// WithSchema constrains the response to JSON matching s.
func WithSchema(s *Schema) Option {
	return func(r *Request) { r.Schema = s }
}

// NewRequest applies opts to an empty Request.
func NewRequest(opts ...Option) Request {
	var r Request
	for _, opt := range opts {
		opt(&r)
	}
	return r
}
