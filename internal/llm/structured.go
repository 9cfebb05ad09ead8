package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CompleteStructured asks for JSON matching schema and decodes it into T.
func CompleteStructured[T any](ctx context.Context, g Generator, prompt string, schema *Schema, opts ...Option) (T, error) {
	var out T

	text, err := g.Complete(ctx, prompt, append(opts, WithSchema(schema))...)
	if err != nil {
		return out, err
	}
	raw := []byte(stripFences(text))
	if len(raw) == 0 {
		return out, ErrEmptyResponse
	}
	if err := schema.Validate(raw); err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrInvalidOutput, schema.Name(), err)
	}
	return out, nil
}

// stripFences removes a Markdown code fence around a JSON body.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
