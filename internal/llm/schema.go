package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a JSON schema reflected from a Go type and compiled for validation.
type Schema struct {
	name     string
	document map[string]any
	compiled *jsonschema.Schema
}

// SchemaFor reflects the JSON schema of T.
func SchemaFor[T any](name string) (*Schema, error) {
	var zero T
	reflector := invopop.Reflector{DoNotReference: true, ExpandedStruct: true}
	reflected := reflector.Reflect(&zero)

	raw, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("marshal %s schema: %w", name, err)
	}

	url := "mem://schemas/" + name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add %s schema resource: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}

	var document map[string]any
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("decode %s schema: %w", name, err)
	}
	// Model backends reject meta keywords.
	delete(document, "$schema")
	delete(document, "$id")

	return &Schema{name: name, document: document, compiled: compiled}, nil
}

// MustSchemaFor is SchemaFor for package-level schemas.
func MustSchemaFor[T any](name string) *Schema {
	s, err := SchemaFor[T](name)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema name.
func (s *Schema) Name() string {
	return s.name
}

// Document returns the schema as a JSON-compatible map.
func (s *Schema) Document() map[string]any {
	return s.document
}

// Validate checks raw JSON against the schema.
func (s *Schema) Validate(raw []byte) error {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidOutput, s.name, err)
	}
	if err := s.compiled.Validate(payload); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidOutput, s.name, err)
	}
	return nil
}
