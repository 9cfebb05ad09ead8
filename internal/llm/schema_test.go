package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/salesbot/internal/llm"
	"github.com/ashureev/salesbot/internal/llm/llmtest"
)

type verdict struct {
	Label string   `json:"label" jsonschema:"enum=yes,enum=no"`
	Notes []string `json:"notes,omitempty"`
}

var verdictSchema = llm.MustSchemaFor[verdict]("verdict")

func TestSchemaDocumentOmitsMetaKeywords(t *testing.T) {
	doc := verdictSchema.Document()
	if _, ok := doc["$schema"]; ok {
		t.Error("expected $schema to be removed")
	}
	if _, ok := doc["properties"]; !ok {
		t.Errorf("expected properties in schema, got %v", doc)
	}
}

func TestSchemaValidate(t *testing.T) {
	if err := verdictSchema.Validate([]byte(`{"label":"yes"}`)); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	if err := verdictSchema.Validate([]byte(`{"label":"maybe"}`)); !errors.Is(err, llm.ErrInvalidOutput) {
		t.Fatalf("expected ErrInvalidOutput for enum violation, got %v", err)
	}
	if err := verdictSchema.Validate([]byte(`not json`)); !errors.Is(err, llm.ErrInvalidOutput) {
		t.Fatalf("expected ErrInvalidOutput for bad json, got %v", err)
	}
}

func TestCompleteStructured(t *testing.T) {
	gen := llmtest.New(llmtest.Rule{
		Schema: "verdict",
		Reply:  "```json\n{\"label\":\"no\",\"notes\":[\"a\",\"b\"]}\n```",
	})

	got, err := llm.CompleteStructured[verdict](context.Background(), gen, "judge", verdictSchema)
	if err != nil {
		t.Fatalf("CompleteStructured failed: %v", err)
	}
	want := verdict{Label: "no", Notes: []string{"a", "b"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	calls := gen.Calls()
	if len(calls) != 1 || calls[0].Request.Schema != verdictSchema {
		t.Errorf("expected schema to be passed to generator, got %+v", calls)
	}
}

func TestCompleteStructuredRejectsInvalid(t *testing.T) {
	gen := llmtest.New(llmtest.Rule{Reply: `{"label":"perhaps"}`})

	_, err := llm.CompleteStructured[verdict](context.Background(), gen, "judge", verdictSchema)
	if !errors.Is(err, llm.ErrInvalidOutput) {
		t.Fatalf("expected ErrInvalidOutput, got %v", err)
	}
}
