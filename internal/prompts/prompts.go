// Package prompts renders the prompt templates baked into the binary.
package prompts

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Template names.
const (
	InPlaceEdit        = "in_place_edit"
	IntentAnalysis     = "intent_analysis"
	QueryGeneration    = "query_generation"
	FollowUpQuery      = "followup_query"
	ResearchEvaluation = "research_evaluation"
	ResearchSynthesis  = "research_synthesis"
	PlanGeneration     = "plan_generation"
	EditListSection    = "edit_list_section"
	EditTextSection    = "edit_text_section"
	ChatInstructions   = "chat_instructions"
)

//go:embed prompts.yaml
var embedded []byte

var templates = mustParse(embedded)

func mustParse(data []byte) map[string]*template.Template {
	parsed, err := parse(data)
	if err != nil {
		panic(fmt.Sprintf("prompts: %v", err))
	}
	return parsed
}

func parse(data []byte) (map[string]*template.Template, error) {
	raw := map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode prompt yaml: %w", err)
	}
	out := make(map[string]*template.Template, len(raw))
	for name, text := range raw {
		tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse prompt %s: %w", name, err)
		}
		out[name] = tmpl
	}
	return out, nil
}

// Render executes the named template with data.
func Render(name string, data any) (string, error) {
	tmpl, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

// Names lists the loaded templates.
func Names() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
