package domain

import "strings"

// Intent is the task a user turn is routed to.
type Intent string

const (
	IntentResearchCompany     Intent = "research_company"
	IntentGeneratePlan        Intent = "generate_plan"
	IntentEditSection         Intent = "edit_section"
	IntentChat                Intent = "chat"
	IntentAnswerClarification Intent = "answer_clarification"
)

// Intents lists every intent the classifier may return.
var Intents = []Intent{
	IntentResearchCompany,
	IntentGeneratePlan,
	IntentEditSection,
	IntentChat,
	IntentAnswerClarification,
}

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	for _, known := range Intents {
		if i == known {
			return true
		}
	}
	return false
}

// Entities holds the optional slots extracted from a turn.
type Entities struct {
	Company string `json:"company,omitempty" jsonschema:"description=Company name mentioned in the message or the previous assistant message"`
	Region  string `json:"region,omitempty" jsonschema:"description=Geographic region mentioned, if any"`
	Section string `json:"section,omitempty" jsonschema:"description=Account plan section to edit, only for edit_section"`
}

// Normalize trims whitespace from every slot.
func (e Entities) Normalize() Entities {
	return Entities{
		Company: strings.TrimSpace(e.Company),
		Region:  strings.TrimSpace(e.Region),
		Section: strings.TrimSpace(e.Section),
	}
}
