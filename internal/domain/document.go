package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SectionKind tells whether a section holds free text or a list of items.
type SectionKind int

const (
	SectionText SectionKind = iota
	SectionList
)

// SectionSpec describes one named section of an account plan.
type SectionSpec struct {
	Name  string
	Title string
	Kind  SectionKind
}

// DocumentSections is the fixed section table, in rendering order.
var DocumentSections = []SectionSpec{
	{Name: "executive_summary", Title: "Executive Summary", Kind: SectionText},
	{Name: "company_overview", Title: "Company Overview", Kind: SectionText},
	{Name: "strategic_priorities", Title: "Strategic Priorities", Kind: SectionList},
	{Name: "opportunities", Title: "Opportunities", Kind: SectionList},
	{Name: "risks", Title: "Risks", Kind: SectionList},
	{Name: "engagement_strategy", Title: "Engagement Strategy", Kind: SectionText},
	{Name: "next_steps", Title: "Next Steps", Kind: SectionText},
}

// LookupSection returns the SectionSpec for a section name after normalization.
func LookupSection(name string) (SectionSpec, bool) {
	name = NormalizeSectionName(name)
	for _, spec := range DocumentSections {
		if spec.Name == name {
			return spec, true
		}
	}
	return SectionSpec{}, false
}

// NormalizeSectionName maps "Executive Summary section" to "executive_summary".
func NormalizeSectionName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, " section")
	name = strings.TrimPrefix(name, "the ")
	name = strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(name))
	return name
}

// SectionNames returns the section names in table order.
func SectionNames() []string {
	names := make([]string, len(DocumentSections))
	for i, spec := range DocumentSections {
		names[i] = spec.Name
	}
	return names
}

// AccountPlan is the structured output requested from the generation backend.
type AccountPlan struct {
	ExecutiveSummary    string   `json:"executive_summary" jsonschema:"description=High-level overview of the account and the opportunity"`
	CompanyOverview     string   `json:"company_overview" jsonschema:"description=What the company does and how it is positioned"`
	StrategicPriorities []string `json:"strategic_priorities" jsonschema:"description=The company's current strategic priorities"`
	Opportunities       []string `json:"opportunities" jsonschema:"description=Sales and partnership opportunities"`
	Risks               []string `json:"risks" jsonschema:"description=Risks and obstacles for the engagement"`
	EngagementStrategy  string   `json:"engagement_strategy" jsonschema:"description=How to approach and engage the account"`
	NextSteps           string   `json:"next_steps" jsonschema:"description=Concrete next steps"`
}

// Sections converts the plan into the stored section map.
func (p AccountPlan) Sections() map[string]any {
	return map[string]any{
		"executive_summary":    p.ExecutiveSummary,
		"company_overview":     p.CompanyOverview,
		"strategic_priorities": nonNil(p.StrategicPriorities),
		"opportunities":        nonNil(p.Opportunities),
		"risks":                nonNil(p.Risks),
		"engagement_strategy":  p.EngagementStrategy,
		"next_steps":           p.NextSteps,
	}
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

// ListSectionUpdate is the structured output for regenerating a list section.
type ListSectionUpdate struct {
	Items []string `json:"items" jsonschema:"description=The full updated list of items"`
}

// Document is a persisted account plan.
type Document struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Company   string         `json:"company"`
	Sections  map[string]any `json:"sections"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SectionText returns a section rendered as plain text.
func (d *Document) SectionText(name string) string {
	if d == nil {
		return ""
	}
	v, ok := d.Sections[name]
	if !ok {
		return ""
	}
	if items := ListItems(v); items != nil {
		return "- " + strings.Join(items, "\n- ")
	}
	return fmt.Sprint(v)
}

// ListItems converts a decoded section value into a string list.
// It returns nil when v is not list-shaped.
func ListItems(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}

// Markdown renders the document as it is shown to the user.
func (d *Document) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Account Plan for %s\n\n", d.Company)

	seen := make(map[string]bool, len(d.Sections))
	for _, spec := range DocumentSections {
		v, ok := d.Sections[spec.Name]
		if !ok {
			continue
		}
		seen[spec.Name] = true
		writeSection(&b, spec.Title, v)
	}

	// Unknown keys survive from older rows; render them after the fixed table.
	var extra []string
	for name := range d.Sections {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		writeSection(&b, titleCase(name), d.Sections[name])
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeSection(b *strings.Builder, title string, v any) {
	fmt.Fprintf(b, "## %s\n", title)
	if items := ListItems(v); items != nil {
		for _, item := range items {
			fmt.Fprintf(b, "- %s\n", item)
		}
		b.WriteString("\n")
		return
	}
	fmt.Fprintf(b, "%v\n\n", v)
}

func titleCase(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// SectionsJSON encodes the section map for storage.
func (d *Document) SectionsJSON() ([]byte, error) {
	return json.Marshal(d.Sections)
}

// ResearchRecord is the raw research payload linked to a generated plan.
type ResearchRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Company    string    `json:"company"`
	Content    string    `json:"content"`
	DocumentID string    `json:"plan_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
