package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/salesbot/internal/domain"
	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/llm/llmtest"
)

func userMsg(text string) domain.Message {
	return domain.Message{Role: domain.RoleUser, Content: text}
}

func assistantMsg(text string) domain.Message {
	return domain.Message{Role: domain.RoleAssistant, Content: text}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		err      error
		history  []domain.Message
		want     Result
		wantMode string
	}{
		{
			name:     "generate plan",
			reply:    `{"intent":"generate_plan","entities":{"company":" Acme Corp "}}`,
			history:  []domain.Message{userMsg("Generate an account plan for Acme Corp")},
			want:     Result{Intent: domain.IntentGeneratePlan, Entities: domain.Entities{Company: "Acme Corp"}},
			wantMode: "Generating Plan...",
		},
		{
			name:  "edit section",
			reply: `{"intent":"edit_section","entities":{"company":"Acme Corp","section":"risks"}}`,
			history: []domain.Message{
				userMsg("Update the risks section for Acme Corp to mention supply-chain exposure"),
			},
			want:     Result{Intent: domain.IntentEditSection, Entities: domain.Entities{Company: "Acme Corp", Section: "risks"}},
			wantMode: "Editing Plan...",
		},
		{
			name:  "clarification becomes research with company from context",
			reply: `{"intent":"answer_clarification","entities":{}}`,
			history: []domain.Message{
				userMsg("research globex"),
				assistantMsg("Researching Globex... Which revenue figure should I trust?"),
				userMsg("the 2023 annual report"),
			},
			want:     Result{Intent: domain.IntentResearchCompany, Entities: domain.Entities{Company: "Globex"}},
			wantMode: "Researching Globex...",
		},
		{
			name:     "backend failure degrades to chat",
			err:      errors.New("unavailable"),
			history:  []domain.Message{userMsg("hello")},
			want:     Result{Intent: domain.IntentChat, Degraded: true},
			wantMode: "Chatting...",
		},
		{
			name:     "schema violation degrades to chat",
			reply:    `{"intent":"dance","entities":{}}`,
			history:  []domain.Message{userMsg("hello")},
			want:     Result{Intent: domain.IntentChat, Degraded: true},
			wantMode: "Chatting...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := llmtest.New(llmtest.Rule{Schema: "intent_analysis", Reply: tt.reply, Err: tt.err})
			rec := &events.Recorder{}

			got := New(gen, nil).Classify(context.Background(), tt.history, rec)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}

			want := []events.Event{events.StatusUpdate{Stage: StageIntent, Message: tt.wantMode}}
			if diff := cmp.Diff(want, rec.Events()); diff != "" {
				t.Errorf("events mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassifyPromptCarriesPreviousAssistant(t *testing.T) {
	gen := llmtest.New(llmtest.Rule{Reply: `{"intent":"chat","entities":{}}`})
	history := []domain.Message{assistantMsg("# Account Plan for Initech\n\n## Risks"), userMsg("thanks")}

	New(gen, nil).Classify(context.Background(), history, events.Discard)

	if gen.CallCount(`Previous Assistant Message (Context): "# Account Plan for Initech`) != 1 {
		t.Errorf("expected previous assistant text in prompt, got %+v", gen.Calls())
	}
}

func TestCompanyFromText(t *testing.T) {
	tests := []struct{ in, want string }{
		{in: "# Account Plan for Acme Corp\n\n## Executive Summary", want: "Acme Corp"},
		{in: "# Research Report: Globex Inc\n\n## Key Findings", want: "Globex Inc"},
		{in: "Researching Initech...", want: "Initech"},
		{in: "No existing plan found for Umbrella.", want: "Umbrella"},
		{in: "Hello there", want: ""},
	}
	for _, tt := range tests {
		if got := CompanyFromText(tt.in); got != tt.want {
			t.Errorf("CompanyFromText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPreviousAssistant(t *testing.T) {
	if got := PreviousAssistant([]domain.Message{userMsg("a"), userMsg("b")}); got != "" {
		t.Errorf("expected empty for user predecessor, got %q", got)
	}
	if got := PreviousAssistant([]domain.Message{userMsg("b")}); got != "" {
		t.Errorf("expected empty for single message, got %q", got)
	}
}
