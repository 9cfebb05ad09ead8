package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/salesbot/internal/domain"
	"github.com/google/go-cmp/cmp"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecentMessagesOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureConversation(ctx, "conv-1", "user-1", "Acme"); err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}
	base := time.Now()
	for i, content := range []string{"one", "two", "three", "four"} {
		msg := &domain.Message{
			ConversationID: "conv-1",
			Role:           domain.RoleUser,
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	msgs, err := s.RecentMessages(ctx, "conv-1", 3)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	var got []string
	for _, m := range msgs {
		got = append(got, m.Content)
	}
	if diff := cmp.Diff([]string{"two", "three", "four"}, got); diff != "" {
		t.Fatalf("unexpected history (-want +got):\n%s", diff)
	}
}

func TestSaveMessageKeepsCallerID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &domain.Message{ID: "stream-id", ConversationID: "conv-1", Role: domain.RoleAssistant, Content: "hello"}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	got, err := s.GetMessage(ctx, "stream-id")
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got == nil || got.Content != "hello" || got.Role != domain.RoleAssistant {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestUpdateMessageContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &domain.Message{ID: "m-1", ConversationID: "conv-1", Role: domain.RoleAssistant, Content: "old"}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	if err := s.UpdateMessageContent(ctx, "m-1", "new"); err != nil {
		t.Fatalf("UpdateMessageContent failed: %v", err)
	}
	got, _ := s.GetMessage(ctx, "m-1")
	if got.Content != "new" {
		t.Fatalf("expected new content, got %q", got.Content)
	}

	if err := s.UpdateMessageContent(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetMissingRowsReturnNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if u, err := s.GetUser(ctx, "nobody"); err != nil || u != nil {
		t.Fatalf("expected nil user, got %v, %v", u, err)
	}
	if d, err := s.GetLatestDocument(ctx, "Nowhere Inc", ""); err != nil || d != nil {
		t.Fatalf("expected nil document, got %v, %v", d, err)
	}
	if c, err := s.GetConversation(ctx, "none"); err != nil || c != nil {
		t.Fatalf("expected nil conversation, got %v, %v", c, err)
	}
}

func TestGetLatestDocumentScopesByUserAndIgnoresCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := &domain.Document{UserID: "user-1", Company: "Acme Corp", Sections: map[string]any{"risks": []string{"old"}}, CreatedAt: time.Now().Add(-time.Hour)}
	newer := &domain.Document{UserID: "user-1", Company: "Acme Corp", Sections: map[string]any{"risks": []string{"new"}}}
	other := &domain.Document{UserID: "user-2", Company: "Acme Corp", Sections: map[string]any{"risks": []string{"other"}}, CreatedAt: time.Now().Add(time.Hour)}
	for _, d := range []*domain.Document{older, newer, other} {
		if err := s.CreateDocument(ctx, d); err != nil {
			t.Fatalf("CreateDocument failed: %v", err)
		}
	}

	got, err := s.GetLatestDocument(ctx, "acme corp", "user-1")
	if err != nil {
		t.Fatalf("GetLatestDocument failed: %v", err)
	}
	if got == nil || got.ID != newer.ID {
		t.Fatalf("expected newest plan for user-1, got %+v", got)
	}

	latest, err := s.GetLatestDocument(ctx, "ACME CORP", "")
	if err != nil {
		t.Fatalf("GetLatestDocument failed: %v", err)
	}
	if latest == nil || latest.ID != other.ID {
		t.Fatalf("expected newest plan across users, got %+v", latest)
	}
}

func TestUpdateDocumentSectionTouchesOnlyTarget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &domain.Document{
		Company: "Acme Corp",
		Sections: domain.AccountPlan{
			ExecutiveSummary: "Summary with \"quotes\" & <tags>",
			Risks:            []string{"Churn"},
			Opportunities:    []string{"Upsell", "Cross-sell"},
		}.Sections(),
	}
	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	before := rawSections(t, s, doc.ID)
	if err := s.UpdateDocumentSection(ctx, doc.ID, "risks", []string{"Supply-chain exposure"}); err != nil {
		t.Fatalf("UpdateDocumentSection failed: %v", err)
	}
	after := rawSections(t, s, doc.ID)

	for name, raw := range before {
		if name == "risks" {
			continue
		}
		if diff := cmp.Diff(string(raw), string(after[name])); diff != "" {
			t.Errorf("section %s changed (-before +after):\n%s", name, diff)
		}
	}
	if string(after["risks"]) != `["Supply-chain exposure"]` {
		t.Errorf("unexpected risks %s", after["risks"])
	}

	if err := s.UpdateDocumentSection(ctx, "missing", "risks", []string{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func rawSections(t *testing.T, s *SQLiteStore, id string) map[string]json.RawMessage {
	t.Helper()
	var raw string
	if err := s.DB().QueryRow(`SELECT sections FROM account_plans WHERE id = ?`, id).Scan(&raw); err != nil {
		t.Fatalf("load sections: %v", err)
	}
	out := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode sections: %v", err)
	}
	return out
}

func TestResearchLinkedToDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveResearch(ctx, &domain.ResearchRecord{Company: "Acme", Content: "{}", DocumentID: "plan-1"}); err != nil {
		t.Fatalf("SaveResearch failed: %v", err)
	}
	if err := s.SaveResearch(ctx, &domain.ResearchRecord{Company: "Acme", Content: "{}"}); err != nil {
		t.Fatalf("SaveResearch failed: %v", err)
	}

	recs, err := s.ResearchForDocument(ctx, "plan-1")
	if err != nil {
		t.Fatalf("ResearchForDocument failed: %v", err)
	}
	if len(recs) != 1 || recs[0].DocumentID != "plan-1" {
		t.Fatalf("unexpected research records %+v", recs)
	}
}

func TestListConversationsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &domain.Conversation{UserID: "user-1", Title: "first"}
	second := &domain.Conversation{UserID: "user-1", Title: "second"}
	if err := s.CreateConversation(ctx, first); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if err := s.CreateConversation(ctx, second); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if err := s.SaveMessage(ctx, &domain.Message{
		ConversationID: first.ID, Role: domain.RoleUser, Content: "bump",
		CreatedAt: time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	convs, err := s.ListConversations(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(convs) != 2 || convs[0].ID != first.ID {
		t.Fatalf("expected bumped conversation first, got %+v", convs)
	}
}

func TestEnsureConversationKeepsOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureConversation(ctx, "conv-1", "anon_a", "Acme"); err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}
	if err := s.EnsureConversation(ctx, "conv-1", "anon_a", "Acme"); err != nil {
		t.Fatalf("EnsureConversation by owner failed: %v", err)
	}
	if err := s.EnsureConversation(ctx, "conv-1", "anon_b", "Acme"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	conv, err := s.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.UserID != "anon_a" {
		t.Errorf("expected owner anon_a, got %q", conv.UserID)
	}
}

func TestUsageStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertUser(ctx, &domain.User{UserID: "u1", Username: "guest-1", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	base := time.Now()
	for i, company := range []string{"Acme", "Globex", "Initech"} {
		doc := &domain.Document{UserID: "u1", Company: company, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("CreateDocument failed: %v", err)
		}
	}
	if err := s.SaveResearch(ctx, &domain.ResearchRecord{UserID: "u1", Company: "Acme", Content: "{}"}); err != nil {
		t.Fatalf("SaveResearch failed: %v", err)
	}

	stats, err := s.UsageStats(ctx, 2)
	if err != nil {
		t.Fatalf("UsageStats failed: %v", err)
	}
	if diff := cmp.Diff(domain.UsageCounts{Users: 1, Plans: 3, Research: 1}, stats.Counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
	var companies []string
	for _, a := range stats.RecentActivity {
		companies = append(companies, a.Company)
		if a.Username != "guest-1" {
			t.Errorf("expected owner name, got %+v", a)
		}
	}
	if diff := cmp.Diff([]string{"Initech", "Globex"}, companies); diff != "" {
		t.Errorf("recent plans mismatch (-want +got):\n%s", diff)
	}
}
