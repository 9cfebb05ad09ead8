package research

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/knowledge"
)

type stubProvider struct {
	name   string
	result Result
	mu     sync.Mutex
	got    []string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Search(_ context.Context, q string) Result {
	p.mu.Lock()
	p.got = append(p.got, q)
	p.mu.Unlock()
	r := p.result
	r.Provider = p.name
	r.Query = q
	return r
}

type memoryKB struct {
	mu     sync.Mutex
	stored []knowledge.Metadata
	texts  []string
	err    error
}

func (m *memoryKB) Query(context.Context, string, string) ([]string, error) { return nil, nil }

func (m *memoryKB) Store(_ context.Context, text string, meta knowledge.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	m.stored = append(m.stored, meta)
	return m.err
}

func TestGatherStoresMergedDossier(t *testing.T) {
	lookup := &stubProvider{name: ProviderTavily, result: Result{Answer: "Acme makes anvils"}}
	analysis := &stubProvider{name: ProviderPerplexity, result: Result{Items: []Item{
		{Title: "a", Content: "first"},
		{Title: "b", Content: "second"},
	}}}
	kb := &memoryKB{}
	rec := &events.Recorder{}

	svc := NewService(lookup, analysis, kb, 0, nil)
	dossier := svc.Gather(context.Background(), Request{
		Company: "Acme",
		UserID:  "u1",
		Queries: Queries{Lookup: "acme revenue"},
	}, rec)

	if diff := cmp.Diff([]string{"acme revenue"}, lookup.got); diff != "" {
		t.Errorf("lookup query mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Detailed research on Acme focusing on General"}, analysis.got); diff != "" {
		t.Errorf("analysis query mismatch (-want +got):\n%s", diff)
	}
	if dossier[ProviderTavily].Answer != "Acme makes anvils" || dossier.Failed() {
		t.Errorf("unexpected dossier %+v", dossier)
	}

	wantMeta := []knowledge.Metadata{{
		Company: "Acme", Type: knowledge.TypeResearchSummary, Source: "perplexity,tavily", Scope: DefaultScope, UserID: "u1",
	}}
	if diff := cmp.Diff(wantMeta, kb.stored); diff != "" {
		t.Errorf("stored metadata mismatch (-want +got):\n%s", diff)
	}
	wantText := "## perplexity\n- a: first\n- b: second\n\n## tavily\nAcme makes anvils"
	if diff := cmp.Diff(wantText, kb.texts[0]); diff != "" {
		t.Errorf("stored text mismatch (-want +got):\n%s", diff)
	}

	statuses := rec.Statuses()
	if len(statuses) != 3 || !strings.HasPrefix(statuses[0], "Searching Tavily for: acme revenue") {
		t.Errorf("unexpected statuses %v", statuses)
	}
}

func TestGatherKeepsPartialResults(t *testing.T) {
	lookup := &stubProvider{name: ProviderTavily, result: Result{Error: "boom"}}
	analysis := &stubProvider{name: ProviderPerplexity, result: Result{Error: "down"}}
	kb := &memoryKB{err: errors.New("unused")}

	dossier := NewService(lookup, analysis, kb, 0, nil).Gather(context.Background(), Request{Company: "Acme"}, events.Discard)

	if !dossier.Failed() {
		t.Error("expected dossier to report failure")
	}
	if len(kb.stored) != 0 {
		t.Error("expected nothing stored when analysis failed")
	}
	if !strings.Contains(dossier.Compact(0), "error: boom") {
		t.Errorf("expected error in compact output, got %q", dossier.Compact(0))
	}
}

func TestGatherStoresLookupWhenAnalysisFails(t *testing.T) {
	lookup := &stubProvider{name: ProviderTavily, result: Result{Answer: "Acme makes anvils"}}
	analysis := &stubProvider{name: ProviderPerplexity, result: Result{Error: "down"}}
	kb := &memoryKB{}

	NewService(lookup, analysis, kb, 40, nil).Gather(context.Background(), Request{Company: "Acme"}, events.Discard)

	if len(kb.stored) != 1 || kb.stored[0].Source != ProviderTavily {
		t.Fatalf("expected lookup results stored, got %+v", kb.stored)
	}
	text := kb.texts[0]
	if !strings.Contains(text, "error: down") || len(text) > 40 {
		t.Errorf("unexpected stored text %q", text)
	}
}

func TestCompactCutsOnRuneBoundary(t *testing.T) {
	d := Dossier{ProviderTavily: {Answer: "Société Générale"}}
	got := d.Compact(len("## tavily\nSoci") + 1)
	if got != "## tavily\nSoci" {
		t.Errorf("unexpected compact %q", got)
	}
}

func TestTavilySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tv-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body tavilyRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Query != "acme" || body.SearchDepth != "advanced" || !body.IncludeAnswer {
			t.Errorf("unexpected request %+v", body)
		}
		_, _ = w.Write([]byte(`{"answer":"yes","results":[{"title":"T","url":"https://x","content":"C","score":0.9}]}`))
	}))
	defer srv.Close()

	res := NewTavily(srv.Client(), "tv-key", "", srv.URL).Search(context.Background(), "acme")
	want := Result{
		Provider: ProviderTavily,
		Query:    "acme",
		Answer:   "yes",
		Items:    []Item{{Title: "T", URL: "https://x", Content: "C", Score: 0.9}},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestPerplexitySearchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	res := NewPerplexity(srv.Client(), "px-key", 0, srv.URL).Search(context.Background(), "acme")
	if res.OK() || !strings.Contains(res.Error, "429") {
		t.Errorf("expected status error, got %+v", res)
	}

	missing := NewPerplexity(srv.Client(), "", 0, srv.URL).Search(context.Background(), "acme")
	if missing.Error != errMissingKey.Error() {
		t.Errorf("expected missing key error, got %q", missing.Error)
	}
}

func TestPerplexitySearchMapsSnippets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body perplexityRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.MaxResults != 5 {
			t.Errorf("expected 5 max results, got %d", body.MaxResults)
		}
		_, _ = w.Write([]byte(`{"results":[{"url":"https://y","snippet":"S","date":"2024-01-01"}]}`))
	}))
	defer srv.Close()

	res := NewPerplexity(srv.Client(), "px-key", 0, srv.URL).Search(context.Background(), "acme")
	want := []Item{{Title: "No Title", URL: "https://y", Content: "S", Date: "2024-01-01"}}
	if diff := cmp.Diff(want, res.Items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}
