//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/salesbot/internal/agent"
	"github.com/ashureev/salesbot/internal/config"
	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/identity"
	"github.com/ashureev/salesbot/internal/orchestrator"
	"github.com/ashureev/salesbot/internal/store"
	"github.com/ashureev/salesbot/internal/voice"
)

type turnFunc func(ctx context.Context, t orchestrator.Turn, sink events.Sink) agent.TurnState

func (f turnFunc) HandleTurn(ctx context.Context, t orchestrator.Turn, sink events.Sink) agent.TurnState {
	return f(ctx, t, sink)
}

func echoTurns(ctx context.Context, t orchestrator.Turn, sink events.Sink) agent.TurnState {
	sink.Deliver(ctx, events.StatusUpdate{Stage: "intent", Message: "Thinking..."})
	sink.Deliver(ctx, events.AssistantChunk{MessageID: "m1", Chunk: "echo: "})
	sink.Deliver(ctx, events.AssistantChunk{MessageID: "m1", Chunk: t.Text})
	return agent.TurnState{SessionID: t.SessionID}
}

type testEnv struct {
	repo    *store.SQLiteStore
	handler *Handler
	router  http.Handler
}

type envOption func(*Deps)

func withVoice(tr voice.Transcriber, synth voice.Synthesizer) envOption {
	return func(d *Deps) {
		d.Transcriber = tr
		d.Synthesizer = synth
	}
}

func withConfig(cfg *config.Config) envOption {
	return func(d *Deps) { d.Config = cfg }
}

func newTestEnv(t *testing.T, turns TurnRunner, opts ...envOption) *testEnv {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	deps := Deps{Repo: repo, Turns: turns}
	for _, opt := range opts {
		opt(&deps)
	}
	h := NewHandler(deps)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	h.RegisterRoutes(r)
	return &testEnv{repo: repo, handler: h, router: r}
}

// do runs a request, reusing the identity cookie from earlier calls.
func (e *testEnv) do(t *testing.T, req *http.Request, cookie *http.Cookie) (*httptest.ResponseRecorder, *http.Cookie) {
	t.Helper()
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == identity.AnonCookieName {
			cookie = c
		}
	}
	return w, cookie
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, turnFunc(echoTurns))

	w, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
		Voice  bool              `json:"voice"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "healthy" || body.Checks["database"] != "ok" || body.Voice {
		t.Errorf("unexpected health %+v", body)
	}

	_ = env.repo.Close()
	w, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil), nil)
	if w.Code == http.StatusOK {
		t.Error("expected failure once the database is closed")
	}
}
