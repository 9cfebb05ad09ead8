package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ashureev/salesbot/internal/store"
)

func newTestRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// serve runs one request through Middleware and returns the recorded
// response and the caller seen by the handler.
func serve(t *testing.T, repo store.Repository, req *http.Request) (*httptest.ResponseRecorder, Caller) {
	t.Helper()
	var seen Caller
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func cookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == AnonCookieName {
			return c
		}
	}
	t.Fatal("expected anonymous cookie")
	return nil
}

func TestMiddlewareMintsUserAndDefaultSession(t *testing.T) {
	repo := newTestRepo(t)

	rec, caller := serve(t, repo, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	cookie := cookieFrom(t, rec)
	if caller.UserID != cookie.Value {
		t.Errorf("caller %q does not match cookie %q", caller.UserID, cookie.Value)
	}
	if caller.SessionID != DefaultSessionID(caller.UserID) {
		t.Errorf("expected per-user default session, got %q", caller.SessionID)
	}
	user, err := repo.GetUser(context.Background(), caller.UserID)
	if err != nil || user == nil {
		t.Fatalf("expected user row, got %+v (%v)", user, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/?session_id=conv-1", nil)
	req.AddCookie(cookie)
	_, again := serve(t, repo, req)
	if again.UserID != caller.UserID || again.SessionID != "conv-1" {
		t.Errorf("expected same user on conv-1, got %+v", again)
	}
}

func TestMiddlewareDefaultSessionsDiffer(t *testing.T) {
	repo := newTestRepo(t)

	_, a := serve(t, repo, httptest.NewRequest(http.MethodGet, "/", nil))
	_, b := serve(t, repo, httptest.NewRequest(http.MethodGet, "/", nil))

	if a.UserID == b.UserID || a.SessionID == b.SessionID {
		t.Errorf("expected distinct users and sessions, got %+v and %+v", a, b)
	}
}

func TestMiddlewareRejectsForeignSession(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.EnsureConversation(context.Background(), "conv-a", "anon_0123456789abcdef0123456789abcdef", "t"); err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeaderName, "conv-a")
	rec, _ := serve(t, repo, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestMiddlewareRejectsBadSessionIDs(t *testing.T) {
	repo := newTestRepo(t)

	for _, sid := range []string{"bad id!", "anon_0123456789abcdef0123456789abcdef:default"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(SessionHeaderName, sid)
		rec, _ := serve(t, repo, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("session %q: expected 400, got %d", sid, rec.Code)
		}
	}
}
