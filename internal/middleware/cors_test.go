package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsResponse(t *testing.T, allowed []string, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	h := CORS(allowed)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, "/api/chat", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSExplicitOriginGetsCredentials(t *testing.T) {
	rec := corsResponse(t, []string{"https://app.example.com"}, http.MethodGet, "https://app.example.com")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("unexpected allow-origin %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("expected credentials for an explicit origin")
	}
}

func TestCORSWildcardNeverAllowsCredentials(t *testing.T) {
	rec := corsResponse(t, []string{"*"}, http.MethodGet, "https://evil.example")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://evil.example" {
		t.Errorf("unexpected allow-origin %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("expected no credentials for a wildcard match")
	}
}

func TestCORSUnknownOrigin(t *testing.T) {
	rec := corsResponse(t, []string{"https://app.example.com"}, http.MethodGet, "https://other.example")

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("expected no allow-origin for an unlisted origin")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected request to pass through, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	rec := corsResponse(t, []string{"https://app.example.com"}, http.MethodOptions, "https://app.example.com")

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-Session-ID, Last-Event-ID" {
		t.Errorf("unexpected allow-headers %q", got)
	}
}
