// Package identity resolves the anonymous caller and the conversation a
// request belongs to.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/salesbot/internal/domain"
	"github.com/ashureev/salesbot/internal/store"
)

const (
	AnonCookieName    = "salesbot_anon_id"
	SessionHeaderName = "X-Session-ID"
	sessionQueryParam = "session_id"
	anonCookieMaxAge  = 30 * 24 * time.Hour
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Caller is the resolved requester. SessionID doubles as the conversation ID.
type Caller struct {
	UserID    string
	SessionID string
}

type callerKey struct{}

// WithCaller returns a copy of ctx carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// FromContext returns the caller stored by Middleware.
func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// UserIDFromContext returns the caller's user ID, or "" outside Middleware.
func UserIDFromContext(ctx context.Context) string {
	c, _ := FromContext(ctx)
	return c.UserID
}

// SessionIDFromContext returns the caller's conversation ID, or "" outside Middleware.
func SessionIDFromContext(ctx context.Context) string {
	c, _ := FromContext(ctx)
	return c.SessionID
}

// DefaultSessionID is the conversation used when a request names none.
// It is private to the user.
func DefaultSessionID(userID string) string {
	return userID + ":default"
}

func newAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// anonID returns the cookie's user ID, minting one when absent or malformed.
// The cookie is refreshed on every request.
func anonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	var id string
	if c, err := r.Cookie(AnonCookieName); err == nil && anonIDPattern.MatchString(c.Value) {
		id = c.Value
	} else {
		if id, err = newAnonID(); err != nil {
			return "", err
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

// sessionID returns the requested conversation, the user's default when none
// is named, or ok=false when the value is malformed or names another user's
// default.
func sessionID(r *http.Request, userID string) (string, bool) {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get(sessionQueryParam)
	}
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return DefaultSessionID(userID), true
	}
	if strings.HasSuffix(sid, ":default") && sid != DefaultSessionID(userID) {
		return "", false
	}
	return sid, sessionIDPattern.MatchString(sid)
}

func ensureUser(ctx context.Context, repo store.Repository, userID string) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil || user != nil {
		return err
	}
	now := time.Now()
	return repo.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		Username:   "guest-" + userID[len(userID)-8:],
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// Middleware resolves the anonymous user and the conversation of each request.
// A request naming a conversation that another user owns is rejected with 403.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := anonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			if err := ensureUser(r.Context(), repo, userID); err != nil {
				http.Error(w, `{"error":"failed to initialize anonymous user"}`, http.StatusInternalServerError)
				return
			}

			sid, ok := sessionID(r, userID)
			if !ok {
				http.Error(w, `{"error":"invalid session id"}`, http.StatusBadRequest)
				return
			}
			conv, err := repo.GetConversation(r.Context(), sid)
			if err != nil {
				slog.Error("Failed to resolve conversation owner", "session_id", sid, "error", err)
				http.Error(w, `{"error":"failed to resolve session"}`, http.StatusInternalServerError)
				return
			}
			if conv != nil && conv.UserID != userID {
				slog.Warn("Rejected foreign session", "session_id", sid, "user_id", userID)
				http.Error(w, `{"error":"session belongs to another user"}`, http.StatusForbidden)
				return
			}

			ctx := WithCaller(r.Context(), Caller{UserID: userID, SessionID: sid})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
