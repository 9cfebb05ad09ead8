// Package api provides the HTTP and websocket surface of the SalesBot backend.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/salesbot/internal/agent"
	"github.com/ashureev/salesbot/internal/config"
	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/orchestrator"
	"github.com/ashureev/salesbot/internal/store"
	"github.com/ashureev/salesbot/internal/voice"
)

// TurnRunner executes one user turn.
type TurnRunner interface {
	HandleTurn(ctx context.Context, t orchestrator.Turn, sink events.Sink) agent.TurnState
}

// Deps configures a Handler.
type Deps struct {
	Repo        store.Repository
	Turns       TurnRunner
	Transcriber voice.Transcriber
	Synthesizer voice.Synthesizer
	Config      *config.Config
	Logger      *slog.Logger
}

// Handler serves every API route.
type Handler struct {
	repo        store.Repository
	turns       TurnRunner
	transcriber voice.Transcriber
	synth       voice.Synthesizer
	cfg         *config.Config
	limiter     *RateLimiter
	sessions    *SessionManager
	logger      *slog.Logger
}

// NewHandler creates a Handler. Call Close when done.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	limit, window := cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration
	if limit <= 0 {
		limit = 20
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &Handler{
		repo:        deps.Repo,
		turns:       deps.Turns,
		transcriber: deps.Transcriber,
		synth:       deps.Synthesizer,
		cfg:         cfg,
		limiter:     NewRateLimiter(limit, window),
		sessions:    NewSessionManager(deps.Logger),
		logger:      deps.Logger,
	}
}

// RegisterRoutes mounts every route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)

	r.Route("/api/conversations", func(r chi.Router) {
		r.Post("/", h.CreateConversation)
		r.Get("/", h.ListConversations)
		r.Get("/{id}", h.GetConversation)
	})
	r.Route("/api/plans", func(r chi.Router) {
		r.Get("/", h.LatestPlan)
		r.Get("/{id}", h.GetPlan)
	})
	r.Post("/api/chat", h.HandleChat)
	r.Get("/api/analytics/usage", h.UsageStats)

	r.Get("/ws/chat", h.ServeChat)
	r.Get("/ws/voice", h.ServeVoice)
}

// Close releases background resources and disconnects live sockets.
func (h *Handler) Close() {
	h.limiter.Close()
	h.sessions.CloseAll()
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
