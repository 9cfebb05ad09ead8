package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/identity"
	"github.com/ashureev/salesbot/internal/orchestrator"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Transport names recorded in the conversation log.
const (
	ChannelChatWS   = "chat_ws"
	ChannelChatHTTP = "chat_http"
)

const (
	messageUserMessage     = "user_message"
	processingErrorMessage = "An error occurred while processing your message."
	rateLimitedMessage     = "rate limit exceeded"
)

// ChatRequest is one user turn sent by a client.
type ChatRequest struct {
	Text            string `json:"text"`
	SelectedText    string `json:"selected_text,omitempty"`
	SourceMessageID string `json:"source_message_id,omitempty"`
}

type clientMessage struct {
	Type    string      `json:"type"`
	Payload ChatRequest `json:"payload"`
}

// keepalive is written to idle SSE streams.
type keepalive struct{}

func (keepalive) Type() string { return "ping" }

// ServeChat handles GET /ws/chat.
func (h *Handler) ServeChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	logger := h.logger.With("user_id", userID, "session_id", sessionID)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.sessions.Register(userID, ChannelChatWS, sessionID, ws)
	defer h.sessions.Unregister(userID, ChannelChatWS, sessionID, ws)

	outbox := NewOutbox(func(e events.Event) error {
		data, err := events.Marshal(e)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), clientWriteBudget)
		defer cancel()
		return ws.Write(ctx, websocket.MessageText, data)
	}, logger)
	defer outbox.Close()

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			outbox.Deliver(ctx, events.Error{Code: events.CodeBadRequest, Message: "invalid message"})
			continue
		}
		if msg.Type != messageUserMessage {
			outbox.Deliver(ctx, events.Error{Code: events.CodeBadRequest, Message: fmt.Sprintf("unsupported message type %q", msg.Type)})
			continue
		}
		if strings.TrimSpace(msg.Payload.Text) == "" {
			outbox.Deliver(ctx, events.Error{Code: events.CodeBadRequest, Message: "message text is required"})
			continue
		}
		if !h.limiter.Allow(userID) {
			outbox.Deliver(ctx, events.Error{Code: events.CodeRateLimited, Message: rateLimitedMessage})
			continue
		}

		h.runTurn(ctx, orchestrator.Turn{
			SessionID:       sessionID,
			UserID:          userID,
			Text:            msg.Payload.Text,
			SelectedText:    msg.Payload.SelectedText,
			SourceMessageID: msg.Payload.SourceMessageID,
			Persist:         true,
			Channel:         ChannelChatWS,
		}, outbox)
	}
}

// HandleChat handles POST /api/chat and streams the turn as server-sent events.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Rate-limit by userID only so clients cannot bypass throttling by rotating session IDs.
	if !h.limiter.Allow(userID) {
		JSON(w, http.StatusTooManyRequests, map[string]string{"error": rateLimitedMessage, "code": events.CodeRateLimited})
		return
	}

	maxBodySize := h.cfg.SSE.MaxRequestBodySize
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	logger := h.logger.With("user_id", userID, "session_id", sessionID, "request_id", chiMiddleware.GetReqID(r.Context()))
	logger.Info("Chat request", "message_length", len(req.Text))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var eventID int64
	outbox := NewOutbox(func(e events.Event) error {
		eventID++
		data, err := events.Marshal(e)
		if err != nil {
			return err
		}
		if err := writeSSEWithID(w, eventID, e.Type(), string(data)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}, logger)

	ctx := r.Context()
	stopKeepalive := h.keepalive(ctx, outbox)
	h.runTurn(ctx, orchestrator.Turn{
		SessionID:       sessionID,
		UserID:          userID,
		Text:            req.Text,
		SelectedText:    req.SelectedText,
		SourceMessageID: req.SourceMessageID,
		Persist:         true,
		Channel:         ChannelChatHTTP,
	}, outbox)
	stopKeepalive()
	outbox.Close()

	if err := writeSSE(w, "done", `{}`); err != nil {
		logger.Debug("failed to write SSE done event", "error", err)
		return
	}
	flusher.Flush()
}

// keepalive pings the stream until the returned func is called.
func (h *Handler) keepalive(ctx context.Context, sink events.Sink) func() {
	interval := h.cfg.SSE.KeepaliveInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sink.Deliver(ctx, keepalive{})
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// runTurn executes t, turning a crash into a PROCESSING_ERROR event.
func (h *Handler) runTurn(ctx context.Context, t orchestrator.Turn, sink events.Sink) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Turn failed", "session_id", t.SessionID, "panic", rec)
			sink.Deliver(ctx, events.Error{Code: events.CodeProcessingError, Message: processingErrorMessage})
		}
	}()
	h.turns.HandleTurn(ctx, t, sink)
	h.touch(t.UserID)
}

// touch updates last seen asynchronously with a timeout.
func (h *Handler) touch(userID string) {
	if h.repo == nil || userID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.UpdateLastSeen(ctx, userID, time.Now()); err != nil {
			h.logger.Warn("Failed to update last seen", "user_id", userID, "error", err)
		}
	}()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDevelopment() {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins() {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
