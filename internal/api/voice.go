package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ashureev/salesbot/internal/identity"
	"github.com/ashureev/salesbot/internal/voice"
)

// maxAudioFrame bounds one inbound audio message.
const maxAudioFrame = 1 << 20

// wsVoiceConn adapts a websocket to voice.Conn.
type wsVoiceConn struct {
	ws *websocket.Conn
}

func (c wsVoiceConn) Read(ctx context.Context) (voice.Frame, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return voice.Frame{}, err
	}
	return voice.Frame{Binary: typ == websocket.MessageBinary, Data: data}, nil
}

func (c wsVoiceConn) WriteJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(ctx, websocket.MessageText, data)
}

func (c wsVoiceConn) WriteBinary(ctx context.Context, data []byte) error {
	return c.write(ctx, websocket.MessageBinary, data)
}

func (c wsVoiceConn) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clientWriteBudget)
	defer cancel()
	return c.ws.Write(ctx, typ, data)
}

// ServeVoice handles GET /ws/voice.
func (h *Handler) ServeVoice(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	logger := h.logger.With("user_id", userID, "session_id", sessionID)

	if h.transcriber == nil || h.synth == nil {
		Error(w, http.StatusServiceUnavailable, "voice is not configured")
		return
	}
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
	ws.SetReadLimit(maxAudioFrame)

	h.sessions.Register(userID, voice.ChannelVoice, sessionID, ws)
	defer h.sessions.Unregister(userID, voice.ChannelVoice, sessionID, ws)

	session := voice.NewSession(voice.Config{
		UserID:              userID,
		SessionID:           sessionID,
		AudioQueueSize:      h.cfg.Voice.AudioQueueSize,
		TranscriptQueueSize: h.cfg.Voice.TranscriptQueueSize,
	}, h.transcriber, h.synth, h.turns, logger)

	if err := session.Run(r.Context(), wsVoiceConn{ws: ws}); err != nil {
		logger.Warn("Voice session failed", "error", err)
		_ = wsVoiceConn{ws: ws}.WriteJSON(r.Context(), voice.Message{Type: voice.MessageStatusUpdate, Text: "Voice session error. Please reconnect."})
	}
}
