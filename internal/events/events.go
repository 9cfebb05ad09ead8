// Package events defines the ordered outgoing event stream of a session.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire names of the event variants.
const (
	TypeStatusUpdate          = "status_update"
	TypeAssistantChunk        = "assistant_chunk"
	TypeDocumentSectionUpdate = "plan_update"
	TypeMessageReplaced       = "message_update"
	TypeError                 = "error"
)

// Error codes carried by Error events.
const (
	CodeProcessingError = "PROCESSING_ERROR"
	CodeEditFailed      = "EDIT_FAILED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeBadRequest      = "BAD_REQUEST"
	CodeForbidden       = "FORBIDDEN"
)

var errUnknownEventType = errors.New("unknown event type")

// Event is one outgoing message for a client.
type Event interface {
	Type() string
}

// StatusUpdate reports progress of the current turn.
type StatusUpdate struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// AssistantChunk is one fragment of an assistant message.
type AssistantChunk struct {
	MessageID string `json:"message_id"`
	Chunk     string `json:"chunk"`
}

// DocumentSectionUpdate carries the new content of one account plan section.
type DocumentSectionUpdate struct {
	DocumentID string `json:"plan_id"`
	Section    string `json:"section"`
	Content    any    `json:"content"`
}

// MessageReplaced tells the client a stored message was rewritten in place.
type MessageReplaced struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// Error reports a failure the client should surface.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (StatusUpdate) Type() string          { return TypeStatusUpdate }
func (AssistantChunk) Type() string        { return TypeAssistantChunk }
func (DocumentSectionUpdate) Type() string { return TypeDocumentSectionUpdate }
func (MessageReplaced) Type() string       { return TypeMessageReplaced }
func (Error) Type() string                 { return TypeError }

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal encodes an event as {"type": ..., "payload": {...}}.
func Marshal(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Type(), err)
	}
	return json.Marshal(envelope{Type: e.Type(), Payload: payload})
}

// Unmarshal decodes an envelope produced by Marshal.
func Unmarshal(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case TypeStatusUpdate:
		var v StatusUpdate
		err = json.Unmarshal(env.Payload, &v)
		ev = v
	case TypeAssistantChunk:
		var v AssistantChunk
		err = json.Unmarshal(env.Payload, &v)
		ev = v
	case TypeDocumentSectionUpdate:
		var v DocumentSectionUpdate
		err = json.Unmarshal(env.Payload, &v)
		ev = v
	case TypeMessageReplaced:
		var v MessageReplaced
		err = json.Unmarshal(env.Payload, &v)
		ev = v
	case TypeError:
		var v Error
		err = json.Unmarshal(env.Payload, &v)
		ev = v
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownEventType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return ev, nil
}
