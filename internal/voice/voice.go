// Package voice coordinates a spoken conversation: audio in, transcription,
// turn execution and synthesized audio out, with client interrupts.
package voice

import (
	"context"

	"github.com/ashureev/salesbot/internal/agent"
	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/orchestrator"
)

// Frame is one message read from the client.
type Frame struct {
	Binary bool
	Data   []byte
}

// Conn is the client side of a voice session.
// Writes are only issued from one goroutine at a time.
type Conn interface {
	Read(ctx context.Context) (Frame, error)
	WriteJSON(ctx context.Context, v any) error
	WriteBinary(ctx context.Context, data []byte) error
}

// TurnHandler runs one finalized utterance.
type TurnHandler interface {
	HandleTurn(ctx context.Context, t orchestrator.Turn, sink events.Sink) agent.TurnState
}

// Transcript is one result from the speech-to-text backend.
type Transcript struct {
	Text    string
	IsFinal bool
}

// TranscriptionStream is a live speech-to-text connection.
// Recv returns io.EOF once the stream is closed.
type TranscriptionStream interface {
	Send(ctx context.Context, audio []byte) error
	Recv(ctx context.Context) (Transcript, error)
	Close() error
}

// Transcriber opens transcription streams.
type Transcriber interface {
	Open(ctx context.Context) (TranscriptionStream, error)
}

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Message types exchanged on the voice socket.
const (
	MessageInterrupt     = "interrupt"
	MessageTranscription = "transcription"
	MessageAIResponse    = "ai_response"
	MessageStatusUpdate  = "status_update"
)

// Message is a JSON frame sent to the client.
type Message struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type control struct {
	Type string `json:"type"`
}
