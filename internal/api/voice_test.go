package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/salesbot/internal/voice"
)

// echoStream turns every audio frame into a final transcript of its bytes.
type echoStream struct {
	results chan voice.Transcript
	done    chan struct{}
}

func (s *echoStream) Send(ctx context.Context, audio []byte) error {
	select {
	case s.results <- voice.Transcript{Text: string(audio), IsFinal: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *echoStream) Recv(ctx context.Context) (voice.Transcript, error) {
	select {
	case tr := <-s.results:
		return tr, nil
	case <-s.done:
		return voice.Transcript{}, io.EOF
	case <-ctx.Done():
		return voice.Transcript{}, ctx.Err()
	}
}

func (s *echoStream) Close() error {
	close(s.done)
	return nil
}

type echoTranscriber struct{}

func (echoTranscriber) Open(context.Context) (voice.TranscriptionStream, error) {
	return &echoStream{results: make(chan voice.Transcript, 4), done: make(chan struct{})}, nil
}

type textSynth struct{}

func (textSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	return []byte("mp3:" + text), nil
}

func TestServeVoiceUnavailableWithoutBackends(t *testing.T) {
	env := newTestEnv(t, turnFunc(echoTurns))
	w, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/ws/voice", nil), nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestServeVoiceRoundTrip(t *testing.T) {
	env := newTestEnv(t, turnFunc(echoTurns), withVoice(echoTranscriber{}, textSynth{}))
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/voice?session_id=v1", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	if err := ws.Write(ctx, websocket.MessageBinary, []byte("what is new")); err != nil {
		t.Fatal(err)
	}

	var (
		texts []voice.Message
		audio []byte
	)
	for audio == nil {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if typ == websocket.MessageBinary {
			audio = data
			continue
		}
		var msg voice.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		texts = append(texts, msg)
	}

	if len(texts) != 3 {
		t.Fatalf("expected transcription, status and reply, got %+v", texts)
	}
	if texts[0] != (voice.Message{Type: voice.MessageTranscription, Text: "what is new"}) {
		t.Errorf("unexpected transcription %+v", texts[0])
	}
	if texts[2] != (voice.Message{Type: voice.MessageAIResponse, Text: "echo: what is new"}) {
		t.Errorf("unexpected reply %+v", texts[2])
	}
	if string(audio) != "mp3:echo: what is new" {
		t.Errorf("unexpected audio %q", audio)
	}
}
