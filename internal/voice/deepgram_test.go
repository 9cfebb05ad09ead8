package voice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

func results(text string, isFinal, speechFinal bool) string {
	msg := map[string]any{
		"type":         "Results",
		"is_final":     isFinal,
		"speech_final": speechFinal,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text}},
		},
	}
	data, _ := json.Marshal(msg)
	return string(data)
}

func TestDeepgramProcessJoinsFinalSegments(t *testing.T) {
	s := &deepgramStream{}

	var got []Transcript
	for _, msg := range []string{
		results("hello", false, false),
		results("hello there", true, false),
		results("how are", false, false),
		results("how are you", true, true),
		results("", true, false),
		`{"type":"UtteranceEnd","last_word_end":2.1}`,
		results("bye", true, false),
		`{"type":"UtteranceEnd","last_word_end":3.4}`,
		`{"type":"Metadata"}`,
	} {
		if tr, ok := s.process([]byte(msg)); ok {
			got = append(got, tr)
		}
	}

	want := []Transcript{
		{Text: "hello"},
		{Text: "hello there how are"},
		{Text: "hello there how are you", IsFinal: true},
		{Text: "bye", IsFinal: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transcripts mismatch (-want +got):\n%s", diff)
	}
}

func TestDeepgramTranscriberStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var (
		mu       sync.Mutex
		received []string
		query    string
		auth     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		query = r.URL.RawQuery
		auth = r.Header.Get("Authorization")
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				mu.Lock()
				received = append(received, string(data))
				mu.Unlock()
				_ = conn.WriteMessage(websocket.TextMessage, []byte(results(string(data), true, true)))
				continue
			}
			if strings.Contains(string(data), "CloseStream") {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
	defer srv.Close()

	tr := NewDeepgramTranscriber(DeepgramConfig{
		APIKey: "secret",
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := tr.Open(ctx)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := stream.Send(ctx, []byte("hi there")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got, err := stream.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if got != (Transcript{Text: "hi there", IsFinal: true}) {
		t.Errorf("unexpected transcript %+v", got)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := stream.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after close, got %v", err)
	}
	if err := stream.Send(ctx, []byte("late")); err == nil {
		t.Error("expected Send after Close to fail")
	}

	mu.Lock()
	defer mu.Unlock()
	if auth != "Token secret" {
		t.Errorf("unexpected auth header %q", auth)
	}
	for _, param := range []string{"model=nova-3", "interim_results=true", "utterance_end_ms=1000"} {
		if !strings.Contains(query, param) {
			t.Errorf("query %q missing %s", query, param)
		}
	}
}

func TestDeepgramTranscriberRequiresKey(t *testing.T) {
	if _, err := NewDeepgramTranscriber(DeepgramConfig{}).Open(context.Background()); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestDeepgramSynthesize(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" || r.URL.Query().Get("model") != "aura-asteria-en" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte("mp3 bytes"))
	}))
	defer srv.Close()

	audio, err := NewDeepgramSynthesizer("secret", "", srv.URL, 0).Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if string(audio) != "mp3 bytes" || body["text"] != "hello" {
		t.Errorf("unexpected audio %q body %v", audio, body)
	}
}

func TestDeepgramSynthesizeStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	_, err := NewDeepgramSynthesizer("secret", "", srv.URL, 0).Synthesize(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "402") {
		t.Fatalf("expected status error, got %v", err)
	}
}
