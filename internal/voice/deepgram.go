package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	deepgramListenURL = "wss://api.deepgram.com/v1/listen"
	deepgramSpeakURL  = "https://api.deepgram.com/v1/speak"
)

var (
	errMissingDeepgramKey = errors.New("deepgram api key not configured")
	errStreamClosed       = errors.New("transcription stream closed")
)

// DeepgramConfig configures the live transcription socket.
type DeepgramConfig struct {
	APIKey         string
	Model          string
	Language       string
	UtteranceEndMs int
	// Encoding and SampleRate are only needed for raw audio; containerized
	// audio such as webm is detected by the server.
	Encoding   string
	SampleRate int
	// URL overrides the listen endpoint.
	URL string
}

// DeepgramTranscriber opens Deepgram live transcription sockets.
type DeepgramTranscriber struct {
	cfg    DeepgramConfig
	dialer *websocket.Dialer
}

// NewDeepgramTranscriber creates a transcriber.
func NewDeepgramTranscriber(cfg DeepgramConfig) *DeepgramTranscriber {
	if cfg.Model == "" {
		cfg.Model = "nova-3"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.UtteranceEndMs <= 0 {
		cfg.UtteranceEndMs = 1000
	}
	if cfg.URL == "" {
		cfg.URL = deepgramListenURL
	}
	return &DeepgramTranscriber{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (t *DeepgramTranscriber) listenURL() (string, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse listen url: %w", err)
	}
	q := u.Query()
	q.Set("model", t.cfg.Model)
	q.Set("language", t.cfg.Language)
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", strconv.Itoa(t.cfg.UtteranceEndMs))
	q.Set("endpointing", "300")
	if t.cfg.Encoding != "" {
		q.Set("encoding", t.cfg.Encoding)
		q.Set("channels", "1")
	}
	if t.cfg.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(t.cfg.SampleRate))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open dials the listen socket. The socket is closed when ctx ends.
func (t *DeepgramTranscriber) Open(ctx context.Context) (TranscriptionStream, error) {
	if t.cfg.APIKey == "" {
		return nil, errMissingDeepgramKey
	}
	target, err := t.listenURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := t.dialer.DialContext(ctx, target, http.Header{"Authorization": {"Token " + t.cfg.APIKey}})
	if err != nil {
		return nil, fmt.Errorf("open socket connection to deepgram: %w", err)
	}

	s := &deepgramStream{conn: conn}
	s.stop = context.AfterFunc(ctx, func() { _ = conn.Close() })
	return s, nil
}

type deepgramStream struct {
	conn *websocket.Conn
	stop func() bool

	writeMu sync.Mutex
	closed  bool

	// touched only by Recv
	pending []string
}

func (s *deepgramStream) Send(_ context.Context, audio []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("write to deepgram: %w", err)
	}
	return nil
}

// Close asks the server to flush and end the stream. Recv keeps returning
// the remaining results until the server closes the socket.
func (s *deepgramStream) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.conn.WriteJSON(control{Type: string(api.TypeCloseStreamResponse)})
	if err != nil {
		_ = s.conn.Close()
		return fmt.Errorf("close deepgram stream: %w", err)
	}
	return nil
}

// Recv returns interim results as they arrive. Final segments are joined
// until Deepgram marks the end of speech or the utterance.
func (s *deepgramStream) Recv(ctx context.Context) (Transcript, error) {
	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.stop()
			_ = s.conn.Close()
			if ctx.Err() != nil {
				return Transcript{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return Transcript{}, io.EOF
			}
			return Transcript{}, fmt.Errorf("read deepgram message: %w", err)
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		if tr, ok := s.process(msg); ok {
			return tr, nil
		}
	}
}

func (s *deepgramStream) process(msg []byte) (Transcript, bool) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		return Transcript{}, false
	}

	switch api.TypeResponse(head.Type) {
	case api.TypeMessageResponse:
		var resp api.MessageResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return Transcript{}, false
		}
		var text string
		if len(resp.Channel.Alternatives) > 0 {
			text = strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
		}
		if !resp.IsFinal {
			if text == "" {
				return Transcript{}, false
			}
			return Transcript{Text: strings.Join(append(slices.Clone(s.pending), text), " ")}, true
		}
		if text != "" {
			s.pending = append(s.pending, text)
		}
		if resp.SpeechFinal {
			return s.flush()
		}
	case api.TypeUtteranceEndResponse:
		return s.flush()
	}
	return Transcript{}, false
}

func (s *deepgramStream) flush() (Transcript, bool) {
	if len(s.pending) == 0 {
		return Transcript{}, false
	}
	text := strings.Join(s.pending, " ")
	s.pending = nil
	return Transcript{Text: text, IsFinal: true}, true
}

// DeepgramSynthesizer calls the Deepgram speak endpoint.
type DeepgramSynthesizer struct {
	client *http.Client
	apiKey string
	model  string
	url    string
}

// NewDeepgramSynthesizer creates a synthesizer. An empty url uses the public endpoint.
func NewDeepgramSynthesizer(apiKey, model, endpoint string, timeout time.Duration) *DeepgramSynthesizer {
	if model == "" {
		model = "aura-asteria-en"
	}
	if endpoint == "" {
		endpoint = deepgramSpeakURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DeepgramSynthesizer{
		client: &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		apiKey: apiKey,
		model:  model,
		url:    endpoint,
	}
}

// Synthesize returns encoded audio for text.
func (d *DeepgramSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if d.apiKey == "" {
		return nil, errMissingDeepgramKey
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("encode speak request: %w", err)
	}

	target := d.url + "?" + url.Values{"model": {d.model}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build speak request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speak request: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speak response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speak request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(audio)))
	}
	return audio, nil
}
