package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/orchestrator"
)

// ChannelVoice names voice turns in the conversation log.
const ChannelVoice = "voice"

// Config sizes a Session.
type Config struct {
	UserID              string
	SessionID           string
	AudioQueueSize      int
	TranscriptQueueSize int
}

// Session runs one voice connection.
type Session struct {
	cfg         Config
	transcriber Transcriber
	synth       Synthesizer
	turns       TurnHandler
	interrupt   *Interrupt
	logger      *slog.Logger

	writeMu sync.Mutex
}

// NewSession creates a Session. Call Run once.
func NewSession(cfg Config, transcriber Transcriber, synth Synthesizer, turns TurnHandler, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AudioQueueSize <= 0 {
		cfg.AudioQueueSize = 64
	}
	if cfg.TranscriptQueueSize <= 0 {
		cfg.TranscriptQueueSize = 8
	}
	return &Session{
		cfg:         cfg,
		transcriber: transcriber,
		synth:       synth,
		turns:       turns,
		interrupt:   NewInterrupt(),
		logger:      logger.With("session_id", cfg.SessionID, "user_id", cfg.UserID),
	}
}

// Interrupt returns the session's stop signal.
func (s *Session) Interrupt() *Interrupt {
	return s.interrupt
}

// Run drives the session until the client disconnects or ctx ends.
// Every stage goroutine has exited when Run returns.
func (s *Session) Run(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.transcriber.Open(ctx)
	if err != nil {
		return fmt.Errorf("open transcription stream: %w", err)
	}

	audio := make(chan []byte, s.cfg.AudioQueueSize)
	utterances := make(chan string, s.cfg.TranscriptQueueSize)

	shutdown := sync.OnceFunc(func() {
		// nil audio and an empty utterance are the stop sentinels.
		select {
		case audio <- nil:
		default:
		}
		select {
		case utterances <- "":
		default:
		}
		cancel()
	})
	defer shutdown()

	s.logger.Info("voice session started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer shutdown()
		return s.ingest(gctx, conn, audio)
	})
	g.Go(func() error {
		defer stream.Close()
		return s.send(gctx, stream, audio)
	})
	g.Go(func() error {
		return s.receive(gctx, stream, utterances)
	})
	g.Go(func() error {
		return s.execute(gctx, conn, utterances)
	})

	err = g.Wait()
	s.logger.Info("voice session ended", "error", err)
	return err
}

func (s *Session) ingest(ctx context.Context, conn Conn, audio chan<- []byte) error {
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Debug("voice client read ended", "error", err)
			return nil
		}

		if frame.Binary {
			if len(frame.Data) == 0 {
				continue
			}
			select {
			case audio <- frame.Data:
			case <-ctx.Done():
				return nil
			}
			continue
		}

		var msg control
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			s.logger.Warn("ignoring malformed control message", "error", err)
			continue
		}
		if msg.Type == MessageInterrupt {
			s.interrupt.Set()
			s.logger.Info("voice turn interrupted")
		}
	}
}

func (s *Session) send(ctx context.Context, stream TranscriptionStream, audio <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk := <-audio:
			if chunk == nil {
				return nil
			}
			if err := stream.Send(ctx, chunk); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("send audio: %w", err)
			}
		}
	}
}

func (s *Session) receive(ctx context.Context, stream TranscriptionStream, utterances chan<- string) error {
	for {
		tr, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive transcript: %w", err)
		}
		text := strings.TrimSpace(tr.Text)
		if !tr.IsFinal || text == "" {
			continue
		}

		select {
		case utterances <- text:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) execute(ctx context.Context, conn Conn, utterances <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-utterances:
			if text == "" {
				return nil
			}
			s.runTurn(ctx, conn, text)
		}
	}
}

func (s *Session) runTurn(ctx context.Context, conn Conn, text string) {
	epoch, stopped := s.interrupt.Watch()

	ctx, span := tracer.Start(ctx, "voice.turn", trace.WithAttributes(
		attribute.String("session.id", s.cfg.SessionID),
	))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopped:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.write(ctx, conn, Message{Type: MessageTranscription, Text: text})

	var reply strings.Builder
	sink := events.SinkFunc(func(ctx context.Context, e events.Event) {
		if s.interrupt.Since(epoch) {
			return
		}
		switch ev := e.(type) {
		case events.AssistantChunk:
			reply.WriteString(ev.Chunk)
		case events.StatusUpdate:
			s.write(ctx, conn, Message{Type: MessageStatusUpdate, Text: ev.Message})
		case events.Error:
			s.write(ctx, conn, Message{Type: MessageStatusUpdate, Text: ev.Message})
		}
	})

	s.turns.HandleTurn(ctx, orchestrator.Turn{
		SessionID: s.cfg.SessionID,
		UserID:    s.cfg.UserID,
		Text:      text,
		Persist:   false,
		Channel:   ChannelVoice,
	}, sink)

	if s.interrupt.Since(epoch) {
		span.SetAttributes(attribute.Bool("voice.interrupted", true))
		s.logger.Info("dropping interrupted voice reply")
		return
	}

	response := reply.String()
	speech := StripMarkdown(response)
	if speech == "" {
		return
	}

	audio, err := s.synth.Synthesize(ctx, speech)
	if err != nil {
		s.logger.Warn("speech synthesis failed", "error", err)
	}

	if s.interrupt.Since(epoch) {
		span.SetAttributes(attribute.Bool("voice.interrupted", true))
		s.logger.Info("dropping interrupted voice audio")
		return
	}
	s.write(ctx, conn, Message{Type: MessageAIResponse, Text: response})
	if len(audio) > 0 {
		s.writeBinary(ctx, conn, audio)
	}
}

func (s *Session) write(ctx context.Context, conn Conn, msg Message) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(ctx, msg); err != nil {
		s.logger.Debug("voice write failed", "type", msg.Type, "error", err)
	}
}

func (s *Session) writeBinary(ctx context.Context, conn Conn, data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteBinary(ctx, data); err != nil {
		s.logger.Debug("voice audio write failed", "bytes", len(data), "error", err)
	}
}
