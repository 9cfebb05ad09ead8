package events

import (
	"context"
	"strings"
	"sync"
)

// Sink delivers events to one client in emission order.
// Delivery is fire-and-forget: implementations log failures instead of returning them.
type Sink interface {
	Deliver(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, e Event) {
	f(ctx, e)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// Tee delivers every event to each sink in order.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, e Event) {
		for _, s := range sinks {
			s.Deliver(ctx, e)
		}
	})
}

// Recorder is a Sink that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Deliver records e.
func (r *Recorder) Deliver(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the wire type of each recorded event.
func (r *Recorder) Types() []string {
	evs := r.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Type()
	}
	return out
}

// Chunks returns every AssistantChunk in order.
func (r *Recorder) Chunks() []AssistantChunk {
	var out []AssistantChunk
	for _, e := range r.Events() {
		if c, ok := e.(AssistantChunk); ok {
			out = append(out, c)
		}
	}
	return out
}

// Text concatenates the chunks sent for one message id.
func (r *Recorder) Text(messageID string) string {
	var b strings.Builder
	for _, c := range r.Chunks() {
		if c.MessageID == messageID {
			b.WriteString(c.Chunk)
		}
	}
	return b.String()
}

// SectionUpdates returns every DocumentSectionUpdate in order.
func (r *Recorder) SectionUpdates() []DocumentSectionUpdate {
	var out []DocumentSectionUpdate
	for _, e := range r.Events() {
		if u, ok := e.(DocumentSectionUpdate); ok {
			out = append(out, u)
		}
	}
	return out
}

// Statuses returns the message of every StatusUpdate in order.
func (r *Recorder) Statuses() []string {
	var out []string
	for _, e := range r.Events() {
		if s, ok := e.(StatusUpdate); ok {
			out = append(out, s.Message)
		}
	}
	return out
}
