package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/salesbot/internal/events"
)

func TestOutboxKeepsOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	o := NewOutbox(func(e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.(events.AssistantChunk).Chunk)
		return nil
	}, slog.New(slog.DiscardHandler))

	var want []string
	for i := range 500 {
		chunk := fmt.Sprintf("c%d", i)
		want = append(want, chunk)
		o.Deliver(context.Background(), events.AssistantChunk{MessageID: "m", Chunk: chunk})
	}
	o.Close()

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestOutboxFailedWriterDoesNotBlock(t *testing.T) {
	calls := 0
	o := NewOutbox(func(events.Event) error {
		calls++
		return errors.New("client gone")
	}, slog.New(slog.DiscardHandler))

	for range 3 * outboxQueueSize {
		o.Deliver(context.Background(), events.StatusUpdate{Message: "x"})
	}
	o.Close()

	if calls != 1 {
		t.Errorf("expected writes to stop after the first failure, got %d calls", calls)
	}
	// Deliver after Close is a no-op.
	o.Deliver(context.Background(), events.StatusUpdate{Message: "late"})
}

func TestOutboxDropsOnCancelledContext(t *testing.T) {
	release := make(chan struct{})
	o := NewOutbox(func(events.Event) error {
		<-release
		return nil
	}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The writer is stuck on the first event; fill the queue then overflow with a dead context.
	for range outboxQueueSize + 2 {
		o.Deliver(ctx, events.StatusUpdate{Message: "x"})
	}
	close(release)
	o.Close()
}
