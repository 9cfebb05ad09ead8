package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/salesbot/internal/events"
)

const (
	outboxQueueSize   = 100
	slowWriteWarning  = 100 * time.Millisecond
	clientWriteBudget = 10 * time.Second
)

// Outbox is an events.Sink that writes to one client from a single goroutine.
// Events leave in the order Deliver accepted them.
type Outbox struct {
	write  func(events.Event) error
	queue  chan events.Event
	done   chan struct{}
	logger *slog.Logger

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewOutbox starts the writer goroutine. write must not be called elsewhere.
func NewOutbox(write func(events.Event) error, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Outbox{
		write:  write,
		queue:  make(chan events.Event, outboxQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go o.run()
	return o
}

// Deliver queues e. A full queue blocks the caller until there is room or ctx ends.
func (o *Outbox) Deliver(ctx context.Context, e events.Event) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return
	}
	select {
	case o.queue <- e:
	case <-ctx.Done():
		o.logger.Warn("Dropping event for cancelled turn", "type", e.Type())
	}
}

func (o *Outbox) run() {
	defer close(o.done)

	broken := false
	for e := range o.queue {
		if broken {
			continue
		}
		start := time.Now()
		if err := o.write(e); err != nil {
			// The client is gone; keep draining so producers never block.
			o.logger.Debug("Client write failed, discarding remaining events", "type", e.Type(), "error", err)
			broken = true
			continue
		}
		if d := time.Since(start); d > slowWriteWarning {
			o.logger.Warn("Slow client write", "type", e.Type(), "duration_ms", d.Milliseconds())
		}
	}
}

// Close flushes queued events and stops the writer.
func (o *Outbox) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.queue)
		o.mu.Unlock()
	})
	<-o.done
}
