package store

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	writeMaxRetries     = 3
	writeRetryBaseDelay = 50 * time.Millisecond
)

// IsConflictError reports whether err is a SQLITE_BUSY or "database is locked"
// error. Both are transient under concurrent writers.
func IsConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry runs op, retrying conflict errors with exponential backoff.
func withRetry(ctx context.Context, name string, op func() error) error {
	var err error
	for i := 0; i < writeMaxRetries; i++ {
		if err = op(); err == nil || !IsConflictError(err) {
			return err
		}
		if i == writeMaxRetries-1 {
			break
		}
		delay := writeRetryBaseDelay * time.Duration(1<<i)
		slog.Debug("Database locked, retrying", "op", name, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
	return err
}
