// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Queue is the port interface for publishing to a broker. Consumers live
// outside the bridge and read the stream directly.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Drain flushes pending publishes before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject suffixes appended to the configured prefix (default "sensebridge").
const (
	SubjectTranscript = "transcript" // transcript.{stream}, e.g. transcript.lsp.stdin
	SubjectEvents     = "events"     // events.{type}, e.g. events.lsp.status
)

// HeaderRequestID carries the originating request ID across the broker.
const HeaderRequestID = "X-Request-ID"
