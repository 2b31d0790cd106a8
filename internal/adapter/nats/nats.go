// Package nats implements the message queue port using NATS JetStream.
// Transcript frames and bridge events are published under one subject prefix.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/sensebridge/internal/logger"
	"github.com/Strob0t/sensebridge/internal/port/messagequeue"
)

const (
	streamName    = "SENSEBRIDGE"
	defaultPrefix = "sensebridge"
	streamMaxAge  = 24 * time.Hour
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// Connect establishes a connection to NATS and ensures the JetStream stream
// capturing prefix.> and any extra subjects exists. An empty prefix selects
// "sensebridge".
func Connect(ctx context.Context, url, prefix string, extra ...string) (*Queue, error) {
	if prefix == "" {
		prefix = defaultPrefix
	}
	nc, err := nats.Connect(url, nats.Name("sensebridge"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: append([]string{prefix + ".>"}, extra...),
		MaxAge:   streamMaxAge,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName, "prefix", prefix)
	return &Queue{nc: nc, js: js, prefix: prefix}, nil
}

// Subject joins parts under the queue's prefix.
func (q *Queue) Subject(parts ...string) string {
	return q.prefix + "." + strings.Join(parts, ".")
}

// Publish sends a message to the given subject and waits for the stream ack.
// The request ID in ctx, if any, travels as a header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(messagequeue.HeaderRequestID, id)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// BroadcastEvent publishes an event as JSON on events.{type}. It implements
// broadcast.Broadcaster; failures are logged, never returned.
func (q *Queue) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal nats event payload", "type", eventType, "error", err)
		return
	}
	subject := q.Subject(messagequeue.SubjectEvents, eventType)
	msg := nats.NewMsg(subject)
	msg.Data = data
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(messagequeue.HeaderRequestID, id)
	}
	// Events are fire-and-forget; the stream still captures them.
	if err := q.nc.PublishMsg(msg); err != nil {
		slog.Warn("nats event publish failed", "subject", subject, "error", err)
	}
}

// Drain flushes pending publishes, then closes the connection.
func (q *Queue) Drain() error {
	if err := q.nc.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// IsConnected reports whether the NATS connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

var _ messagequeue.Queue = (*Queue)(nil)
