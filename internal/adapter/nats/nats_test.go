package nats

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/sensebridge/internal/logger"
	"github.com/Strob0t/sensebridge/internal/port/messagequeue"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url, "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

// uniqueSubject returns a subject under the test name so parallel runs do
// not see each other's messages.
func uniqueSubject(t *testing.T, q *Queue, kind string) string {
	t.Helper()
	return q.Subject(kind, "test", strings.ReplaceAll(t.Name(), "/", "_"))
}

func TestSubject(t *testing.T) {
	q := &Queue{prefix: "sb"}
	if got := q.Subject("transcript", "lsp.stdin"); got != "sb.transcript.lsp.stdin" {
		t.Errorf("Subject = %q", got)
	}
}

// consume reads new messages on subject straight from the stream.
func consume(t *testing.T, q *Queue, subject string) <-chan jetstream.Msg {
	t.Helper()
	ctx := context.Background()
	consumer, err := q.js.OrderedConsumer(ctx, streamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("OrderedConsumer: %v", err)
	}
	msgs := make(chan jetstream.Msg, 8)
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		select {
		case msgs <- msg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	t.Cleanup(cc.Stop)
	return msgs
}

func next(t *testing.T, msgs <-chan jetstream.Msg) jetstream.Msg {
	t.Helper()
	select {
	case msg := <-msgs:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestQueue_Publish(t *testing.T) {
	q := testConnect(t)
	subject := uniqueSubject(t, q, messagequeue.SubjectTranscript)
	msgs := consume(t, q, subject)

	frame := []byte("Content-Length: 2\r\n\r\n{}")
	if err := q.Publish(context.Background(), subject, frame); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := next(t, msgs).Data(); string(got) != string(frame) {
		t.Errorf("received %q, want %q", got, frame)
	}
}

func TestQueue_RequestIDHeader(t *testing.T) {
	q := testConnect(t)
	subject := uniqueSubject(t, q, messagequeue.SubjectEvents)
	msgs := consume(t, q, subject)

	ctx := logger.WithRequestID(context.Background(), "req-123")
	if err := q.Publish(ctx, subject, []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if id := next(t, msgs).Headers().Get(messagequeue.HeaderRequestID); id != "req-123" {
		t.Errorf("request id = %q, want req-123", id)
	}
}

func TestQueue_BroadcastEvent(t *testing.T) {
	q := testConnect(t)
	eventType := "test." + strings.ReplaceAll(t.Name(), "/", "_")
	msgs := consume(t, q, q.Subject(messagequeue.SubjectEvents, eventType))

	q.BroadcastEvent(context.Background(), eventType, map[string]string{"status": "ready"})

	var m map[string]string
	if err := json.Unmarshal(next(t, msgs).Data(), &m); err != nil {
		t.Fatal(err)
	}
	if m["status"] != "ready" {
		t.Errorf("unexpected payload %v", m)
	}
}

func TestQueue_IsConnected(t *testing.T) {
	q := testConnect(t)
	if !q.IsConnected() {
		t.Error("IsConnected() = false after Connect, want true")
	}
	if err := q.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}
