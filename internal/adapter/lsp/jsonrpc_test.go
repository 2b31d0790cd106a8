package lsp

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

type bufferRWC struct {
	*bytes.Buffer
}

func (bufferRWC) Close() error { return nil }

func TestJSONRPCConn_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	conn := NewJSONRPCConn(bufferRWC{&buf})

	if err := conn.Send(7, "textDocument/hover", map[string]int{"line": 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := conn.Notify("initialized", map[string]any{}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if !strings.HasPrefix(buf.String(), "Content-Length: ") {
		t.Fatalf("missing header: %q", buf.String())
	}

	req, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !req.IsRequest() || req.Method != "textDocument/hover" {
		t.Errorf("request = %+v", req)
	}
	if id, ok := req.IntID(); !ok || id != 7 {
		t.Errorf("id = %s", req.ID)
	}

	note, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !note.IsNotification() {
		t.Errorf("notification = %+v", note)
	}

	if _, err := conn.ReadMessage(); !errors.Is(err, io.EOF) {
		t.Errorf("clean end of stream err = %v, want io.EOF", err)
	}
}

func TestJSONRPCConn_ExtraHeadersIgnored(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":1,"result":null}`
	raw := "Content-Type: application/vscode-jsonrpc; charset=utf-8\r\ncontent-length: 38\r\n\r\n" + body
	conn := NewJSONRPCConn(bufferRWC{bytes.NewBufferString(raw)})

	msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !msg.IsResponse() {
		t.Errorf("msg = %+v", msg)
	}
}

func TestJSONRPCConn_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing content length", "X-Other: 1\r\n\r\n{}"},
		{"bad content length", "Content-Length: abc\r\n\r\n{}"},
		{"negative content length", "Content-Length: -4\r\n\r\n{}"},
		{"malformed header", "garbage\r\n\r\n"},
		{"truncated body", "Content-Length: 100\r\n\r\n{}"},
		{"invalid json", "Content-Length: 9\r\n\r\n{not json"},
		{"wrong version", "Content-Length: 28\r\n\r\n{\"jsonrpc\":\"1.0\",\"id\":1}    "},
		{"truncated header", "Content-Length: 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := NewJSONRPCConn(bufferRWC{bytes.NewBufferString(tt.raw)})
			_, err := conn.ReadMessage()
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("err = %v, want ErrProtocol", err)
			}
		})
	}
}

func TestJSONRPCConn_ReplyNullResult(t *testing.T) {
	var buf bytes.Buffer
	conn := NewJSONRPCConn(bufferRWC{&buf})

	if err := conn.Reply([]byte(`"abc"`), nil, nil); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(msg.ID) != `"abc"` || string(msg.Result) != "null" {
		t.Errorf("reply = id %s result %s", msg.ID, msg.Result)
	}
	if _, ok := msg.IntID(); ok {
		t.Error("string id decoded as integer")
	}
}
