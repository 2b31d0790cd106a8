package lsp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// maxContentLength bounds a single message body.
const maxContentLength = 256 << 20

// JSONRPCMessage represents a JSON-RPC 2.0 message (request, response, or notification).
type JSONRPCMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`     // number or string; absent for notifications
	Method  string          `json:"method,omitempty"` // present for requests/notifications
	Params  json.RawMessage `json:"params,omitempty"` // request/notification params
	Result  json.RawMessage `json:"result,omitempty"` // response result
	Error   *ResponseError  `json:"error,omitempty"`  // response error
}

// IsNotification reports whether the message carries no id.
func (m *JSONRPCMessage) IsNotification() bool {
	return len(m.ID) == 0 && m.Method != ""
}

// IsRequest reports whether the message is a server-to-client request.
func (m *JSONRPCMessage) IsRequest() bool {
	return len(m.ID) > 0 && m.Method != ""
}

// IsResponse reports whether the message answers one of our requests.
func (m *JSONRPCMessage) IsResponse() bool {
	return len(m.ID) > 0 && m.Method == ""
}

// IntID decodes a numeric id. Our own requests always use integers.
func (m *JSONRPCMessage) IntID() (int64, bool) {
	var id int64
	if err := json.Unmarshal(m.ID, &id); err != nil {
		return 0, false
	}
	return id, true
}

// JSONRPCConn wraps an io.ReadWriteCloser (typically stdin/stdout of an LSP process)
// and implements the JSON-RPC 2.0 over stdio transport with Content-Length header framing.
type JSONRPCConn struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex // protects writes
}

// NewJSONRPCConn creates a new JSON-RPC connection over the given stream.
func NewJSONRPCConn(rwc io.ReadWriteCloser) *JSONRPCConn {
	return &JSONRPCConn{
		rwc:    rwc,
		reader: bufio.NewReaderSize(rwc, 64*1024),
	}
}

// Send sends a JSON-RPC request with the given id, method and params.
func (c *JSONRPCConn) Send(id int64, method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.write(JSONRPCMessage{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
		Params:  raw,
	})
}

// Notify sends a JSON-RPC notification (no ID, no response expected).
func (c *JSONRPCConn) Notify(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.write(JSONRPCMessage{JSONRPC: "2.0", Method: method, Params: raw})
}

// Reply answers a server-to-client request. A nil result is sent as JSON null.
func (c *JSONRPCConn) Reply(id json.RawMessage, result any, rpcErr *ResponseError) error {
	msg := JSONRPCMessage{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		msg.Result = raw
	}
	return c.write(msg)
}

// ReadMessage reads one JSON-RPC message from the connection.
// Blocks until a full message is available or the connection is closed.
// A clean end of stream between messages returns io.EOF; anything else
// malformed wraps ErrProtocol.
func (c *JSONRPCConn) ReadMessage() (*JSONRPCMessage, error) {
	data, err := c.readMessage()
	if err != nil {
		return nil, err
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal message: %v", ErrProtocol, err)
	}
	if msg.JSONRPC != "2.0" {
		return nil, fmt.Errorf("%w: unexpected jsonrpc version %q", ErrProtocol, msg.JSONRPC)
	}

	return &msg, nil
}

// Close closes the underlying connection.
func (c *JSONRPCConn) Close() error {
	return c.rwc.Close()
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

func (c *JSONRPCConn) write(msg JSONRPCMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.writeMessage(data)
}

// writeMessage writes a JSON-RPC message with Content-Length header framing.
// Header and body go out in one Write so a frame is never interleaved.
func (c *JSONRPCConn) writeMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf bytes.Buffer
	buf.Grow(len(data) + 32)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(data))
	buf.Write(data)

	if _, err := c.rwc.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// readMessage reads one Content-Length-framed message from the connection.
func (c *JSONRPCConn) readMessage() ([]byte, error) {
	contentLength := -1
	first := true
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			if first && line == "" && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: read header: %v", ErrProtocol, err)
		}
		first = false
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break // End of headers
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: malformed header %q", ErrProtocol, line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			val := strings.TrimSpace(value)
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: parse Content-Length %q", ErrProtocol, val)
			}
			contentLength = n
		}
		// Ignore other headers (e.g. Content-Type).
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("%w: missing Content-Length header", ErrProtocol)
	}
	if contentLength > maxContentLength {
		return nil, fmt.Errorf("%w: Content-Length %d exceeds limit", ErrProtocol, contentLength)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, fmt.Errorf("%w: read body (%d bytes): %v", ErrProtocol, contentLength, err)
	}

	return body, nil
}
