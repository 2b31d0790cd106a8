// Package transcript records every byte exchanged with the language server
// and the MCP client, to files and optionally to a message broker.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Stream names, also used as file base names and subject suffixes.
const (
	LSPStdin  = "lsp.stdin"
	LSPStdout = "lsp.stdout"
	LSPStderr = "lsp.stderr"
	MCPStdin  = "mcp.stdin"
	MCPStdout = "mcp.stdout"
)

var streams = []string{LSPStdin, LSPStdout, LSPStderr, MCPStdin, MCPStdout}

const frameBuffer = 1024

// Publisher forwards recorded chunks to a broker.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Options configures a Recorder. A zero Dir disables files, a nil Publisher
// disables broker publishing.
type Options struct {
	Dir       string
	Publisher Publisher
	// Subject maps a stream name to a broker subject.
	Subject func(stream string) string
}

type frame struct {
	subject string
	data    []byte
}

// Recorder tees streams into per-stream sinks. Recording never alters the
// bytes passed through and never blocks on the broker.
type Recorder struct {
	pub     Publisher
	subject func(string) string

	// Writers hold mu shared, Close holds it exclusively.
	mu     sync.RWMutex
	files  map[string]*os.File
	frames chan frame
	closed bool

	done    chan struct{}
	dropped atomic.Int64
}

// New opens one file per stream under opts.Dir and starts the publisher
// worker when opts.Publisher is set.
func New(opts Options) (*Recorder, error) {
	r := &Recorder{
		files:   make(map[string]*os.File, len(streams)),
		pub:     opts.Publisher,
		subject: opts.Subject,
		done:    make(chan struct{}),
	}
	if r.subject == nil {
		r.subject = func(s string) string { return "transcript." + s }
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("transcript dir: %w", err)
		}
		for _, s := range streams {
			f, err := os.Create(filepath.Join(opts.Dir, s+".txt")) //nolint:gosec // path built from configured dir
			if err != nil {
				_ = r.closeFiles()
				return nil, fmt.Errorf("transcript file %s: %w", s, err)
			}
			r.files[s] = f
		}
	}

	if r.pub != nil {
		r.frames = make(chan frame, frameBuffer)
		go r.publish()
	} else {
		close(r.done)
	}
	slog.Info("transcript recording", "dir", opts.Dir, "publish", r.pub != nil)
	return r, nil
}

// Sink returns a writer recording into stream. Writes never fail.
func (r *Recorder) Sink(stream string) io.Writer {
	return sink{r: r, stream: stream}
}

// WrapLSP records the language server stream: writes go to lsp.stdin,
// reads to lsp.stdout.
func (r *Recorder) WrapLSP(rwc io.ReadWriteCloser) io.ReadWriteCloser {
	return &teeConn{
		ReadWriteCloser: rwc,
		in:              r.Sink(LSPStdin),
		out:             r.Sink(LSPStdout),
	}
}

// WrapMCP records the MCP client streams.
func (r *Recorder) WrapMCP(in io.Reader, out io.Writer) (io.Reader, io.Writer) {
	return io.TeeReader(in, r.Sink(MCPStdin)), io.MultiWriter(out, r.Sink(MCPStdout))
}

// WrapStderr records the language server's stderr while passing it on to w.
func (r *Recorder) WrapStderr(w io.Writer) io.Writer {
	if w == nil {
		return r.Sink(LSPStderr)
	}
	return io.MultiWriter(w, r.Sink(LSPStderr))
}

// Dropped returns the number of chunks not published because the broker
// queue was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close flushes pending frames and closes the files.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.frames != nil {
		close(r.frames)
	}
	r.mu.Unlock()

	<-r.done
	if n := r.dropped.Load(); n > 0 {
		slog.Warn("transcript frames dropped", "count", n)
	}
	return r.closeFiles()
}

func (r *Recorder) record(stream string, p []byte) {
	if len(p) == 0 {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	if f := r.files[stream]; f != nil {
		if _, err := f.Write(p); err != nil {
			slog.Warn("transcript write failed", "stream", stream, "error", err)
		}
	}
	if r.frames == nil {
		return
	}
	select {
	case r.frames <- frame{subject: r.subject(stream), data: append([]byte(nil), p...)}:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) publish() {
	defer close(r.done)
	for fr := range r.frames {
		if err := r.pub.Publish(context.Background(), fr.subject, fr.data); err != nil {
			slog.Warn("transcript publish failed", "subject", fr.subject, "error", err)
		}
	}
}

func (r *Recorder) closeFiles() error {
	var errs []error
	for s, f := range r.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s, err))
		}
		delete(r.files, s)
	}
	return errors.Join(errs...)
}

type sink struct {
	r      *Recorder
	stream string
}

func (s sink) Write(p []byte) (int, error) {
	s.r.record(s.stream, p)
	return len(p), nil
}

// teeConn mirrors both directions of a stream into sinks.
type teeConn struct {
	io.ReadWriteCloser
	in  io.Writer
	out io.Writer
}

func (c *teeConn) Read(p []byte) (int, error) {
	n, err := c.ReadWriteCloser.Read(p)
	if n > 0 {
		_, _ = c.out.Write(p[:n])
	}
	return n, err
}

func (c *teeConn) Write(p []byte) (int, error) {
	n, err := c.ReadWriteCloser.Write(p)
	if n > 0 {
		_, _ = c.in.Write(p[:n])
	}
	return n, err
}
