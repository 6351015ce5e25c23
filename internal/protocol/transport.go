package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Transport moves requests and responses across a byte channel.
type Transport interface {
	// Receive blocks until the next request arrives. A malformed frame is
	// reported as *ParseError; io.EOF signals a clean end of stream.
	Receive(ctx context.Context) (*Request, error)
	// Send writes one response. Implementations must serialize concurrent
	// writes so responses never interleave mid-frame.
	Send(ctx context.Context, resp *Response) error
	Close() error
}

// StdioTransport frames one JSON object per line over a reader/writer pair,
// normally stdin/stdout. Blank lines are skipped.
type StdioTransport struct {
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex
}

// NewStdioTransport wraps the given streams in a line-delimited transport.
func NewStdioTransport(r io.Reader, w io.Writer) *StdioTransport {
	return &StdioTransport{
		reader: bufio.NewReader(r),
		writer: w,
	}
}

// Receive reads lines until one holds a non-blank payload, then decodes it.
// Line length is unbounded: tool arguments may carry file contents.
func (t *StdioTransport) Receive(ctx context.Context) (*Request, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line, err := t.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && strings.TrimSpace(line) != "" {
				// Final line without trailing newline still counts.
				return decodeRequest(line)
			}
			return nil, err
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		return decodeRequest(line)
	}
}

func decodeRequest(line string) (*Request, error) {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return nil, &ParseError{Err: err}
	}
	if req.JSONRPC != "" && req.JSONRPC != Version {
		return nil, &ParseError{Err: fmt.Errorf("unsupported jsonrpc version %q", req.JSONRPC)}
	}
	return &req, nil
}

// Send marshals the response and writes it as a single line under the write
// lock, so responses from concurrently resolved requests cannot interleave.
func (t *StdioTransport) Send(_ context.Context, resp *Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(body); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if _, err := t.writer.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("write frame terminator: %w", err)
	}
	return nil
}

// Close is a no-op: the process does not own stdin/stdout.
func (t *StdioTransport) Close() error { return nil }
