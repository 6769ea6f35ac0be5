package stream

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"stream-bridge/internal/common/errors"
	httpclient "stream-bridge/internal/common/http"
)

// DefaultMaxFrameSize bounds a single frame.
const DefaultMaxFrameSize = 1 << 20

var (
	// ErrStreamClosed is returned by Next when the server ended the response cleanly.
	ErrStreamClosed = stderrors.New("stream closed by server")
	// ErrConnectionClosed is returned by Next after Close was called.
	ErrConnectionClosed = stderrors.New("connection closed")
)

// DisconnectedError is returned by Next when the transport failed mid-stream.
type DisconnectedError struct {
	Cause error
}

func (e *DisconnectedError) Error() string {
	return fmt.Sprintf("stream disconnected: %v", e.Cause)
}

func (e *DisconnectedError) Unwrap() error {
	return e.Cause
}

// Config describes the stream request.
type Config struct {
	URL          string
	BearerToken  string
	UserAgent    string
	MaxFrameSize int
}

// Connection is one open stream response. It is not safe for concurrent
// Next calls and cannot be reopened once Next has returned a terminal error.
type Connection struct {
	resp     *http.Response
	cancel   context.CancelFunc
	reader   *bufio.Reader
	maxFrame int
	pending  []Event

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	done      bool
}

// Open issues the stream request and returns once response headers arrive.
// A non-200 response is classified as a connection-limit error when the
// upstream reports the connection quota, and as a transport error otherwise.
func Open(ctx context.Context, client *http.Client, cfg Config) (*Connection, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		cancel()
		return nil, errors.TransportError("failed to build stream request", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.BearerToken)
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, errors.TransportError("failed to open stream", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := httpclient.ReadBody(resp.Body, 64<<10)
		resp.Body.Close()
		cancel()
		return nil, classifyStatus(resp.StatusCode, string(body))
	}

	maxFrame := cfg.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Connection{
		resp:     resp,
		cancel:   cancel,
		reader:   bufio.NewReaderSize(resp.Body, maxFrame),
		maxFrame: maxFrame,
	}, nil
}

func classifyStatus(status int, body string) error {
	if status == http.StatusTooManyRequests || strings.Contains(body, connectionLimitMarker) || strings.Contains(body, "ConnectionException") {
		return errors.ConnectionLimitError(fmt.Sprintf("stream refused with status %d", status)).
			WithContext("status", status).
			WithContext("body", body)
	}
	return errors.TransportError(fmt.Sprintf("stream returned unexpected status %d", status), nil).
		WithContext("status", status).
		WithContext("body", body)
}

// Next blocks until the next event. It returns ErrStreamClosed on a clean
// end of stream, a *DisconnectedError on a transport failure, and a parse
// error for a malformed frame after which Next may be called again.
// Cancelling ctx tears the connection down.
func (c *Connection) Next(ctx context.Context) (Event, error) {
	if len(c.pending) > 0 {
		ev := c.pending[0]
		c.pending = c.pending[1:]
		return ev, nil
	}

	c.mu.Lock()
	closed, done := c.closed, c.done
	c.mu.Unlock()
	if closed {
		return Event{}, ErrConnectionClosed
	}
	if done {
		return Event{}, ErrStreamClosed
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	line, err := c.readFrame()
	if err != nil {
		if errors.IsType(err, errors.ErrTypeParse) {
			return Event{}, err
		}
		if ctx.Err() != nil {
			return Event{}, ctx.Err()
		}
		c.mu.Lock()
		closed = c.closed
		c.done = true
		c.mu.Unlock()
		if closed {
			return Event{}, ErrConnectionClosed
		}

		if err != io.EOF {
			return Event{}, &DisconnectedError{Cause: errors.TransportError("stream read failed", err)}
		}
		return Event{}, ErrStreamClosed
	}

	events, err := ParseFrame(line)
	if err != nil {
		return Event{}, err
	}
	c.pending = events[1:]
	return events[0], nil
}

// readFrame returns the next line without its terminator. The slice is only
// valid until the next read. A line longer than the frame limit is
// discarded up to its terminator and reported as a parse error, so the
// connection stays usable.
func (c *Connection) readFrame() ([]byte, error) {
	line, err := c.reader.ReadSlice('\n')
	if stderrors.Is(err, bufio.ErrBufferFull) {
		size := len(line)
		for stderrors.Is(err, bufio.ErrBufferFull) {
			line, err = c.reader.ReadSlice('\n')
			size += len(line)
		}
		if err != nil {
			return nil, err
		}
		return nil, errors.ParseError(fmt.Sprintf("frame exceeds %d bytes", c.maxFrame), nil).
			WithContext("size", size)
	}
	if err == io.EOF && len(line) > 0 {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r")), nil
}

// Close cancels the request and releases the response body. It is safe to
// call more than once and from another goroutine than the one calling Next.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		err = c.resp.Body.Close()
	})
	return err
}
