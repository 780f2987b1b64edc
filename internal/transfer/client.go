package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nao1215/onionfetch/internal/session"
)

// readBufferSize is the per-read buffer for body frames.
const readBufferSize = 32 * 1024

// maxPreallocSize caps the body buffer sized from a declared Content-Length.
const maxPreallocSize = 64 * readBufferSize

// Connector opens streams to onion services. *session.Manager satisfies it.
type Connector interface {
	Connect(ctx context.Context, host string, port uint16) (io.ReadWriteCloser, error)
}

// Result is the outcome of a completed transfer.
type Result struct {
	// Body is the complete response body.
	Body []byte
	// Status is the HTTP status code. Non-2xx codes are not errors.
	Status int
	// Header holds the response headers.
	Header http.Header
}

// Client performs GET retrievals over Tor streams.
type Client struct {
	strictAddresses bool
	maxBodySize     int64
	userAgent       string
	timeout         time.Duration
	logger          *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithStrictAddresses requires hosts to be checksum-valid v3 onion addresses.
func WithStrictAddresses(strict bool) Option {
	return func(c *Client) {
		c.strictAddresses = strict
	}
}

// WithMaxBodySize caps the response body. Zero means no limit.
func WithMaxBodySize(size int64) Option {
	return func(c *Client) {
		c.maxBodySize = size
	}
}

// WithUserAgent sends the given User-Agent. By default none is sent.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithTimeout bounds a whole transfer, from connect to the last body byte.
// Zero means no limit beyond the caller's context.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Get retrieves rawURL through connector.
//
// The URL is validated first; nothing is dialed when validation fails. The
// stream is owned by a driver goroutine that closes it when the exchange
// ends or ctx is cancelled. Transport failures wrap session.ErrConnect,
// malformed or truncated responses wrap ErrProtocol, and cancellation
// returns ctx.Err(). On any error no partial body is returned and
// sink.OnFinished is not called.
func (c *Client) Get(ctx context.Context, rawURL string, connector Connector, sink ProgressSink) (*Result, error) {
	target, err := c.Validate(rawURL)
	if err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.logger.Debug("opening stream", "host", target.Host, "port", target.Port)

	stream, err := connector.Connect(ctx, target.Host, target.Port)
	if err != nil {
		if errors.Is(err, session.ErrNotReady) || errors.Is(err, session.ErrConnect) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", session.ErrConnect, err)
	}

	done := make(chan struct{})
	stopped := c.drive(ctx, stream, done, target)
	defer func() {
		close(done)
		<-stopped
	}()

	result, err := c.exchange(ctx, stream, target, sink)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	c.logger.Debug("transfer complete",
		"url", target.String(),
		"status", result.Status,
		"bytes", len(result.Body),
	)
	return result, nil
}

// drive owns the stream lifetime. It closes the stream once done is closed
// or ctx is cancelled, whichever comes first, and logs close failures.
func (c *Client) drive(ctx context.Context, stream io.Closer, done <-chan struct{}, target Target) <-chan struct{} {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		select {
		case <-done:
		case <-ctx.Done():
			c.logger.Debug("transfer cancelled, closing stream", "host", target.Host, "reason", ctx.Err())
		}
		if err := stream.Close(); err != nil {
			c.logger.Warn("failed to close stream", "host", target.Host, "error", err)
		}
	}()
	return stopped
}

// exchange writes the request and reads the full response.
func (c *Client) exchange(ctx context.Context, stream io.ReadWriter, target Target, sink ProgressSink) (*Result, error) {
	req, err := c.newRequest(ctx, target)
	if err != nil {
		return nil, err
	}

	if err := req.Write(stream); err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %w", session.ErrConnect, err)
	}

	tr := &trackingReader{r: stream}
	resp, err := http.ReadResponse(bufio.NewReader(tr), req)
	if err != nil {
		return nil, classifyReadError(tr, "failed to read response head", err)
	}

	if c.maxBodySize > 0 && resp.ContentLength > c.maxBodySize {
		return nil, fmt.Errorf("%w: declared body of %d bytes exceeds limit of %d", ErrProtocol, resp.ContentLength, c.maxBodySize)
	}

	var body []byte
	if sink != nil {
		body, err = c.readFrames(resp, tr, sink)
	} else {
		body, err = c.readAll(resp, tr)
	}
	if err != nil {
		return nil, err
	}

	if sink != nil {
		sink.OnFinished()
	}

	return &Result{
		Body:   body,
		Status: resp.StatusCode,
		Header: resp.Header,
	}, nil
}

// newRequest builds a GET for target with only Host and Connection headers,
// plus User-Agent when one is configured.
func (c *Client) newRequest(ctx context.Context, target Target) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+target.Host+target.RequestURI, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	req.Host = target.Host
	req.Close = true
	// An empty User-Agent entry suppresses Go's default one.
	req.Header["User-Agent"] = []string{c.userAgent}
	return req, nil
}

func (c *Client) readFrames(resp *http.Response, tr *trackingReader, sink ProgressSink) ([]byte, error) {
	var body []byte
	if resp.ContentLength > 0 {
		// Content-Length comes from the server; never trust it for more
		// than maxPreallocSize.
		body = make([]byte, 0, min(resp.ContentLength, maxPreallocSize))
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if c.maxBodySize > 0 && int64(len(body)+n) > c.maxBodySize {
				return nil, fmt.Errorf("%w: body exceeds limit of %d bytes", ErrProtocol, c.maxBodySize)
			}
			body = append(body, buf[:n]...)
			sink.OnChunk(n)
		}
		if errors.Is(err, io.EOF) {
			return body, nil
		}
		if err != nil {
			return nil, classifyReadError(tr, "failed to read response body", err)
		}
	}
}

func (c *Client) readAll(resp *http.Response, tr *trackingReader) ([]byte, error) {
	var r io.Reader = resp.Body
	if c.maxBodySize > 0 {
		r = io.LimitReader(resp.Body, c.maxBodySize+1)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, classifyReadError(tr, "failed to read response body", err)
	}
	if c.maxBodySize > 0 && int64(len(body)) > c.maxBodySize {
		return nil, fmt.Errorf("%w: body exceeds limit of %d bytes", ErrProtocol, c.maxBodySize)
	}
	return body, nil
}

// classifyReadError reports a failure of the underlying stream as a
// connection error and everything else as a protocol error.
func classifyReadError(tr *trackingReader, msg string, err error) error {
	if transportErr := tr.Err(); transportErr != nil {
		return fmt.Errorf("%w: %s: %w", session.ErrConnect, msg, transportErr)
	}
	return fmt.Errorf("%w: %s: %w", ErrProtocol, msg, err)
}

// trackingReader remembers the first non-EOF error of the stream.
type trackingReader struct {
	r io.Reader

	mu  sync.Mutex
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.mu.Lock()
		if t.err == nil {
			t.err = err
		}
		t.mu.Unlock()
	}
	return n, err
}

// Err returns the recorded transport error, if any.
func (t *trackingReader) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
