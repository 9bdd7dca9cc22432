// Package resilient is the outbound HTTP layer shared by every provider adapter:
// bounded timeouts, exponential-backoff retry, and a narrow retry for peer resets.
package resilient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"syscall"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 10 * time.Second

	connectionResetDelay = 2 * time.Second
	maxErrorBody         = 2048
)

var (
	// ErrTimeout is returned when no response arrived within the per-call budget.
	ErrTimeout = errors.New("resilient: request timed out")
)

// StatusError is a non-2xx response surfaced as an error.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resilient: upstream returned %d: %s", e.StatusCode, e.Body)
}

// Request is replayable: the body is a byte slice, not a stream.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// JSONRequest builds a request with a JSON-encoded body.
func JSONRequest(method, url string, payload any) (Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("resilient: encode body: %w", err)
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return Request{Method: method, URL: url, Header: h, Body: body}, nil
}

// Response is fully buffered so the caller never races the timeout on Body reads.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool { return r != nil && r.StatusCode >= 200 && r.StatusCode < 300 }

// DecodeJSON unmarshals the buffered body into v.
func (r *Response) DecodeJSON(v any) error {
	if r == nil {
		return errors.New("resilient: nil response")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("resilient: decode response: %w", err)
	}
	return nil
}

// AsError converts a non-2xx response into a *StatusError (nil for 2xx).
func (r *Response) AsError() error {
	if r.OK() {
		return nil
	}
	return &StatusError{StatusCode: r.StatusCode, Body: truncate(string(r.Body), maxErrorBody)}
}

// RetryOptions tunes CallWithRetry.
type RetryOptions struct {
	MaxRetries int
	Timeout    time.Duration
	// RetryOn4xx makes client errors retryable. Leave false for non-idempotent POSTs.
	RetryOn4xx bool
}

// Caller is the contract provider adapters depend on; tests substitute fakes.
type Caller interface {
	CallWithTimeout(ctx context.Context, req Request, timeout time.Duration) (*Response, error)
	CallWithRetry(ctx context.Context, req Request, opts RetryOptions) (*Response, error)
	CallWithConnectionResetRetry(ctx context.Context, req Request, timeout time.Duration) (*Response, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Client implements Caller over net/http.
type Client struct {
	http  *http.Client
	sleep Sleeper
	log   *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithSleeper(s Sleeper) Option { return func(c *Client) { c.sleep = s } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

func New(opts ...Option) *Client {
	c := &Client{
		// Per-call deadlines come from context; the client itself has no global timeout.
		http:  &http.Client{},
		sleep: sleepContext,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ Caller = (*Client)(nil)

// CallWithTimeout issues one request and fails with ErrTimeout if nothing
// (headers and body) arrives within timeout.
func (c *Client) CallWithTimeout(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("resilient: build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.classify(ctx, callCtx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(ctx, callCtx, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// classify turns our own deadline into ErrTimeout but leaves caller cancellation intact.
func (c *Client) classify(parent, callCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// CallWithRetry retries 5xx, network and timeout failures with delays of 2^attempt
// seconds; 2xx returns immediately and 4xx is handed back untouched unless RetryOn4xx.
func (c *Client) CallWithRetry(ctx context.Context, req Request, opts RetryOptions) (*Response, error) {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.CallWithTimeout(ctx, req, opts.Timeout)
		switch {
		case err != nil:
			lastErr = err
		case resp.OK():
			return resp, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500 && !opts.RetryOn4xx:
			return resp, nil
		case resp.StatusCode >= 400:
			lastErr = resp.AsError()
		default:
			// 1xx/3xx that net/http did not follow; nothing a retry would change.
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= opts.MaxRetries {
			return nil, lastErr
		}

		delay := time.Duration(1<<attempt) * time.Second
		c.log.Warn("upstream call failed, retrying",
			"method", req.Method,
			"url", redactQuery(req.URL),
			"attempt", attempt+1,
			"delay", delay.String(),
			"err", lastErr,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// CallWithConnectionResetRetry retries exactly once, after a fixed delay, and only
// when the failure looks like the peer dropped the connection (callee restart).
func (c *Client) CallWithConnectionResetRetry(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	resp, err := c.CallWithTimeout(ctx, req, timeout)
	if err == nil || !IsConnectionReset(err) {
		return resp, err
	}
	c.log.Warn("connection reset by upstream, retrying once",
		"method", req.Method,
		"url", redactQuery(req.URL),
		"delay", connectionResetDelay.String(),
		"err", err,
	)
	if err := c.sleep(ctx, connectionResetDelay); err != nil {
		return nil, err
	}
	return c.CallWithTimeout(ctx, req, timeout)
}

var resetMarkers = []string{
	"connection reset",
	"econnreset",
	"socket hang up",
	"broken pipe",
	"unexpected eof",
	"server closed idle connection",
	"connection was forcibly closed",
}

// IsConnectionReset reports whether err indicates a peer reset/disconnect.
func IsConnectionReset(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range resetMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func redactQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
