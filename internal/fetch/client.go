// Package fetch wraps outbound HTTP calls with the shared rate limiter, a
// per-call timeout and a bounded retry policy.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/matsen/texharvest/internal/logger"
)

const (
	// DefaultTimeout bounds connecting, waiting for response headers, and
	// each gap between body reads. A body that keeps arriving is never cut off.
	DefaultTimeout = 60 * time.Second

	// DefaultUserAgent identifies the harvester to upstream servers.
	DefaultUserAgent = "texharvest/1.0"

	// maxPageSize caps how much of an HTML or JSON body is read.
	maxPageSize = 16 << 20
)

// Limiter gates outbound calls. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Acquire(ctx context.Context) error
}

type noLimit struct{}

func (noLimit) Acquire(context.Context) error { return nil }

// SleepFunc pauses between attempts.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Client is a rate-limited, retrying HTTP client.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	limiter    Limiter
	policy     RetryPolicy
	header     http.Header
	sleep      SleepFunc
	log        *logger.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the connect, response-header and body inactivity
// timeout. Zero disables all three.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLimiter sets the limiter acquired before every attempt.
func WithLimiter(l Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithPolicy sets the retry policy.
func WithPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) {
		c.policy = p
	}
}

// WithHeader adds a static header sent with every request. Empty values
// are not sent.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		if value == "" {
			c.header.Del(key)
			return
		}
		c.header.Set(key, value)
	}
}

// WithSleep replaces the backoff sleep (for tests).
func WithSleep(fn SleepFunc) ClientOption {
	return func(c *Client) {
		c.sleep = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient creates a client with the default policy and no rate limit.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		timeout:    DefaultTimeout,
		limiter:    noLimit{},
		policy:     DefaultPolicy(),
		header:     http.Header{"User-Agent": []string{DefaultUserAgent}},
		sleep:      sleepCtx,
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: newTransport(c.timeout)}
	}
	return c
}

// newTransport bounds the phases before the body starts. The body itself is
// bounded by idleBody.
func newTransport(d time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if d > 0 {
		t.DialContext = (&net.Dialer{Timeout: d, KeepAlive: 30 * time.Second}).DialContext
		t.TLSHandshakeTimeout = d
		t.ResponseHeaderTimeout = d
	}
	return t
}

// idleBody cancels the request when no bytes arrive for timeout.
type idleBody struct {
	rc      io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
	fired   atomic.Bool
	cancel  context.CancelFunc
}

func watchBody(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleBody {
	b := &idleBody{rc: rc, timeout: timeout, cancel: cancel}
	b.timer = time.AfterFunc(timeout, func() {
		b.fired.Store(true)
		cancel()
	})
	return b
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.timer.Reset(b.timeout)
	}
	if err != nil && err != io.EOF && b.fired.Load() {
		return n, fmt.Errorf("%w: no data for %s", ErrIdleTimeout, b.timeout)
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	err := b.rc.Close()
	b.cancel()
	return err
}

// Policy returns the client's retry policy.
func (c *Client) Policy() RetryPolicy {
	return c.policy
}

// do runs a GET under the retry policy. The caller owns the response body
// of a successful (2xx) response.
func (c *Client) do(ctx context.Context, rawURL string) (*http.Response, error) {
	max := c.policy.attempts()
	var lastErr error

	for attempt := 1; attempt <= max; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		reqCtx, cancel := context.WithCancel(ctx)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("creating request: %w", err)
		}
		for k, v := range c.header {
			req.Header[k] = v
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %v", ErrNetworkError, err)
			if attempt == max {
				break
			}
			c.log.Warn("request failed, retrying", map[string]interface{}{
				"url": rawURL, "attempt": attempt, "max_attempts": max, "error": err.Error(),
			})
			if err := c.sleep(ctx, c.policy.TransportBackoff); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if c.timeout > 0 {
				resp.Body = watchBody(resp.Body, c.timeout, cancel)
			} else {
				resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
			}
			return resp, nil
		}

		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		cancel()
		statusErr := &StatusError{StatusCode: resp.StatusCode, URL: rawURL, Attempts: attempt}

		if !c.policy.retryable(resp.StatusCode) {
			return nil, statusErr
		}
		lastErr = statusErr
		if attempt == max {
			break
		}
		backoff := c.policy.backoffFor(resp.StatusCode)
		c.log.Warn("retryable status", map[string]interface{}{
			"url": rawURL, "status": resp.StatusCode, "attempt": attempt, "max_attempts": max, "backoff": backoff.String(),
		})
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, max, lastErr)
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Page fetches rawURL and returns the body as text.
func (c *Client) Page(ctx context.Context, rawURL string) (string, error) {
	resp, err := c.do(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %w", ErrNetworkError, err)
	}
	return string(body), nil
}

// Stream downloads rawURL into dest and returns the number of bytes
// written. A 404, 500 or 503 yields an error matching ErrUnavailable and no
// file is left behind.
func (c *Client) Stream(ctx context.Context, rawURL, dest string) (int64, error) {
	resp, err := c.do(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("creating download file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("%w: streaming body: %w", ErrNetworkError, err)
	}
	if closeErr != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("writing download file: %w", closeErr)
	}
	return n, nil
}

// JSON fetches rawURL with params as the query string and decodes the body
// into v.
func (c *Client) JSON(ctx context.Context, rawURL string, params url.Values, v any) error {
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}
	resp, err := c.do(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageSize)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}
