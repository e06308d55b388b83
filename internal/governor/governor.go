// Package governor is the single gate for outbound requests to the upstream
// platform. It bounds in-flight requests, paces dispatches to a global rate,
// suppresses endpoint families that answered with a rate-limit status, and
// retries transient failures with exponential backoff.
package governor

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/semaphore"
)

// Config tunes a Governor. Zero fields take the DefaultConfig value.
type Config struct {
	// MaxConcurrent bounds requests waiting on response headers.
	MaxConcurrent int
	// MaxQPS is the global dispatch ceiling across all endpoints.
	MaxQPS float64
	// MaxCooldown caps the suppression window armed by a rate-limit status.
	MaxCooldown time.Duration
	// CooldownBase is the window armed on the first attempt; it doubles per attempt.
	CooldownBase time.Duration
	// Timeout is the total budget of a non-streaming call, and the
	// dial/response-header budget of a streaming one.
	Timeout time.Duration
	// InsecureTLS disables certificate verification.
	InsecureTLS bool

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Header is sent with every request unless a per-call option overrides it.
	Header http.Header
	// Transport replaces the default transport (tests).
	Transport http.RoundTripper
}

// DefaultConfig mirrors the platform-friendly defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  3,
		MaxQPS:         2,
		MaxCooldown:    300 * time.Second,
		CooldownBase:   60 * time.Second,
		Timeout:        30 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.MaxQPS <= 0 {
		c.MaxQPS = d.MaxQPS
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = d.MaxCooldown
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = d.CooldownBase
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	return c
}

// Governor issues GET requests under the concurrency, pacing and cooldown
// discipline described by its Config. It is safe for concurrent use.
type Governor struct {
	cfg       Config
	client    *http.Client
	slots     *semaphore.Weighted
	pacer     *Pacer
	cooldowns *CooldownTable
}

// New builds a Governor with its own HTTP client, pacer and cooldown table.
func New(cfg Config) *Governor {
	cfg = cfg.withDefaults()

	transport := cfg.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DialContext = (&net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}).DialContext
		t.TLSHandshakeTimeout = cfg.Timeout
		t.ResponseHeaderTimeout = cfg.Timeout
		if cfg.InsecureTLS {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		transport = t
	}

	return &Governor{
		cfg:       cfg,
		client:    &http.Client{Transport: transport},
		slots:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		pacer:     NewPacer(cfg.MaxQPS),
		cooldowns: NewCooldownTable(),
	}
}

type request struct {
	query     url.Values
	header    http.Header
	streaming bool
}

// Option customizes a single Get call.
type Option func(*request)

// WithQuery merges q into the URL's query string.
func WithQuery(q url.Values) Option {
	return func(r *request) {
		if r.query == nil {
			r.query = url.Values{}
		}
		for k, vs := range q {
			r.query[k] = vs
		}
	}
}

// WithHeader sets a request header.
func WithHeader(key, value string) Option {
	return func(r *request) { r.header.Set(key, value) }
}

// WithCookie sends the raw cookie string. Empty cookies are ignored.
func WithCookie(cookie string) Option {
	return func(r *request) {
		if cookie != "" {
			r.header.Set("Cookie", cookie)
		}
	}
}

// Streaming drops the total timeout for calls whose bodies are large media
// streams; dial and response-header timeouts still apply.
func Streaming() Option {
	return func(r *request) { r.streaming = true }
}

// Get performs a governed GET. On success the caller owns resp.Body.
//
// A call to an endpoint family under cooldown fails with ErrCoolingDown
// before consuming any capacity. 429, 403 and 412 arm a cooldown and fail
// with ErrRateLimited; other statuses below 500 fail with
// ErrUnexpectedStatus. 5xx and transport errors are retried up to
// MaxAttempts, after which the error wraps ErrAttemptsExhausted.
func (g *Governor) Get(ctx context.Context, rawURL string, opts ...Option) (*http.Response, error) {
	key := EndpointKey(rawURL)
	if until, cooling := g.cooldowns.Until(key); cooling {
		return nil, &CooldownError{Key: key, Until: until}
	}

	req := request{header: http.Header{}}
	for _, opt := range opts {
		opt(&req)
	}
	target, err := buildURL(rawURL, req.query)
	if err != nil {
		return nil, fmt.Errorf("governor: %w", err)
	}

	backoff := g.cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		resp, err := g.dispatch(ctx, target, &req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		} else {
			switch code := resp.StatusCode; {
			case code == http.StatusOK:
				return resp, nil
			case isRateLimitStatus(code):
				discard(resp)
				until := g.cooldowns.Arm(key, g.cooldownFor(attempt))
				slog.Warn("outbound endpoint rate limited", "key", key, "status", code, "cooldown_until", until)
				return nil, &StatusError{Key: key, StatusCode: code, Err: ErrRateLimited}
			case code < http.StatusInternalServerError:
				discard(resp)
				return nil, &StatusError{Key: key, StatusCode: code, Err: ErrUnexpectedStatus}
			default:
				discard(resp)
				lastErr = fmt.Errorf("status %d", code)
			}
		}

		if attempt == g.cfg.MaxAttempts-1 {
			break
		}
		wait := jittered(backoff, JitterFraction)
		slog.Debug("retrying outbound request", "key", key, "attempt", attempt+1, "wait", wait, "error", lastErr)
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, g.cfg.MaxBackoff)
	}

	slog.Warn("outbound request failed", "key", key, "attempts", g.cfg.MaxAttempts, "error", lastErr)
	return nil, fmt.Errorf("%w: %s: %w", ErrAttemptsExhausted, key, lastErr)
}

// dispatch runs one attempt. The concurrency slot is held until response
// headers arrive.
func (g *Governor) dispatch(ctx context.Context, target string, req *request) (*http.Response, error) {
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.slots.Release(1)

	if err := g.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if req.streaming {
		callCtx, cancel = context.WithCancel(ctx)
	} else {
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodGet, target, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	for k, vs := range g.cfg.Header {
		httpReq.Header[k] = vs
	}
	for k, vs := range req.header {
		httpReq.Header[k] = vs
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (g *Governor) cooldownFor(attempt int) time.Duration {
	d := g.cfg.CooldownBase << attempt
	if d <= 0 || d > g.cfg.MaxCooldown {
		return g.cfg.MaxCooldown
	}
	return d
}

func isRateLimitStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusForbidden, http.StatusPreconditionFailed:
		return true
	default:
		return false
	}
}

func buildURL(rawURL string, query url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if len(query) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, vs := range query {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// discard drains a little of the body so the connection can be reused, then
// closes it.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cancelOnClose releases the per-call context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
