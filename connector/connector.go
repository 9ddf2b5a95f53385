// Package connector implements the unified endpoint connector: a stateless
// client that turns one Request into exactly one HTTP call and normalizes
// the outcome into a Result. Failures are values, never panics or errors.
package connector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout applies when neither the request nor the connector
	// configuration sets one.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResponseBytes bounds how much of a response body is kept.
	DefaultMaxResponseBytes int64 = 10 << 20

	userAgent = "smartapi-connect/1.0"
)

// Observer is notified after every call. Implementations must treat both
// values as read-only.
type Observer interface {
	ObserveCall(ctx context.Context, req Request, res Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, req Request, res Result)

// ObserveCall calls f(ctx, req, res).
func (f ObserverFunc) ObserveCall(ctx context.Context, req Request, res Result) {
	f(ctx, req, res)
}

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the connector logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the HTTP client. Mostly useful in tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) {
		c.client = client
	}
}

// WithClientConfig builds the HTTP client from cfg.
func WithClientConfig(cfg ClientConfig) Option {
	return func(c *Connector) {
		c.client = NewHTTPClient(cfg)
	}
}

// WithDefaultTimeout sets the timeout used when a request does not carry one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Connector) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithDefaultHeaders sets headers sent with every request. Request headers
// with the same name win.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(c *Connector) {
		c.defaultHeaders = make(map[string]string, len(headers))
		for k, v := range headers {
			c.defaultHeaders[k] = v
		}
	}
}

// WithMaxResponseBytes bounds the response body kept in a Success.
// Zero or negative disables the limit.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Connector) {
		c.maxResponseBytes = n
	}
}

// WithObserver registers an observer notified after each call.
func WithObserver(o Observer) Option {
	return func(c *Connector) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// Connector performs HTTP calls described by Requests. It keeps no state
// between calls beyond its read-only configuration and is safe for
// concurrent use.
type Connector struct {
	client           *http.Client
	logger           *slog.Logger
	defaultTimeout   time.Duration
	defaultHeaders   map[string]string
	maxResponseBytes int64
	observers        []Observer
}

// New creates a Connector with the given options applied.
func New(opts ...Option) *Connector {
	c := &Connector{
		logger:           slog.Default(),
		defaultTimeout:   DefaultTimeout,
		maxResponseBytes: DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = NewHTTPClient(DefaultClientConfig())
	}
	return c
}

// With returns a copy of c with extra options applied. The copy shares the
// HTTP client unless an option replaces it.
func (c *Connector) With(opts ...Option) *Connector {
	clone := *c
	clone.observers = append([]Observer(nil), c.observers...)
	for _, opt := range opts {
		opt(&clone)
	}
	return &clone
}

// DefaultTimeout returns the timeout applied to requests without one.
func (c *Connector) DefaultTimeout() time.Duration {
	return c.defaultTimeout
}

// Call performs exactly one HTTP request for req and returns its Result.
// It never returns nil and never panics.
func (c *Connector) Call(ctx context.Context, req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered panic in connector call", "panic", r, "path", req.Path)
			res = &Failure{
				Kind:    NetworkError,
				Message: "unexpected transport fault",
				Cause:   fmt.Errorf("panic: %v", r),
			}
		}
		c.notify(ctx, req, res)
	}()

	if ctx == nil {
		ctx = context.Background()
	}

	httpReq, target, cancel, failure := c.prepare(ctx, req)
	if failure != nil {
		c.logger.Debug("Rejected endpoint request", "path", req.Path, "method", req.Method, "reason", failure.Message)
		return failure
	}
	defer cancel()

	c.logger.Debug("Calling endpoint", "method", httpReq.Method, "url", target)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		failure := classify(ctx, target, err)
		c.logger.Warn("Endpoint call failed",
			"method", httpReq.Method,
			"url", target,
			"kind", failure.Kind,
			"error", err,
		)
		return failure
	}
	defer resp.Body.Close()

	raw, truncated, err := readBody(resp.Body, c.maxResponseBytes)
	if err != nil {
		return classify(ctx, target, fmt.Errorf("read response body: %w", err))
	}
	duration := time.Since(start)

	c.logger.Info("Endpoint call completed",
		"method", httpReq.Method,
		"url", target,
		"status", resp.StatusCode,
		"duration", duration,
	)

	if resp.StatusCode >= 400 {
		return httpFailure(target, resp.StatusCode, reasonPhrase(resp))
	}

	body, parseFailed := decodeBody(raw, resp.Header.Get("Content-Type"))
	if parseFailed {
		c.logger.Warn("Response claimed JSON but did not parse", "url", target, "status", resp.StatusCode)
	}

	return &Success{
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header.Clone(),
		Body:        body,
		Raw:         raw,
		ParseFailed: parseFailed,
		Truncated:   truncated,
		URL:         target,
		Duration:    duration,
	}
}

// prepare validates req and builds the outgoing request. On failure nothing
// has touched the network.
func (c *Connector) prepare(ctx context.Context, req Request) (*http.Request, string, context.CancelFunc, *Failure) {
	method, ok := ParseMethod(string(req.Method))
	if !ok {
		return nil, "", nil, invalidInput("unsupported HTTP method %q", req.Method)
	}

	if req.Timeout < 0 {
		return nil, "", nil, invalidInput("timeout must be positive, got %s", req.Timeout)
	}

	target, err := BuildURL(req)
	if err != nil {
		return nil, "", nil, invalidInput("%v", err)
	}

	headers := c.mergeHeaders(req)

	var body io.Reader
	if req.hasBody() {
		if headers.Get("Content-Type") == "" {
			headers.Set("Content-Type", contentTypeJSON)
		}
		payload, err := encodeBody(req.Body, headers.Get("Content-Type"))
		if err != nil {
			return nil, target, nil, &Failure{Kind: InvalidInput, Message: fmt.Sprintf("encode body: %v", err), URL: target}
		}
		body = bytes.NewReader(payload)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)

	httpReq, err := http.NewRequestWithContext(callCtx, string(method), target, body)
	if err != nil {
		cancel()
		return nil, target, nil, &Failure{Kind: InvalidInput, Message: fmt.Sprintf("build request: %v", err), URL: target}
	}
	httpReq.Header = headers

	return httpReq, target, cancel, nil
}

// mergeHeaders layers request headers over the defaults into a new header
// set; neither source map is modified.
func (c *Connector) mergeHeaders(req Request) http.Header {
	headers := make(http.Header, len(c.defaultHeaders)+len(req.Headers)+2)
	headers.Set("User-Agent", userAgent)
	headers.Set("Accept", "application/json, */*;q=0.8")
	for name, value := range c.defaultHeaders {
		headers.Set(name, value)
	}
	for name, value := range req.Headers {
		headers.Set(name, value)
	}
	return headers
}

func (c *Connector) notify(ctx context.Context, req Request, res Result) {
	for _, o := range c.observers {
		o.ObserveCall(ctx, req, res)
	}
}

// reasonPhrase extracts the server's reason phrase from the status line.
func reasonPhrase(resp *http.Response) string {
	code := fmt.Sprintf("%d", resp.StatusCode)
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, code))
	if reason == "" {
		return http.StatusText(resp.StatusCode)
	}
	return reason
}
