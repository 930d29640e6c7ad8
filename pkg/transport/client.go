// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport opens streaming and JSON requests against the chat backend.
//
// # Description
//
// The transport owns three rules that every request follows:
//
//  1. Credentials are applied in one place: cookies from the jar, Set-Cookie
//     stored back into the jar, and an optional bearer token.
//  2. Status is classified before any body parsing. A non-2xx response
//     becomes an *HTTPError; a 401 additionally publishes
//     broadcast.TopicSessionExpired.
//  3. A successful response with no body is ErrMissingBody, never an empty
//     stream.
//
// # Architecture
//
//	Controller → Client.Open → Doer (otelhttp → http.Transport)
//	                 ↓
//	              *Stream → sse.Parse → sse.Frame
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"

	"github.com/AleutianAI/AleutianChatSync/pkg/broadcast"
)

// DefaultUserAgent is sent when Config.UserAgent is empty.
const DefaultUserAgent = "aleutian-chatsync"

// =============================================================================
// INTERFACES
// =============================================================================

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config configures a Client.
type Config struct {
	// BaseURL is the backend root, for example "http://localhost:8080".
	BaseURL string `validate:"required,url"`

	// Timeout bounds connection setup and response headers. It never bounds
	// reading a stream body; use the request context for that.
	Timeout time.Duration `validate:"gte=0"`

	// BearerToken, when set, is sent as an Authorization header.
	BearerToken string

	// UserAgent defaults to DefaultUserAgent.
	UserAgent string

	// Jar stores session cookies. Defaults to an in-memory jar using the
	// public suffix list.
	Jar http.CookieJar

	// Bus receives session-expiry notifications. Optional.
	Bus *broadcast.Bus

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// RequestOptions describes one request.
type RequestOptions struct {
	// Method defaults to POST when Body is set, otherwise GET.
	Method string

	// Body is marshalled as JSON. Struct bodies are validated against their
	// `validate` tags before sending.
	Body any

	// Header is merged into the outgoing request.
	Header http.Header
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the streaming transport.
//
// # Thread Safety
//
// Client is safe for concurrent use.
type Client struct {
	doer      Doer
	baseURL   *url.URL
	token     string
	userAgent string
	jar       http.CookieJar
	bus       *broadcast.Bus
	logger    *slog.Logger
	validate  *validator.Validate
}

// New creates a Client over an instrumented http.Client.
//
// # Description
//
// The underlying transport is wrapped with otelhttp so each request produces
// a client span. The http.Client has no Jar of its own; the Client applies
// cookies itself so the same rules hold for any Doer.
//
// # Outputs
//
//   - *Client: Ready to use.
//   - error: Invalid configuration or cookie jar construction failure.
func New(cfg Config) (*Client, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Timeout > 0 {
		base.ResponseHeaderTimeout = cfg.Timeout
		base.TLSHandshakeTimeout = cfg.Timeout
	}
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(base),
	}
	return NewWithDoer(httpClient, cfg)
}

// NewWithDoer creates a Client that sends requests through doer.
//
// # Inputs
//
//   - doer: Request executor. Tests pass an httptest server's client or a fake.
//   - cfg: Client configuration. BaseURL is required.
func NewWithDoer(doer Doer, cfg Config) (*Client, error) {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("transport: invalid config: %w", err)
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse base url: %w", err)
	}

	jar := cfg.Jar
	if jar == nil {
		jar, err = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("transport: create cookie jar: %w", err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		doer:      doer,
		baseURL:   baseURL,
		token:     cfg.BearerToken,
		userAgent: userAgent,
		jar:       jar,
		bus:       cfg.Bus,
		logger:    logger,
		validate:  validate,
	}, nil
}

// Jar returns the cookie jar used for every request.
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

// Open sends a request and returns its SSE stream.
//
// # Description
//
// Open fails before any frame is parsed when the request cannot be sent, the
// status is not 2xx, or the successful response has no body. Only then is the
// body handed to the caller as a *Stream.
//
// # Inputs
//
//   - ctx: Bounds the whole request including the stream body. Cancelling it
//     aborts the stream.
//   - path: Endpoint path relative to BaseURL.
//   - opts: Method, JSON body, extra headers.
//
// # Outputs
//
//   - *Stream: Open stream. The caller must Close it.
//   - error: *FaultError, *HTTPError, ErrMissingBody, or a request build error.
//
// # Examples
//
//	stream, err := client.Open(ctx, "/api/conversations/stream", transport.RequestOptions{
//	    Body: map[string]string{"content": "hello"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	err = stream.Parse(ctx, handleFrame)
func (c *Client) Open(ctx context.Context, path string, opts RequestOptions) (*Stream, error) {
	if opts.Header == nil {
		opts.Header = http.Header{}
	}
	if opts.Header.Get("Accept") == "" {
		opts.Header.Set("Accept", "text/event-stream")
	}

	resp, target, requestID, err := c.do(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		c.logger.Error("stream response has no body",
			"request_id", requestID,
			"url", target,
			"status_code", resp.StatusCode,
		)
		return nil, ErrMissingBody
	}

	c.logger.Debug("stream opened",
		"request_id", requestID,
		"url", target,
		"status_code", resp.StatusCode,
	)
	return &Stream{
		resp:      resp,
		url:       target,
		requestID: requestID,
		logger:    c.logger,
	}, nil
}

// GetJSON fetches path and decodes a JSON response into out.
//
// It follows the same credential and status rules as Open.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	header := http.Header{}
	header.Set("Accept", "application/json")

	resp, target, requestID, err := c.do(ctx, path, RequestOptions{Method: http.MethodGet, Header: header})
	if err != nil {
		return err
	}
	defer c.closeBody(resp, requestID)

	if resp.Body == nil || resp.Body == http.NoBody {
		return ErrMissingBody
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return &FaultError{Op: "read", URL: target, Err: err}
		}
		return fmt.Errorf("transport: decode %s: %w", target, err)
	}
	return nil
}

// do builds and sends a request, applies credentials, and classifies the
// status. On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, path string, opts RequestOptions) (*http.Response, string, string, error) {
	requestID := uuid.NewString()
	target := c.baseURL.JoinPath(path)

	req, err := c.newRequest(ctx, target, opts)
	if err != nil {
		return nil, target.String(), requestID, err
	}
	req.Header.Set("X-Request-ID", requestID)
	c.applyCredentials(req)

	resp, err := c.doer.Do(req)
	if err != nil {
		c.logger.Error("request failed",
			"request_id", requestID,
			"method", req.Method,
			"url", target.String(),
			"error", err,
		)
		return nil, target.String(), requestID, &FaultError{Op: req.Method, URL: target.String(), Err: err}
	}

	if cookies := resp.Cookies(); len(cookies) > 0 {
		c.jar.SetCookies(req.URL, cookies)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := newHTTPError(resp, target.String())
		c.closeBody(resp, requestID)

		c.logger.Error("server returned error",
			"request_id", requestID,
			"url", target.String(),
			"status_code", httpErr.StatusCode,
			"message", httpErr.Message,
			"error_type", httpErr.ErrorType,
		)
		if httpErr.Unauthorized() {
			c.bus.Publish(broadcast.TopicSessionExpired, broadcast.SessionExpired{
				URL:        target.String(),
				StatusCode: httpErr.StatusCode,
			})
		}
		return nil, target.String(), requestID, httpErr
	}

	return resp, target.String(), requestID, nil
}

func (c *Client) newRequest(ctx context.Context, target *url.URL, opts RequestOptions) (*http.Request, error) {
	method := opts.Method
	var body io.Reader
	if opts.Body != nil {
		if method == "" {
			method = http.MethodPost
		}
		if isStruct(opts.Body) {
			if err := c.validate.Struct(opts.Body); err != nil {
				return nil, fmt.Errorf("transport: invalid request body: %w", err)
			}
		}
		payload, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("transport: marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	for key, values := range opts.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// applyCredentials attaches session cookies and the bearer token.
func (c *Client) applyCredentials(req *http.Request) {
	for _, cookie := range c.jar.Cookies(req.URL) {
		req.AddCookie(cookie)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) closeBody(resp *http.Response, requestID string) {
	if resp.Body == nil {
		return
	}
	if err := resp.Body.Close(); err != nil {
		c.logger.Error("failed to close response body",
			"request_id", requestID,
			"error", err,
		)
	}
}

func isStruct(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Struct
}
