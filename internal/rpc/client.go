// Package rpc is the typed request/response client for the Komodo core
// API namespaces.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/komodoctl/komodoctl/internal/constants"
	"github.com/komodoctl/komodoctl/internal/protocol"
	"github.com/komodoctl/komodoctl/internal/sanitize"
	"github.com/komodoctl/komodoctl/internal/validate"
)

const maxErrorBody = 1 << 20

// StatusRequestFailed is the Error status used when no HTTP response was
// received. It cannot collide with a real HTTP status code.
const StatusRequestFailed = 1

// Synthesized error messages.
const (
	MessageRequestFailed = "Request failed with error"
	MessageParseFailed   = "Failed to parse response body"
)

// Error is the structured rejection for every failed call.
type Error struct {
	Status int
	Result protocol.ErrorBody
}

func (e *Error) Error() string {
	msg := e.Result.Error
	if len(e.Result.Trace) > 0 {
		msg += ": " + strings.Join(e.Result.Trace, ": ")
	}
	if e.Status == StatusRequestFailed {
		return "rpc: " + msg
	}
	return fmt.Sprintf("rpc: status %d: %s", e.Status, msg)
}

// RequestFailed reports whether the error is a network-level failure.
func (e *Error) RequestFailed() bool {
	return e.Status == StatusRequestFailed
}

// StatusOf returns the status of an *Error in err's chain, or 0.
func StatusOf(err error) int {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Status
	}
	return 0
}

// Client calls the core API on behalf of one credential.
type Client struct {
	baseURL      string
	credential   protocol.Credential
	httpClient   *http.Client
	clock        clock.WithTicker
	pollInterval time.Duration

	streamHTTPClient *http.Client
	streamOnce       sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (TLS, proxies, timeouts).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClock overrides the clock used between update polls.
func WithClock(clk clock.WithTicker) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithPollInterval overrides the GetUpdate polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// New creates a client for the core at baseURL.
func New(baseURL string, credential protocol.Credential, opts ...Option) (*Client, error) {
	trimmed, err := validate.CoreAddress(baseURL)
	if err != nil {
		return nil, fmt.Errorf("rpc: %w", err)
	}
	if err := credential.Validate(); err != nil {
		return nil, fmt.Errorf("rpc: %w", err)
	}

	c := &Client{
		baseURL:      trimmed,
		credential:   credential,
		httpClient:   &http.Client{Timeout: constants.HTTPRequestTimeout},
		clock:        clock.RealClock{},
		pollInterval: constants.UpdatePollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the core base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Credential returns the configured credential.
func (c *Client) Credential() protocol.Credential {
	return c.credential
}

// HTTPClient exposes the configured HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Call posts {type, params} to the namespace and decodes a 200 response
// into out. out may be nil to discard the body.
func (c *Client) Call(ctx context.Context, ns protocol.Namespace, typ string, params, out any) error {
	if !ns.Valid() {
		return fmt.Errorf("rpc: unknown namespace %q", ns)
	}
	resp, err := c.post(ctx, c.httpClient, "/"+string(ns), protocol.Request{Type: typ, Params: normalizeParams(params)})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{
			Status: resp.StatusCode,
			Result: protocol.ErrorBody{Error: MessageParseFailed, Trace: []string{err.Error()}},
		}
	}
	return nil
}

// Auth calls the auth namespace.
func (c *Client) Auth(ctx context.Context, typ string, params, out any) error {
	return c.Call(ctx, protocol.NamespaceAuth, typ, params, out)
}

// User calls the user namespace.
func (c *Client) User(ctx context.Context, typ string, params, out any) error {
	return c.Call(ctx, protocol.NamespaceUser, typ, params, out)
}

// Read calls the read namespace.
func (c *Client) Read(ctx context.Context, typ string, params, out any) error {
	return c.Call(ctx, protocol.NamespaceRead, typ, params, out)
}

// Write calls the write namespace.
func (c *Client) Write(ctx context.Context, typ string, params, out any) error {
	return c.Call(ctx, protocol.NamespaceWrite, typ, params, out)
}

// Execute calls the execute namespace.
func (c *Client) Execute(ctx context.Context, typ string, params, out any) error {
	return c.Call(ctx, protocol.NamespaceExecute, typ, params, out)
}

// Do is the generic form of Call.
func Do[T any](ctx context.Context, c *Client, ns protocol.Namespace, typ string, params any) (T, error) {
	var out T
	err := c.Call(ctx, ns, typ, params, &out)
	return out, err
}

// OpenStream posts body to path and returns the streaming response body.
// The stream client has no overall timeout; ctx bounds the request.
func (c *Client) OpenStream(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	resp, err := c.post(ctx, c.streamingHTTPClient(), path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp.Body, nil
}

func (c *Client) post(ctx context.Context, hc *http.Client, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("rpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.credential.ApplyHeaders(req.Header)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &Error{
			Status: StatusRequestFailed,
			Result: protocol.ErrorBody{Error: MessageRequestFailed, Trace: []string{err.Error()}},
		}
	}
	return resp, nil
}

func (c *Client) streamingHTTPClient() *http.Client {
	c.streamOnce.Do(func() {
		clone := *c.httpClient
		clone.Timeout = 0
		c.streamHTTPClient = &clone
	})
	return c.streamHTTPClient
}

func normalizeParams(params any) any {
	if params == nil {
		return struct{}{}
	}
	return params
}

func readAPIError(resp *http.Response) *Error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &Error{
			Status: resp.StatusCode,
			Result: protocol.ErrorBody{Error: MessageParseFailed, Trace: []string{err.Error()}},
		}
	}

	var result protocol.ErrorBody
	if err := json.Unmarshal(body, &result); err != nil {
		trace := []string{err.Error()}
		if preview := sanitize.Preview(body, 512); preview != "" {
			trace = append(trace, preview)
		}
		return &Error{
			Status: resp.StatusCode,
			Result: protocol.ErrorBody{Error: MessageParseFailed, Trace: trace},
		}
	}
	if result.Trace == nil {
		result.Trace = []string{}
	}
	return &Error{Status: resp.StatusCode, Result: result}
}
