// Package httpclient provides the shared HTTP client used by the export layer
// and the REST collaborators: connection pooling with keep-alive, typed JSON
// helpers, and classification of response codes into the SDK error taxonomy.
//
// The client deliberately performs no retries itself. Retry policy belongs to
// the export queue workers, which own backoff, attempt caps, and Retry-After
// handling.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/honeyhiveai/honeyhive-go/core"
)

// Client wraps net/http.Client with a base URL, default headers, and typed
// helpers. A single Client is safe for concurrent use; its underlying
// transport pools keep-alive connections.
type Client struct {
	http    *http.Client
	baseURL string
	headers map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the base URL prepended to all request paths.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHeader adds a default header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithBearerToken sets the Authorization header to "Bearer <token>".
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.headers["Authorization"] = "Bearer " + token
	}
}

// WithTimeout sets the total per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithMaxIdleConns bounds the keep-alive connection pool per host. It should
// match the export worker count so each worker reuses a warm connection.
func WithMaxIdleConns(n int) Option {
	return func(c *Client) {
		if t, ok := c.http.Transport.(*http.Transport); ok {
			t.MaxIdleConnsPerHost = n
		}
	}
}

// New creates a Client with the given options.
func New(opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &Client{
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases idle keep-alive connections held by the transport.
func (c *Client) Close() {
	if t, ok := c.http.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// APIError represents a non-2xx HTTP response from an API.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Body)
}

// Do sends an HTTP request with the given raw body and content type and
// returns the raw response. The caller is responsible for closing the
// response body.
func (c *Client) Do(ctx context.Context, method, path, contentType string, body []byte) (*http.Response, error) {
	url := path
	if c.baseURL != "" && !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("httpclient: create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	return c.http.Do(req)
}

// Post sends body to path and classifies the outcome into the SDK error
// taxonomy. A 2xx response returns nil. Network errors and retryable status
// codes return ErrExportTransient; all other statuses return
// ErrExportPermanent. The returned error wraps an *APIError carrying the
// status, response body, and any Retry-After hint.
func (c *Client) Post(ctx context.Context, path, contentType string, body []byte) error {
	resp, err := c.Do(ctx, http.MethodPost, path, contentType, body)
	if err != nil {
		return core.NewError("httpclient.post", core.ErrExportTransient, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		RetryAfter: retryAfter(resp),
	}

	code := core.ErrExportPermanent
	if Retryable(resp.StatusCode) {
		code = core.ErrExportTransient
	}
	return core.NewError("httpclient.post", code, http.StatusText(resp.StatusCode), apiErr)
}

// DoJSON sends body as JSON and decodes the JSON response into T. Non-2xx
// responses return a classified error as in Post.
func DoJSON[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var zero T

	var raw []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("httpclient: marshal body: %w", err)
		}
		raw = data
	}

	resp, err := c.Do(ctx, method, path, "application/json", raw)
	if err != nil {
		return zero, core.NewError("httpclient.dojson", core.ErrExportTransient, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var result T
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && err != io.EOF {
			return zero, fmt.Errorf("httpclient: decode response: %w", err)
		}
		return result, nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		RetryAfter: retryAfter(resp),
	}
	code := core.ErrExportPermanent
	if Retryable(resp.StatusCode) {
		code = core.ErrExportTransient
	}
	return zero, core.NewError("httpclient.dojson", code, http.StatusText(resp.StatusCode), apiErr)
}

// Retryable reports whether the status code warrants a retry: any 5xx,
// request timeout (408), or rate limiting (429).
func Retryable(statusCode int) bool {
	return statusCode >= 500 ||
		statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusTooManyRequests
}

// retryAfter parses the Retry-After header as delta-seconds. HTTP-date
// values and absent headers yield zero.
func retryAfter(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	seconds, err := strconv.Atoi(ra)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
