package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/honeyhiveai/honeyhive-go/internal/httpclient"
)

// Client is the concrete Sessions implementation used by the tracer at
// init time. The other collaborator interfaces are served by generated
// clients outside the core pipeline.
type Client struct {
	http *httpclient.Client
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	serverURL string
	apiKey    string
	timeout   time.Duration
}

// WithServerURL sets the backend base URL.
func WithServerURL(url string) Option {
	return func(c *clientConfig) { c.serverURL = url }
}

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) { c.apiKey = key }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.timeout = d }
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	cfg := &clientConfig{
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Client{
		http: httpclient.New(
			httpclient.WithBaseURL(cfg.serverURL),
			httpclient.WithBearerToken(cfg.apiKey),
			httpclient.WithTimeout(cfg.timeout),
		),
	}
}

// Start creates a backend session and returns its id. When the request
// carries no session id, one is generated client-side so the tracer can
// proceed identically whether or not the backend echoes it.
func (c *Client) Start(ctx context.Context, req SessionStartRequest) (SessionStartResponse, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	body := map[string]any{"session": req}
	resp, err := httpclient.DoJSON[SessionStartResponse](ctx, c.http, http.MethodPost, "/session/start", body)
	if err != nil {
		return SessionStartResponse{}, err
	}
	if resp.SessionID == "" {
		resp.SessionID = req.SessionID
	}
	return resp, nil
}

// Stop marks a session as ended.
func (c *Client) Stop(ctx context.Context, sessionID string) error {
	_, err := httpclient.DoJSON[struct{}](ctx, c.http, http.MethodPost, "/session/"+sessionID+"/stop", nil)
	return err
}

// Close releases the client's pooled connections.
func (c *Client) Close() {
	c.http.Close()
}

var _ Sessions = (*Client)(nil)
