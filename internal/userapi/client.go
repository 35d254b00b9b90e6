// Package userapi is a client for the hash-cracking service's User API.
//
// Every operation is one authenticated HTTP exchange against
// <scheme>://<host>/api/v1. A 2xx response is decoded into the operation's
// result type; anything else becomes an *APIError carrying the HTTP status,
// the service's machine-readable code and its message. Failures where no
// response arrived are reported as *TransportError.
//
// # Resources
//
// The Client exposes one gateway per resource family:
//
//   - Clients: organisations owning hashlists
//   - Hashlists: uploaded hash files (multipart upload)
//   - Agents: registered cracking agents and registration vouchers
//   - Jobs: cracking jobs, their increment layers and layer tasks
//   - Metadata: hash types, workflows and preset jobs
//
// The client keeps no state between calls beyond its immutable Config. It
// never retries and never caches.
package userapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/krakenhashes/khctl/internal/metrics"
)

const (
	HeaderEmail  = "X-User-Email"
	HeaderAPIKey = "X-API-Key"

	// APIKeyLength is the length of a service-issued API key.
	APIKeyLength = 64

	defaultMaxResponseBytes = 32 << 20 // 32MB maximum response size
	defaultUserAgent        = "khctl"
)

// Config identifies the service and the caller. It is copied into the
// Client at construction and never changes afterwards.
type Config struct {
	// BaseURL includes the API prefix, e.g. https://kh.example.com/api/v1.
	BaseURL string
	Email   string
	APIKey  string
}

// Validate checks the fields needed to authenticate requests.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return invalidArg("base_url", "is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil {
		return invalidArg("base_url", fmt.Sprintf("invalid url %q", c.BaseURL))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return invalidArg("base_url", "scheme must be http or https")
	}
	if parsed.Host == "" {
		return invalidArg("base_url", "must include host")
	}
	if strings.TrimSpace(c.Email) == "" {
		return invalidArg("email", "is required")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return invalidArg("api_key", "is required")
	}
	if len(c.APIKey) != APIKeyLength {
		return invalidArg("api_key", fmt.Sprintf("must be %d characters", APIKeyLength))
	}
	return nil
}

// Client talks to the User API. Calls on one Client are not pipelined;
// callers sharing a Client across goroutines should serialise their calls.
type Client struct {
	cfg              Config
	baseURL          string
	httpClient       *http.Client
	timeout          time.Duration
	logger           *zap.SugaredLogger
	metrics          *metrics.Metrics
	userAgent        string
	maxResponseBytes int64

	Clients   *ClientsService
	Hashlists *HashlistsService
	Agents    *AgentsService
	Jobs      *JobsService
	Metadata  *MetadataService
}

// Option customises a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each exchange unless the caller's context expires sooner.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if strings.TrimSpace(ua) != "" {
			c.userAgent = strings.TrimSpace(ua)
		}
	}
}

func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResponseBytes = n
		}
	}
}

// New validates cfg and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Email = strings.TrimSpace(cfg.Email)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:              cfg,
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:       &http.Client{},
		logger:           zap.NewNop().Sugar(),
		userAgent:        defaultUserAgent,
		maxResponseBytes: defaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Clients = &ClientsService{c: c}
	c.Hashlists = &HashlistsService{c: c}
	c.Agents = &AgentsService{c: c}
	c.Jobs = &JobsService{c: c}
	c.Metadata = &MetadataService{c: c}
	return c, nil
}

// BaseURL returns the normalised base URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Email returns the identity the client authenticates as.
func (c *Client) Email() string {
	return c.cfg.Email
}

// request describes one logical operation.
type request struct {
	method string
	path   string
	// route is the path template used as a metrics label.
	route string
	query Params
	// payload is JSON-encoded when body is nil.
	payload any
	// body and contentType replace the JSON body, e.g. for multipart uploads.
	body        io.Reader
	contentType string
}

// do performs exactly one HTTP exchange and returns the response body of a
// 2xx response.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	route := r.route
	if route == "" {
		route = r.path
	}

	target := joinURL(c.baseURL, r.path)
	if encoded := r.query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	body := r.body
	contentType := r.contentType
	if body == nil {
		contentType = "application/json"
		if r.payload != nil {
			buf := &bytes.Buffer{}
			if err := json.NewEncoder(buf).Encode(r.payload); err != nil {
				return nil, fmt.Errorf("encode %s %s payload: %w", r.method, r.path, err)
			}
			body = buf
		}
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", r.method, r.path, err)
	}
	req.Header.Set(HeaderEmail, c.cfg.Email)
	req.Header.Set(HeaderAPIKey, c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.IncTransportError(r.method, route)
		c.logger.Debugw("api request failed", "method", r.method, "path", r.path, "error", err)
		return nil, &TransportError{Method: r.method, Path: r.path, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes))
	if err != nil {
		c.metrics.IncTransportError(r.method, route)
		return nil, &TransportError{Method: r.method, Path: r.path, Err: fmt.Errorf("read response: %w", err)}
	}
	elapsed := time.Since(start)
	c.metrics.ObserveRequest(r.method, route, resp.StatusCode, elapsed)
	c.logger.Debugw("api request", "method", r.method, "path", r.path, "status", resp.StatusCode, "duration", elapsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseAPIError(r.method, r.path, resp.StatusCode, resp.Status, data)
	}
	return data, nil
}

// doJSON performs the exchange and decodes a non-empty body into out.
func (c *Client) doJSON(ctx context.Context, r request, out any) error {
	data, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	return decodeBody(r, data, out)
}

func decodeBody(r request, data []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", r.method, r.path, err)
	}
	return nil
}

// withTimeout adds the client's timeout to the context unless the context
// already expires sooner.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c == nil || c.timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= c.timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Health reports whether the service is reachable and authenticated.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.doJSON(ctx, request{method: http.MethodGet, path: "/health"}, &out)
	return out, err
}

func escapeID(id string) string {
	return url.PathEscape(strings.TrimSpace(id))
}

func requireID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalidArg(field, "is required")
	}
	return nil
}
