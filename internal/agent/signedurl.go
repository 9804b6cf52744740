package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/visacoach/internal/observe"
	"github.com/MrWong99/visacoach/internal/resilience"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultAPIBaseURL is the public REST endpoint.
	DefaultAPIBaseURL = "https://api.elevenlabs.io"

	defaultSignedURLTimeout = 3 * time.Second
	signedURLPath           = "/v1/convai/conversation/get-signed-url"
)

// Connection is what a browser needs to start talking to the agent. SignedURL
// is empty when only the public agent id is usable.
type Connection struct {
	AgentID   string
	SignedURL string
}

// ── Options ────────────────────────────────────────────────────────────────────

// ClientOption configures a [SignedURLClient].
type ClientOption func(*SignedURLClient)

// WithHTTPClient replaces the HTTP client. Default: [http.DefaultClient].
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *SignedURLClient) { c.http = hc }
}

// WithTimeout bounds a single request to one endpoint. Default: 3s.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *SignedURLClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBaseURLs sets the endpoints tried in order. Default: [DefaultAPIBaseURL].
func WithBaseURLs(urls ...string) ClientOption {
	return func(c *SignedURLClient) {
		if len(urls) > 0 {
			c.baseURLs = urls
		}
	}
}

// WithBreaker sets the per-endpoint breaker template.
func WithBreaker(cfg resilience.BreakerConfig) ClientOption {
	return func(c *SignedURLClient) { c.breaker = cfg }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ClientOption {
	return func(c *SignedURLClient) { c.metrics = m }
}

// ── SignedURLClient ────────────────────────────────────────────────────────────

// SignedURLClient fetches signed conversation URLs. Safe for concurrent use.
type SignedURLClient struct {
	apiKey   string
	agentID  string
	http     *http.Client
	timeout  time.Duration
	baseURLs []string
	breaker  resilience.BreakerConfig
	metrics  *observe.Metrics

	endpoints *resilience.Group[string]
}

// NewSignedURLClient returns a client for agentID. An empty apiKey is valid:
// [SignedURLClient.Resolve] then always degrades to the public agent id.
func NewSignedURLClient(apiKey, agentID string, opts ...ClientOption) *SignedURLClient {
	c := &SignedURLClient{
		apiKey:   apiKey,
		agentID:  agentID,
		http:     http.DefaultClient,
		timeout:  defaultSignedURLTimeout,
		baseURLs: []string{DefaultAPIBaseURL},
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	cfg := c.breaker
	userHook := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to resilience.State) {
		c.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		if userHook != nil {
			userHook(name, from, to)
		}
	}
	c.endpoints = resilience.NewGroup[string](cfg)
	for _, u := range c.baseURLs {
		c.endpoints.Add(u, strings.TrimRight(u, "/"))
	}
	return c
}

// AgentID returns the configured agent id.
func (c *SignedURLClient) AgentID() string { return c.agentID }

// SignedURL requests a signed URL, trying each endpoint in order.
func (c *SignedURLClient) SignedURL(ctx context.Context) (string, error) {
	if c.apiKey == "" || c.agentID == "" {
		return "", ErrNotConfigured
	}

	ctx, span := observe.StartSpan(ctx, "agent.signed_url")
	defer span.End()

	start := time.Now()
	signed, err := resilience.Do(c.endpoints, func(base string) (string, error) {
		return c.fetch(ctx, base)
	})
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("status", status))
	c.metrics.RecordSignedURL(ctx, status, time.Since(start).Seconds())

	if err != nil {
		return "", fmt.Errorf("agent: signed url: %w", err)
	}
	return signed, nil
}

// Resolve never fails. It returns a signed URL when one can be fetched and
// otherwise falls back to the bare agent id.
func (c *SignedURLClient) Resolve(ctx context.Context) Connection {
	conn := Connection{AgentID: c.agentID}
	signed, err := c.SignedURL(ctx)
	switch {
	case err == nil:
		conn.SignedURL = signed
	case errors.Is(err, ErrNotConfigured):
		observe.Logger(ctx).Debug("signed url unavailable, using public agent id", "agent_id", c.agentID)
	default:
		observe.Logger(ctx).Warn("signed url fetch failed, using public agent id",
			"agent_id", c.agentID, "err", err)
	}
	return conn
}

// Check is a readiness probe. It fails without an agent id or when every
// endpoint breaker is open.
func (c *SignedURLClient) Check(context.Context) error {
	if c.agentID == "" {
		return ErrNotConfigured
	}
	var open []string
	states := c.endpoints.States()
	for name, st := range states {
		if st == resilience.StateOpen {
			open = append(open, name)
		}
	}
	if len(states) > 0 && len(open) == len(states) {
		return fmt.Errorf("agent: %w for every endpoint", resilience.ErrCircuitOpen)
	}
	return nil
}

type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

func (c *SignedURLClient) fetch(ctx context.Context, base string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := base + signedURLPath + "?agent_id=" + url.QueryEscape(c.agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%s: status %d: %s", base, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out signedURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%s: decode: %w", base, err)
	}
	if out.SignedURL == "" {
		return "", fmt.Errorf("%s: empty signed_url", base)
	}
	slog.Debug("signed url issued", "endpoint", base)
	return out.SignedURL, nil
}
