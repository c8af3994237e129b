// Package llm provides a provider-agnostic LLM client with retry and
// fallback support. Roles resolve to endpoints through the model registry;
// failures classify as transient or fatal so callers can decide between
// retry and dead-letter.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/docwriter/model"
)

// maxResponseSize caps the response body read to prevent memory
// exhaustion from a misbehaving endpoint.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Message is one chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// Request is an LLM completion request. The Role resolves to a fallback
// chain of endpoints through the model registry.
type Request struct {
	Role        model.Role
	Messages    []Message
	Temperature *float64 // nil uses the endpoint default
	MaxTokens   int      // 0 uses the endpoint default
}

// TokenUsage is the token accounting for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed LLM call.
type Response struct {
	// RequestID correlates this call across logs and status events.
	RequestID string

	Content      string
	Model        string
	Usage        TokenUsage
	FinishReason string
}

// Client completes requests against role-resolved endpoints.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// HTTPClient is the production Client.
type HTTPClient struct {
	registry    *model.Registry
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *HTTPClient) { client.httpClient = c }
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *HTTPClient) { client.retryConfig = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *HTTPClient) { client.logger = logger }
}

// NewClient creates a client over the given model registry.
func NewClient(registry *model.Registry, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		registry:    registry,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // long-form generations are slow
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends a completion request, walking the role's fallback chain
// with per-endpoint retry. A fatal error from any endpoint aborts the
// chain; exhausting the chain returns the last error.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Role == "" {
		return nil, fmt.Errorf("role is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	requestID := uuid.New().String()
	chain := c.registry.FallbackChain(req.Role)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no endpoints configured for role %s", req.Role)
	}

	var lastErr error
	for _, endpointName := range chain {
		endpoint := c.registry.GetEndpoint(endpointName)
		if endpoint == nil {
			c.logger.Debug("No endpoint definition, skipping", "endpoint", endpointName)
			continue
		}

		resp, err := c.tryEndpointWithRetry(ctx, endpoint, endpointName, req)
		if err == nil {
			resp.RequestID = requestID
			return resp, nil
		}
		lastErr = err

		if IsFatal(err) {
			c.logger.Warn("Fatal error, not trying fallbacks",
				"endpoint", endpointName,
				"error", err)
			return nil, err
		}
		c.logger.Warn("Endpoint failed, trying fallback",
			"endpoint", endpointName,
			"provider", endpoint.Provider,
			"error", err)
	}

	return nil, fmt.Errorf("all endpoints failed for role %s: %w", req.Role, lastErr)
}

func (c *HTTPClient) tryEndpointWithRetry(ctx context.Context, ep *model.EndpointConfig, name string, req Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		resp, err := c.doRequest(ctx, ep, req)
		if err == nil {
			c.registry.MarkEndpointSuccess(name)
			return resp, nil
		}
		lastErr = err

		if IsFatal(err) {
			// Auth and bad-request errors are config problems, not
			// endpoint health.
			return nil, err
		}
		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("Request failed, retrying",
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	c.registry.MarkEndpointFailure(name)
	return nil, lastErr
}

// calculateBackoff computes exponential backoff with +/-25% jitter to
// avoid synchronized retries across workers.
func (c *HTTPClient) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

func (c *HTTPClient) doRequest(ctx context.Context, ep *model.EndpointConfig, req Request) (*Response, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", ep.Provider))
	}

	url := provider.BuildURL(ep.URL)
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = ep.MaxTokens
	}
	body, err := provider.BuildRequestBody(ep.Model, req.Messages, req.Temperature, maxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("Sending LLM request",
		"provider", ep.Provider,
		"model", ep.Model,
		"url", url,
		"messages", len(req.Messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient.
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}
	return provider.ParseResponse(respBody, ep.Model)
}

// classifyHTTPError sorts HTTP failures into transient and fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}
	err := fmt.Errorf("LLM API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden,
		statusCode == http.StatusBadRequest:
		return NewFatalError(err)
	default:
		return NewFatalError(err)
	}
}
