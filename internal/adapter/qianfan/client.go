package qianfan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"qianfan-chat/internal/domain"
	"qianfan-chat/internal/infra/config"
)

// Transport sends requests to the completion service. Implementations must be
// safe for concurrent independent calls.
type Transport interface {
	ChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletion, error)
	// ChatCompletionStream opens a stream. Cancelling ctx ends the read.
	ChatCompletionStream(ctx context.Context, req *ChatCompletionRequest) (<-chan StreamResult, error)
	Embeddings(ctx context.Context, req *EmbeddingRequest) (*EmbeddingList, error)
}

// Client is the HTTP Transport for the QianFan v2 API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Transport = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// WithBaseURL overrides the configured base URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithRateLimit throttles outgoing requests to rps with the given burst.
// A non-positive rps removes any limit.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a Client with configured timeouts, pooling and rate limit.
func NewClient(cfg config.ProviderConfig, logger *slog.Logger, opts ...ClientOption) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
	WithRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the endpoint root this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// ChatCompletion implements Transport. A response with no body yields (nil, nil).
func (c *Client) ChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletion, error) {
	if req == nil {
		return nil, domain.NewDomainError("qianfan.ChatCompletion", domain.ErrValidation, "request must not be nil")
	}
	if req.Stream {
		return nil, domain.NewDomainError("qianfan.ChatCompletion", domain.ErrValidation,
			"request must set the stream property to false")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Debug("qianfan request", "path", chatCompletionsPath, "model", req.Model, "body", string(body))

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	respBody, err := doJSONRequest(ctx, c.client, c.baseURL+chatCompletionsPath, body, c.headers())
	if err != nil {
		return nil, err
	}
	c.logger.Debug("qianfan response", "path", chatCompletionsPath, "body", string(respBody))

	if isEmptyBody(respBody) {
		return nil, nil
	}

	var completion ChatCompletion
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, domain.NewTransportError("qianfan.ChatCompletion", http.StatusOK, domain.ErrProviderError,
			"unmarshal response: "+err.Error())
	}
	if inBandFailure(completion.ErrorCode, completion.ErrorMsg) {
		return nil, providerError("qianfan.ChatCompletion", completion.ErrorCode, completion.ErrorMsg)
	}
	return &completion, nil
}

// ChatCompletionStream implements Transport.
func (c *Client) ChatCompletionStream(ctx context.Context, req *ChatCompletionRequest) (<-chan StreamResult, error) {
	if req == nil {
		return nil, domain.NewDomainError("qianfan.ChatCompletionStream", domain.ErrValidation, "request must not be nil")
	}
	if !req.Stream {
		return nil, domain.NewDomainError("qianfan.ChatCompletionStream", domain.ErrValidation,
			"request must set the stream property to true")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Debug("qianfan stream request", "path", chatCompletionsPath, "model", req.Model, "body", string(body))

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	httpResp, err := doStreamRequest(ctx, c.client, c.baseURL+chatCompletionsPath, body, c.headers())
	if err != nil {
		return nil, err
	}
	return parseSSEStream(ctx, httpResp.Body), nil
}

// Embeddings implements Transport.
func (c *Client) Embeddings(ctx context.Context, req *EmbeddingRequest) (*EmbeddingList, error) {
	if req == nil {
		return nil, domain.NewDomainError("qianfan.Embeddings", domain.ErrValidation, "request must not be nil")
	}
	if err := domain.ValidateEmbeddingBatch(req.Input); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	respBody, err := doJSONRequest(ctx, c.client, c.baseURL+embeddingsPath, body, c.headers())
	if err != nil {
		return nil, err
	}

	var list EmbeddingList
	if err := json.Unmarshal(respBody, &list); err != nil {
		return nil, domain.NewTransportError("qianfan.Embeddings", http.StatusOK, domain.ErrProviderError,
			"unmarshal response: "+err.Error())
	}
	if inBandFailure(list.ErrorCode, list.ErrorMsg) {
		return nil, providerError("qianfan.Embeddings", list.ErrorCode, list.ErrorMsg)
	}
	return &list, nil
}

func (c *Client) headers() map[string]string {
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	return headers
}

// wait blocks until the rate limiter admits one request.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &domain.TransportError{Op: "qianfan.ratelimit", Cause: ctxErr}
		}
		return &domain.TransportError{Op: "qianfan.ratelimit", Cause: domain.ErrRateLimit, Message: err.Error()}
	}
	return nil
}

func isEmptyBody(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}
