// Package llm is the HTTP transport to an OpenAI-compatible completion
// provider. It is the only package that talks to the model API; the rest
// of the system sees core.LLMClient.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/logging"
)

const (
	defaultEndpoint = "https://api.openai.com/v1"
	defaultTimeout  = 5 * time.Minute
	maxRetries      = 3
)

// Pricing is USD per million tokens, keyed by model name. Unknown models
// fall back to the standard tier rate.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

var defaultPricing = map[core.ModelTier]Pricing{
	core.TierCheap:    {InputPerM: 0.15, OutputPerM: 0.60},
	core.TierStandard: {InputPerM: 2.50, OutputPerM: 10.00},
	core.TierHigh:     {InputPerM: 15.00, OutputPerM: 75.00},
}

// Client talks to a chat-completions endpoint.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	pricing    map[core.ModelTier]Pricing
	log        *logging.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport, used by tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPricing overrides the per-tier token rates.
func WithPricing(p map[core.ModelTier]Pricing) Option {
	return func(c *Client) { c.pricing = p }
}

// New creates a client. An empty endpoint uses the OpenAI API.
func New(apiKey, endpoint string, log *logging.Logger, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	c := &Client{
		apiKey:     apiKey,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
		pricing:    defaultPricing,
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete runs one model invocation with retry on rate limits and
// transient provider errors.
func (c *Client) Complete(ctx context.Context, req core.CompletionRequest) (*core.CompletionResult, error) {
	if c.apiKey == "" {
		return nil, core.ErrExecution("LLM_KEY_MISSING", "llm api key not configured")
	}

	body := chatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, core.ErrCancelled("completion cancelled during backoff")
			case <-time.After(backoff):
			}
		}

		result, retryable, err := c.post(ctx, payload, req, start)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		c.log.Warn("completion retry",
			"model", req.Model,
			"attempt", attempt+1,
			"error", err.Error())
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, payload []byte, req core.CompletionRequest, start time.Time) (*core.CompletionResult, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, core.ErrCancelled("completion cancelled")
		}
		return nil, true, fmt.Errorf("completion request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, true, fmt.Errorf("read completion response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, core.ErrExecution("LLM_PROVIDER_BUSY",
			fmt.Sprintf("provider returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, false, core.ErrExecution("LLM_REQUEST_REJECTED",
			fmt.Sprintf("provider returned %d: %s", resp.StatusCode, firstBytes(raw, 200)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false, fmt.Errorf("decode completion response: %w", err)
	}
	if parsed.Error != nil {
		return nil, false, core.ErrExecution("LLM_REQUEST_REJECTED", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, false, core.ErrExecution("LLM_EMPTY_RESPONSE", "provider returned no choices")
	}

	return &core.CompletionResult{
		Output:    parsed.Choices[0].Message.Content,
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
		CostUSD:   c.cost(req.Tier, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens),
		Model:     req.Model,
		Duration:  time.Since(start),
	}, false, nil
}

func (c *Client) cost(tier core.ModelTier, tokensIn, tokensOut int) float64 {
	p, ok := c.pricing[tier]
	if !ok {
		p = c.pricing[core.TierStandard]
	}
	return float64(tokensIn)/1e6*p.InputPerM + float64(tokensOut)/1e6*p.OutputPerM
}

// Ping verifies provider reachability with a models listing.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(pingCtx, http.MethodGet, c.endpoint+"/models", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm provider unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return core.ErrExecution("LLM_AUTH_FAILED",
			fmt.Sprintf("provider rejected credentials with %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return core.ErrExecution("LLM_PROVIDER_BUSY",
			fmt.Sprintf("provider returned %d", resp.StatusCode))
	}
	return nil
}

func firstBytes(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
