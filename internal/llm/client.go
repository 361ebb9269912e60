package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devassist/devassist/pkg/config"
	"github.com/devassist/devassist/pkg/errors"
	"github.com/devassist/devassist/pkg/logging"
	"github.com/devassist/devassist/pkg/metrics"
	"github.com/devassist/devassist/pkg/monitor"
	"github.com/devassist/devassist/pkg/resilience"
)

// ServiceName is the circuit breaker key for the LLM backend
const ServiceName = "anthropic"

const (
	messagesPath     = "/v1/messages"
	apiVersionHeader = "2023-06-01"
)

// Message is one turn of an LLM conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the assistant's reply plus usage accounting
type Completion struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	StopReason   string `json:"stop_reason"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Degraded     bool   `json:"degraded"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client calls the LLM messages API through the degradation manager so
// a broken backend degrades to a canned reply instead of failing the bot
type Client struct {
	config     config.AnthropicConfig
	httpClient *http.Client
	manager    *resilience.DegradationManager
	retrier    *resilience.Retrier
	monitor    *monitor.Monitor
	metrics    *metrics.Metrics
	logger     *logging.Logger
}

// NewClient creates an LLM client. manager, mon, and m may be shared with
// the rest of the bot; they must not be nil.
func NewClient(cfg config.AnthropicConfig, manager *resilience.DegradationManager, mon *monitor.Monitor, m *metrics.Metrics) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		manager: manager,
		retrier: resilience.NewRetrier(resilience.DefaultRetryConfig()),
		monitor: mon,
		metrics: m,
		logger:  logging.GetLogger(),
	}
}

// Complete sends the conversation to the LLM and returns the completion.
// Transient failures are retried, repeated failures trip the breaker, and
// a tripped breaker serves the registered degraded reply.
func (c *Client) Complete(ctx context.Context, system string, messages []Message) (*Completion, error) {
	op := func(ctx context.Context) (interface{}, error) {
		return c.retrier.ExecuteWithResult(ctx, func(ctx context.Context) (interface{}, error) {
			return c.complete(ctx, system, messages)
		})
	}

	result, err := c.manager.CallService(ctx, ServiceName, op)
	if err != nil {
		return nil, err
	}

	completion, ok := result.(*Completion)
	if !ok {
		return nil, errors.NewLLMError(fmt.Sprintf("unexpected completion type %T", result))
	}
	return completion, nil
}

func (c *Client) complete(ctx context.Context, system string, messages []Message) (*Completion, error) {
	start := time.Now()

	completion, err := c.doRequest(ctx, system, messages)
	duration := time.Since(start)

	c.monitor.RecordAPICall(ServiceName, err == nil, duration, err)
	c.metrics.RecordServiceCall(ServiceName, err == nil, duration)
	c.logger.LogAPICall(ctx, ServiceName, "messages", err == nil, duration, nil)

	if err != nil {
		c.monitor.Collector().Add(err, map[string]interface{}{
			"service":   ServiceName,
			"operation": "messages",
		})
		return nil, err
	}

	c.metrics.RecordLLMTokens(completion.InputTokens, completion.OutputTokens)
	return completion, nil
}

func (c *Client) doRequest(ctx context.Context, system string, messages []Message) (*Completion, error) {
	payload := messagesRequest{
		Model:     c.config.Model,
		MaxTokens: c.config.MaxTokens,
		System:    system,
		Messages:  messages,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewLLMError("failed to encode request").WithCause(err)
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/") + messagesPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewLLMError("failed to build request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)
	req.Header.Set("anthropic-version", apiVersionHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTimeoutError("llm request").WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewLLMError("failed to read response").WithCause(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp.StatusCode, respBody)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errors.NewLLMError("failed to decode response").WithCause(err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Completion{
		Text:         text.String(),
		Model:        parsed.Model,
		StopReason:   parsed.StopReason,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}, nil
}

func (c *Client) statusError(status int, body []byte) error {
	var parsed apiError
	message := fmt.Sprintf("llm request failed with status %d", status)
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}

	switch {
	case status == http.StatusTooManyRequests:
		return errors.NewRateLimitError(message)
	case status >= 500:
		return errors.NewLLMError(message)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.NewValidationError(message)
	default:
		return errors.NewLLMError(message)
	}
}

// DegradedCompletion is the canned reply served while the LLM backend is down
func DegradedCompletion() *Completion {
	return &Completion{
		Text: "The assistant is temporarily unavailable. Your message was received; " +
			"please try again in a few minutes.",
		StopReason: "degraded",
		Degraded:   true,
	}
}

// Fallback adapts DegradedCompletion to the degradation manager's contract
func Fallback(ctx context.Context) (interface{}, error) {
	return DegradedCompletion(), nil
}
