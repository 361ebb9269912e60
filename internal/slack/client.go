package slack

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

// ServiceName is the circuit breaker key for the Slack Web API
const ServiceName = "slack"

// PostedMessage identifies a message accepted by Slack
type PostedMessage struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
	Queued  bool   `json:"queued"`
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

type postMessageResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// Client posts messages to the Slack Web API through the degradation
// manager, splitting long replies into multiple messages
type Client struct {
	config     config.SlackConfig
	httpClient *http.Client
	manager    *resilience.DegradationManager
	monitor    *monitor.Monitor
	metrics    *metrics.Metrics
	splitter   *Splitter
	logger     *logging.Logger
}

// NewClient creates a Slack client
func NewClient(cfg config.SlackConfig, manager *resilience.DegradationManager, mon *monitor.Monitor, m *metrics.Metrics) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		manager:  manager,
		monitor:  mon,
		metrics:  m,
		splitter: NewSplitter(),
		logger:   logging.GetLogger(),
	}
}

// PostMessage sends text to a channel, optionally threading, splitting it
// into parts when it exceeds Slack's message size. Returns the receipt of
// the last posted part.
func (c *Client) PostMessage(ctx context.Context, channel, text, threadTS string) (*PostedMessage, error) {
	isCode := strings.Contains(text, "```")

	var last *PostedMessage
	for _, part := range c.splitter.Split(text, isCode) {
		posted, err := c.postPart(ctx, channel, part, threadTS)
		if err != nil {
			return nil, err
		}
		last = posted
	}
	return last, nil
}

func (c *Client) postPart(ctx context.Context, channel, text, threadTS string) (*PostedMessage, error) {
	op := func(ctx context.Context) (interface{}, error) {
		return c.doPost(ctx, channel, text, threadTS)
	}

	result, err := c.manager.CallService(ctx, ServiceName, op)
	if err != nil {
		return nil, err
	}

	posted, ok := result.(*PostedMessage)
	if !ok {
		return nil, errors.NewSlackError(fmt.Sprintf("unexpected post result type %T", result))
	}
	return posted, nil
}

func (c *Client) doPost(ctx context.Context, channel, text, threadTS string) (*PostedMessage, error) {
	start := time.Now()

	posted, err := c.postMessage(ctx, channel, text, threadTS)
	duration := time.Since(start)

	c.monitor.RecordAPICall(ServiceName, err == nil, duration, err)
	c.metrics.RecordServiceCall(ServiceName, err == nil, duration)

	if err != nil {
		c.monitor.Collector().Add(err, map[string]interface{}{
			"service": ServiceName,
			"channel": channel,
		})
		return nil, err
	}
	return posted, nil
}

func (c *Client) postMessage(ctx context.Context, channel, text, threadTS string) (*PostedMessage, error) {
	payload := postMessageRequest{
		Channel:  channel,
		Text:     text,
		ThreadTS: threadTS,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewSlackError("failed to encode message").WithCause(err)
	}

	url := strings.TrimSuffix(c.config.APIBaseURL, "/") + "/chat.postMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewSlackError("failed to build request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+c.config.BotToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTimeoutError("slack request").WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewSlackError("failed to read response").WithCause(err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.NewRateLimitError("slack rate limit exceeded")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewSlackError(fmt.Sprintf("slack request failed with status %d", resp.StatusCode))
	}

	var parsed postMessageResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errors.NewSlackError("failed to decode response").WithCause(err)
	}

	if !parsed.OK {
		return nil, errors.NewSlackError(fmt.Sprintf("slack API error: %s", parsed.Error))
	}

	return &PostedMessage{
		Channel: parsed.Channel,
		TS:      parsed.TS,
	}, nil
}

// Fallback is the degraded reply when the Slack API itself is down: the
// message is acknowledged as queued rather than delivered
func Fallback(ctx context.Context) (interface{}, error) {
	return &PostedMessage{Queued: true}, nil
}
