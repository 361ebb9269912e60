package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/devassist/devassist/pkg/logging"
	"github.com/devassist/devassist/pkg/metrics"
)

// MessageEvent is an inbound user message the bot should answer
type MessageEvent struct {
	EventID   string
	Type      string
	UserID    string
	ChannelID string
	ThreadTS  string
	MessageTS string
	Text      string
}

// Processor handles verified, deduplicated message events
type Processor interface {
	ProcessMessage(ctx context.Context, event MessageEvent) error
}

// Deduper suppresses redelivered events
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

type eventEnvelope struct {
	Type      string     `json:"type"`
	Token     string     `json:"token"`
	Challenge string     `json:"challenge"`
	EventID   string     `json:"event_id"`
	Event     innerEvent `json:"event"`
}

type innerEvent struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	BotID    string `json:"bot_id"`
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
}

// Handler terminates the Slack events webhook: it verifies signatures,
// answers URL verification challenges, drops redeliveries, and hands
// user messages to the processor. Slack expects an acknowledgement
// within three seconds, so processing happens off the request goroutine.
type Handler struct {
	verifier  *Verifier
	deduper   Deduper
	processor Processor
	metrics   *metrics.Metrics
	logger    *logging.Logger
}

// NewHandler creates a webhook handler
func NewHandler(verifier *Verifier, deduper Deduper, processor Processor, m *metrics.Metrics) *Handler {
	return &Handler{
		verifier:  verifier,
		deduper:   deduper,
		processor: processor,
		metrics:   m,
		logger:    logging.GetLogger(),
	}
}

// HandleEvents is the gin handler for POST /slack/events
func (h *Handler) HandleEvents(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	timestamp := c.GetHeader("X-Slack-Request-Timestamp")
	signature := c.GetHeader("X-Slack-Signature")
	if err := h.verifier.Verify(body, timestamp, signature); err != nil {
		h.logger.Warn("Rejected Slack request", "error", err.Error())
		h.metrics.RecordSlackEvent("unknown", "rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	switch envelope.Type {
	case "url_verification":
		c.JSON(http.StatusOK, gin.H{"challenge": envelope.Challenge})
		return
	case "event_callback":
		h.handleEventCallback(c, envelope)
		return
	default:
		h.metrics.RecordSlackEvent(envelope.Type, "ignored")
		c.Status(http.StatusOK)
	}
}

func (h *Handler) handleEventCallback(c *gin.Context, envelope eventEnvelope) {
	event := envelope.Event

	// Never answer other bots or message edits
	if event.BotID != "" || event.User == "" {
		h.metrics.RecordSlackEvent(event.Type, "ignored")
		c.Status(http.StatusOK)
		return
	}

	if event.Type != "app_mention" && event.Type != "message" {
		h.metrics.RecordSlackEvent(event.Type, "ignored")
		c.Status(http.StatusOK)
		return
	}

	seen, err := h.deduper.Seen(c.Request.Context(), envelope.EventID)
	if err != nil {
		// Dedup store being down must not drop user messages
		h.logger.Warn("Event dedup check failed, processing anyway",
			"event_id", envelope.EventID,
			"error", err.Error(),
		)
	} else if seen {
		h.metrics.RecordSlackEvent(event.Type, "duplicate")
		c.Status(http.StatusOK)
		return
	}

	h.metrics.RecordSlackEvent(event.Type, "accepted")
	h.logger.LogSlackEvent(c.Request.Context(), event.Type, envelope.EventID, event.Channel, event.User, nil)

	msg := MessageEvent{
		EventID:   envelope.EventID,
		Type:      event.Type,
		UserID:    event.User,
		ChannelID: event.Channel,
		ThreadTS:  event.ThreadTS,
		MessageTS: event.TS,
		Text:      stripMention(event.Text),
	}

	go func() {
		ctx := logging.WithCorrelationID(context.Background(), logging.NewCorrelationID())
		if err := h.processor.ProcessMessage(ctx, msg); err != nil {
			h.logger.Error("Failed to process message event",
				"event_id", msg.EventID,
				"channel_id", msg.ChannelID,
				"error", err.Error(),
			)
		}
	}()

	c.Status(http.StatusOK)
}

// stripMention removes the leading bot mention from app_mention text
func stripMention(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "<@") {
		if end := strings.Index(trimmed, ">"); end > 0 {
			return strings.TrimSpace(trimmed[end+1:])
		}
	}
	return trimmed
}
