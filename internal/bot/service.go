package bot

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/devassist/devassist/internal/llm"
	"github.com/devassist/devassist/internal/slack"
	"github.com/devassist/devassist/internal/store"
	"github.com/devassist/devassist/pkg/errors"
	"github.com/devassist/devassist/pkg/logging"
	"github.com/devassist/devassist/pkg/metrics"
	"github.com/devassist/devassist/pkg/monitor"
	"github.com/devassist/devassist/pkg/resilience"
)

// StoreServiceName is the circuit breaker key for conversation persistence
const StoreServiceName = "database"

const defaultHistoryLimit = 20

const systemPrompt = `You are DevAssist, a programming assistant for a software team's Slack workspace.
Answer questions about code, debugging, architecture, and tooling.
Keep answers concise and format code in fenced code blocks.`

// Completer produces LLM replies for a conversation
type Completer interface {
	Complete(ctx context.Context, system string, messages []llm.Message) (*llm.Completion, error)
}

// Poster delivers replies back to Slack
type Poster interface {
	PostMessage(ctx context.Context, channel, text, threadTS string) (*slack.PostedMessage, error)
}

// UserStore resolves Slack users to persisted records
type UserStore interface {
	GetOrCreate(ctx context.Context, slackUserID string) (*store.User, error)
}

// ConversationStore tracks conversation records
type ConversationStore interface {
	Create(ctx context.Context, conv *store.Conversation) error
	FindActive(ctx context.Context, channelID, threadTS string) (*store.Conversation, error)
	Touch(ctx context.Context, id uuid.UUID) error
}

// MessageStore persists exchanged messages
type MessageStore interface {
	Create(ctx context.Context, msg *store.Message) error
	ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]*store.Message, error)
}

// Service handles incoming Slack messages end to end: it resolves the user
// and conversation, builds LLM context from stored history, requests a
// completion, posts the reply, and records the exchange
type Service struct {
	completer     Completer
	poster        Poster
	users         UserStore
	conversations ConversationStore
	messages      MessageStore
	manager       *resilience.DegradationManager
	monitor       *monitor.Monitor
	metrics       *metrics.Metrics
	historyLimit  int
	logger        *logging.Logger
}

// NewService creates the message processing service. The stores may be nil,
// in which case replies are produced without persistence or history. A nil
// manager calls the stores directly instead of through a breaker.
func NewService(completer Completer, poster Poster, users UserStore, conversations ConversationStore, messages MessageStore, manager *resilience.DegradationManager, mon *monitor.Monitor, m *metrics.Metrics) *Service {
	return &Service{
		completer:     completer,
		poster:        poster,
		users:         users,
		conversations: conversations,
		messages:      messages,
		manager:       manager,
		monitor:       mon,
		metrics:       m,
		historyLimit:  defaultHistoryLimit,
		logger:        logging.GetLogger(),
	}
}

// callStore routes a persistence operation through the database breaker so
// a down database is short-circuited instead of hammered on every message
func (s *Service) callStore(ctx context.Context, op resilience.Operation) (interface{}, error) {
	if s.manager == nil {
		return op(ctx)
	}
	return s.manager.CallService(ctx, StoreServiceName, op)
}

// ProcessMessage handles one inbound Slack message. Persistence failures
// are logged and skipped so a broken database never blocks a reply.
func (s *Service) ProcessMessage(ctx context.Context, event slack.MessageEvent) error {
	start := time.Now()

	user, conv := s.resolveConversation(ctx, event)

	s.storeUserMessage(ctx, user, conv, event)

	history := s.buildHistory(ctx, conv, event)

	completion, err := s.completer.Complete(ctx, systemPrompt, history)
	if err != nil {
		s.metrics.RecordMessageProcessed("failed")
		s.metrics.RecordError("bot", string(errors.GetType(err)))
		s.logger.Error("Failed to produce completion",
			"channel", event.ChannelID,
			"user", event.UserID,
			"error", err.Error(),
		)
		return err
	}

	replyThread := event.ThreadTS
	if replyThread == "" {
		replyThread = event.MessageTS
	}

	if _, err := s.poster.PostMessage(ctx, event.ChannelID, completion.Text, replyThread); err != nil {
		s.metrics.RecordMessageProcessed("failed")
		s.metrics.RecordError("bot", string(errors.GetType(err)))
		s.logger.Error("Failed to post reply",
			"channel", event.ChannelID,
			"error", err.Error(),
		)
		return err
	}

	s.storeAssistantMessage(ctx, user, conv, completion, time.Since(start))

	status := "ok"
	if completion.Degraded {
		status = "degraded"
	}
	s.metrics.RecordMessageProcessed(status)

	s.logger.Info("Processed message",
		"channel", event.ChannelID,
		"user", event.UserID,
		"degraded", completion.Degraded,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// resolveConversation loads or creates the user and conversation records.
// Either may come back nil when persistence is unavailable.
func (s *Service) resolveConversation(ctx context.Context, event slack.MessageEvent) (*store.User, *store.Conversation) {
	if s.users == nil || s.conversations == nil {
		return nil, nil
	}

	userResult, err := s.callStore(ctx, func(ctx context.Context) (interface{}, error) {
		return s.users.GetOrCreate(ctx, event.UserID)
	})
	if err != nil {
		s.logger.Warn("Failed to resolve user, continuing without persistence",
			"slack_user_id", event.UserID,
			"error", err.Error(),
		)
		return nil, nil
	}
	user := userResult.(*store.User)

	// A missing conversation is expected, not a database failure
	convResult, err := s.callStore(ctx, func(ctx context.Context) (interface{}, error) {
		conv, err := s.conversations.FindActive(ctx, event.ChannelID, event.ThreadTS)
		if err != nil && errors.IsType(err, errors.ErrorTypeNotFound) {
			return (*store.Conversation)(nil), nil
		}
		return conv, err
	})
	if err != nil {
		s.logger.Warn("Failed to look up conversation, continuing without persistence",
			"channel", event.ChannelID,
			"error", err.Error(),
		)
		return user, nil
	}

	if conv := convResult.(*store.Conversation); conv != nil {
		if _, err := s.callStore(ctx, func(ctx context.Context) (interface{}, error) {
			return nil, s.conversations.Touch(ctx, conv.ID)
		}); err != nil {
			s.logger.Warn("Failed to touch conversation",
				"conversation_id", conv.ID.String(),
				"error", err.Error(),
			)
		}
		return user, conv
	}

	conv := &store.Conversation{
		UserID:         user.ID,
		SlackChannelID: event.ChannelID,
		SlackThreadTS:  event.ThreadTS,
		Type:           conversationType(event),
		Title:          conversationTitle(event.Text),
	}
	if _, err := s.callStore(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, s.conversations.Create(ctx, conv)
	}); err != nil {
		s.logger.Warn("Failed to create conversation, continuing without persistence",
			"channel", event.ChannelID,
			"error", err.Error(),
		)
		return user, nil
	}
	return user, conv
}

func (s *Service) storeUserMessage(ctx context.Context, user *store.User, conv *store.Conversation, event slack.MessageEvent) {
	if s.messages == nil || user == nil || conv == nil {
		return
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		UserID:         user.ID,
		SlackMessageTS: event.MessageTS,
		Type:           store.MessageTypeUser,
		Content:        event.Text,
	}
	if _, err := s.callStore(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, s.messages.Create(ctx, msg)
	}); err != nil {
		s.logger.Warn("Failed to store user message",
			"conversation_id", conv.ID.String(),
			"error", err.Error(),
		)
	}
}

func (s *Service) storeAssistantMessage(ctx context.Context, user *store.User, conv *store.Conversation, completion *llm.Completion, elapsed time.Duration) {
	if s.messages == nil || user == nil || conv == nil {
		return
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		UserID:         user.ID,
		Type:           store.MessageTypeAssistant,
		Content:        completion.Text,
		TokensUsed:     completion.InputTokens + completion.OutputTokens,
		ModelUsed:      completion.Model,
		ResponseTimeMS: elapsed.Milliseconds(),
	}
	if _, err := s.callStore(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, s.messages.Create(ctx, msg)
	}); err != nil {
		s.logger.Warn("Failed to store assistant message",
			"conversation_id", conv.ID.String(),
			"error", err.Error(),
		)
	}
}

// buildHistory turns stored conversation history into LLM turns. The
// current event text is always the final user turn even when history
// could not be loaded.
func (s *Service) buildHistory(ctx context.Context, conv *store.Conversation, event slack.MessageEvent) []llm.Message {
	if s.messages == nil || conv == nil {
		return []llm.Message{{Role: "user", Content: event.Text}}
	}

	listed, err := s.callStore(ctx, func(ctx context.Context) (interface{}, error) {
		return s.messages.ListRecent(ctx, conv.ID, s.historyLimit)
	})
	if err != nil {
		s.logger.Warn("Failed to load history",
			"conversation_id", conv.ID.String(),
			"error", err.Error(),
		)
		return []llm.Message{{Role: "user", Content: event.Text}}
	}
	stored := listed.([]*store.Message)

	history := make([]llm.Message, 0, len(stored)+1)
	for _, msg := range stored {
		switch msg.Type {
		case store.MessageTypeUser:
			history = append(history, llm.Message{Role: "user", Content: msg.Content})
		case store.MessageTypeAssistant:
			history = append(history, llm.Message{Role: "assistant", Content: msg.Content})
		}
	}

	if len(history) == 0 || history[len(history)-1].Role != "user" || history[len(history)-1].Content != event.Text {
		history = append(history, llm.Message{Role: "user", Content: event.Text})
	}
	return history
}

func conversationType(event slack.MessageEvent) string {
	if event.ThreadTS != "" {
		return store.ConversationTypeThread
	}
	if strings.HasPrefix(event.ChannelID, "D") {
		return store.ConversationTypeDM
	}
	return store.ConversationTypeChannel
}

// conversationTitle derives a short title from the opening message
func conversationTitle(text string) string {
	title := strings.TrimSpace(text)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	const maxTitle = 80
	if len(title) > maxTitle {
		cut := maxTitle
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = title[:cut]
	}
	return title
}
