package store

import (
	"time"

	"github.com/google/uuid"
)

// Conversation classification
const (
	ConversationTypeDM      = "dm"
	ConversationTypeChannel = "channel"
	ConversationTypeThread  = "thread"

	ConversationStatusActive   = "active"
	ConversationStatusArchived = "archived"
)

// Message roles
const (
	MessageTypeUser      = "user"
	MessageTypeAssistant = "assistant"
	MessageTypeSystem    = "system"
)

// User is a Slack workspace member known to the bot
type User struct {
	ID          uuid.UUID `db:"id" json:"id"`
	SlackUserID string    `db:"slack_user_id" json:"slack_user_id"`
	RealName    string    `db:"real_name" json:"real_name"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Email       string    `db:"email" json:"email"`
	TeamID      string    `db:"team_id" json:"team_id"`
	Timezone    string    `db:"timezone" json:"timezone"`
	IsAdmin     bool      `db:"is_admin" json:"is_admin"`
	IsBot       bool      `db:"is_bot" json:"is_bot"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Conversation groups the messages exchanged in one DM, channel, or thread
type Conversation struct {
	ID             uuid.UUID `db:"id" json:"id"`
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	SlackChannelID string    `db:"slack_channel_id" json:"slack_channel_id"`
	SlackThreadTS  string    `db:"slack_thread_ts" json:"slack_thread_ts"`
	Type           string    `db:"conversation_type" json:"conversation_type"`
	Title          string    `db:"title" json:"title"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
}

// Message is one exchanged message, user or assistant
type Message struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ConversationID uuid.UUID `db:"conversation_id" json:"conversation_id"`
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	SlackMessageTS string    `db:"slack_message_ts" json:"slack_message_ts"`
	Type           string    `db:"message_type" json:"message_type"`
	Content        string    `db:"content" json:"content"`
	TokensUsed     int       `db:"tokens_used" json:"tokens_used"`
	ModelUsed      string    `db:"model_used" json:"model_used"`
	ResponseTimeMS int64     `db:"response_time_ms" json:"response_time_ms"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
