package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/devassist/devassist/pkg/errors"
)

// UserRepository handles user database operations
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, slack_user_id, real_name, display_name, email, team_id, timezone, is_admin, is_bot, created_at, updated_at)
		VALUES (:id, :slack_user_id, :real_name, :display_name, :email, :team_id, :timezone, :is_admin, :is_bot, :created_at, :updated_at)`

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()

	_, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		return errors.NewDatabaseError("failed to create user").WithCause(err)
	}

	return nil
}

// GetBySlackID retrieves a user by their Slack user ID
func (r *UserRepository) GetBySlackID(ctx context.Context, slackUserID string) (*User, error) {
	var user User
	query := `SELECT * FROM users WHERE slack_user_id = $1`

	err := r.db.GetContext(ctx, &user, query, slackUserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("user")
		}
		return nil, errors.NewDatabaseError("failed to get user by slack ID").WithCause(err)
	}

	return &user, nil
}

// GetOrCreate retrieves a user by Slack ID, creating a minimal record if absent
func (r *UserRepository) GetOrCreate(ctx context.Context, slackUserID string) (*User, error) {
	user, err := r.GetBySlackID(ctx, slackUserID)
	if err == nil {
		return user, nil
	}
	if !errors.IsType(err, errors.ErrorTypeNotFound) {
		return nil, err
	}

	user = &User{SlackUserID: slackUserID}
	if err := r.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Update updates a user's profile fields
func (r *UserRepository) Update(ctx context.Context, user *User) error {
	query := `
		UPDATE users
		SET real_name = :real_name, display_name = :display_name, email = :email,
		    timezone = :timezone, updated_at = NOW()
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		return errors.NewDatabaseError("failed to update user").WithCause(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewDatabaseError("failed to get rows affected").WithCause(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFoundError("user")
	}

	return nil
}

// ConversationRepository handles conversation database operations
type ConversationRepository struct {
	db *DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create creates a new conversation
func (r *ConversationRepository) Create(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, slack_channel_id, slack_thread_ts, conversation_type, title, status, created_at, updated_at, last_activity_at)
		VALUES (:id, :user_id, :slack_channel_id, :slack_thread_ts, :conversation_type, :title, :status, :created_at, :updated_at, :last_activity_at)`

	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	if conv.Status == "" {
		conv.Status = ConversationStatusActive
	}
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	conv.LastActivityAt = now

	_, err := r.db.NamedExecContext(ctx, query, conv)
	if err != nil {
		return errors.NewDatabaseError("failed to create conversation").WithCause(err)
	}

	return nil
}

// GetByID retrieves a conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	var conv Conversation
	query := `SELECT * FROM conversations WHERE id = $1`

	err := r.db.GetContext(ctx, &conv, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("conversation")
		}
		return nil, errors.NewDatabaseError("failed to get conversation").WithCause(err)
	}

	return &conv, nil
}

// FindActive locates the active conversation for a channel and thread
func (r *ConversationRepository) FindActive(ctx context.Context, channelID, threadTS string) (*Conversation, error) {
	var conv Conversation
	query := `
		SELECT * FROM conversations
		WHERE slack_channel_id = $1 AND slack_thread_ts = $2 AND status = $3
		ORDER BY last_activity_at DESC
		LIMIT 1`

	err := r.db.GetContext(ctx, &conv, query, channelID, threadTS, ConversationStatusActive)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("conversation")
		}
		return nil, errors.NewDatabaseError("failed to find conversation").WithCause(err)
	}

	return &conv, nil
}

// Touch bumps the conversation's last activity timestamp
func (r *ConversationRepository) Touch(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE conversations SET last_activity_at = NOW(), updated_at = NOW() WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return errors.NewDatabaseError("failed to touch conversation").WithCause(err)
	}
	return nil
}

// Archive marks a conversation archived
func (r *ConversationRepository) Archive(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE conversations SET status = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, ConversationStatusArchived)
	if err != nil {
		return errors.NewDatabaseError("failed to archive conversation").WithCause(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewDatabaseError("failed to get rows affected").WithCause(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFoundError("conversation")
	}

	return nil
}

// MessageRepository handles message database operations
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create stores a message
func (r *MessageRepository) Create(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, user_id, slack_message_ts, message_type, content, tokens_used, model_used, response_time_ms, created_at)
		VALUES (:id, :conversation_id, :user_id, :slack_message_ts, :message_type, :content, :tokens_used, :model_used, :response_time_ms, :created_at)`

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = time.Now()

	_, err := r.db.NamedExecContext(ctx, query, msg)
	if err != nil {
		return errors.NewDatabaseError("failed to create message").WithCause(err)
	}

	return nil
}

// ListRecent returns the newest messages of a conversation, oldest first
func (r *MessageRepository) ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 20
	}

	var messages []*Message
	query := `
		SELECT * FROM (
			SELECT * FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent ORDER BY created_at ASC`

	err := r.db.SelectContext(ctx, &messages, query, conversationID, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to list messages").WithCause(err)
	}

	return messages, nil
}

// CountByConversation returns the number of stored messages in a conversation
func (r *MessageRepository) CountByConversation(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM messages WHERE conversation_id = $1`

	err := r.db.GetContext(ctx, &count, query, conversationID)
	if err != nil {
		return 0, errors.NewDatabaseError("failed to count messages").WithCause(err)
	}

	return count, nil
}
