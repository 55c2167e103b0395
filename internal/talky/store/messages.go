package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType tags who (or what) authored a message.
type MessageType string

const (
	// MessageTypeUser is a prompt written by the conversation owner.
	MessageTypeUser MessageType = "USER"
	// MessageTypeAI is a reply produced by the external responder.
	MessageTypeAI MessageType = "AI"
	// MessageTypeSummary is a compacted digest of earlier history.
	MessageTypeSummary MessageType = "SUMMARY"
)

// Message is a single immutable entry in a conversation's history.
// Messages are append-only: rows are never updated, only bulk-deleted during
// compaction or when the owning conversation is removed.
type Message struct {
	ID             int64
	ConversationID uuid.UUID
	Type           MessageType
	Content        string
	CreatedAt      time.Time
}

// AppendMessage appends a message to a conversation. The timestamp is
// assigned at write time; the autoincrement id makes insertion order total
// even for writes landing in the same nanosecond.
func (s *Store) AppendMessage(ctx context.Context, conversationID uuid.UUID, typ MessageType, content string) (*Message, error) {
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, type, content, created_at)
		VALUES (?, ?, ?, ?)
	`, conversationID.String(), string(typ), content, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get message id: %w", err)
	}

	return &Message{
		ID:             id,
		ConversationID: conversationID,
		Type:           typ,
		Content:        content,
		CreatedAt:      now,
	}, nil
}

// ListMessages returns the full history of a conversation, oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, conversation_id, type, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`, conversationID.String())
}

// ListRecentMessages returns the n most recent messages of a conversation,
// NEWEST FIRST. Callers that present history chronologically must reverse
// the slice themselves; the storage order is part of this contract.
func (s *Store) ListRecentMessages(ctx context.Context, conversationID uuid.UUID, n int) ([]*Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, conversation_id, type, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, conversationID.String(), n)
}

// ListMessagesByType returns all messages of the given type in a
// conversation, oldest first.
func (s *Store) ListMessagesByType(ctx context.Context, conversationID uuid.UUID, typ MessageType) ([]*Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, conversation_id, type, content, created_at
		FROM messages
		WHERE conversation_id = ? AND type = ?
		ORDER BY created_at ASC, id ASC
	`, conversationID.String(), string(typ))
}

// CountMessages returns the number of messages in a conversation.
func (s *Store) CountMessages(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ?",
		conversationID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// DeleteMessages removes the messages with the given ids in one statement.
// Ids that no longer exist are ignored.
func (s *Store) DeleteMessages(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE id IN ("+placeholders+")", args...,
	)
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// DeleteMessagesByConversation removes every message in a conversation.
func (s *Store) DeleteMessagesByConversation(ctx context.Context, conversationID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE conversation_id = ?", conversationID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete conversation messages: %w", err)
	}
	return nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var (
			msg       Message
			convID    string
			typ       string
			createdNS int64
		)
		if err := rows.Scan(&msg.ID, &convID, &typ, &msg.Content, &createdNS); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		parsed, err := uuid.Parse(convID)
		if err != nil {
			return nil, fmt.Errorf("malformed conversation id %q: %w", convID, err)
		}
		msg.ConversationID = parsed
		msg.Type = MessageType(typ)
		msg.CreatedAt = time.Unix(0, createdNS)
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return msgs, nil
}
