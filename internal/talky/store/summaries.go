package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Summary is the compacted digest of a conversation's older history.
// At most one row exists per conversation at any time; ReplaceSummary
// enforces this by deleting the prior row in the same transaction, and the
// UNIQUE index on conversation_id backs it up at the schema level.
type Summary struct {
	ID             int64
	ConversationID uuid.UUID
	Summary        string
	CreatedAt      time.Time
}

// ReplaceSummary atomically swaps a conversation's summary: any existing row
// is deleted and the new one inserted inside a single transaction, so no two
// summary rows ever coexist.
func (s *Store) ReplaceSummary(ctx context.Context, conversationID uuid.UUID, text string) (*Summary, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM conversation_summaries WHERE conversation_id = ?",
		conversationID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete prior summary: %w", err)
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_summaries (conversation_id, summary, created_at)
		VALUES (?, ?, ?)
	`, conversationID.String(), text, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to insert summary: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get summary id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit summary: %w", err)
	}

	return &Summary{
		ID:             id,
		ConversationID: conversationID,
		Summary:        text,
		CreatedAt:      now,
	}, nil
}

// LatestSummary returns the conversation's current summary, or ErrNotFound
// when none has been generated yet.
func (s *Store) LatestSummary(ctx context.Context, conversationID uuid.UUID) (*Summary, error) {
	var (
		sum       Summary
		convID    string
		createdNS int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, summary, created_at
		FROM conversation_summaries
		WHERE conversation_id = ?
	`, conversationID.String()).Scan(&sum.ID, &convID, &sum.Summary, &createdNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}

	parsed, err := uuid.Parse(convID)
	if err != nil {
		return nil, fmt.Errorf("malformed conversation id %q: %w", convID, err)
	}
	sum.ConversationID = parsed
	sum.CreatedAt = time.Unix(0, createdNS)
	return &sum, nil
}

// CountSummaries returns the number of summary rows held by a conversation.
// Used by tests to assert the at-most-one invariant.
func (s *Store) CountSummaries(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conversation_summaries WHERE conversation_id = ?",
		conversationID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count summaries: %w", err)
	}
	return count, nil
}
