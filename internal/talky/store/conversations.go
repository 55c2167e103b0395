package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is used when a conversation is created without a title.
const DefaultTitle = "New conversation"

var (
	// ErrConversationLimit is returned when the owner already holds the
	// maximum number of conversations.
	ErrConversationLimit = errors.New("store: conversation limit reached")

	// ErrTitleConflict is returned when a rename would duplicate a title the
	// owner already uses.
	ErrTitleConflict = errors.New("store: conversation title already in use")
)

// Conversation is a bounded chat thread owned by a single user.
type Conversation struct {
	ID        uuid.UUID
	UserID    string
	Title     string
	Mode      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateConversation inserts a new conversation for userID. The count check,
// unique-title generation, and insert run in a single transaction so a burst
// of creates cannot slip past the per-owner cap or collide on a title.
//
// When the requested title (or the default, if title is empty) is already in
// use by the owner, the smallest unused " 2", " 3", ... suffix is appended;
// numbers freed by deletion are reused.
func (s *Store) CreateConversation(ctx context.Context, userID, title, mode string, maxPerUser int) (*Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conversations WHERE user_id = ?", userID,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}
	if maxPerUser > 0 && count >= maxPerUser {
		return nil, ErrConversationLimit
	}

	existing, err := ownerTitles(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSpace(title)
	if base == "" {
		base = DefaultTitle
	}

	now := time.Now()
	conv := &Conversation{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     uniqueTitle(base, existing),
		Mode:      mode,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, conv.ID.String(), conv.UserID, conv.Title, conv.Mode,
		conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit conversation: %w", err)
	}

	return conv, nil
}

// GetConversation retrieves a conversation by id. Returns ErrNotFound when
// no such conversation exists.
func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	conv, err := scanConversation(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, mode, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// ListConversationsByUser returns all conversations owned by userID,
// most recently created first.
func (s *Store) ListConversationsByUser(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, mode, created_at, updated_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}

	return convs, nil
}

// CountConversationsByUser returns the number of conversations userID owns.
func (s *Store) CountConversationsByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conversations WHERE user_id = ?", userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return count, nil
}

// CountConversations returns the total number of conversations in the store.
// Used by the status endpoint.
func (s *Store) CountConversations(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return count, nil
}

// RenameConversation updates a conversation's title. Returns ErrTitleConflict
// when another conversation of the same owner already carries newTitle, and
// ErrNotFound when the conversation does not exist.
func (s *Store) RenameConversation(ctx context.Context, id uuid.UUID, newTitle string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx,
		"SELECT user_id FROM conversations WHERE id = ?", id.String(),
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get conversation: %w", err)
	}

	var conflicts int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conversations WHERE user_id = ? AND title = ? AND id != ?",
		userID, newTitle, id.String(),
	).Scan(&conflicts)
	if err != nil {
		return fmt.Errorf("failed to check title: %w", err)
	}
	if conflicts > 0 {
		return ErrTitleConflict
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?",
		newTitle, time.Now().UnixNano(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rename: %w", err)
	}
	return nil
}

// TouchConversation bumps a conversation's updated_at to now.
func (s *Store) TouchConversation(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?",
		time.Now().UnixNano(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation. Its messages and summary are
// removed by the ON DELETE CASCADE foreign keys. Returns ErrNotFound when
// the conversation does not exist.
func (s *Store) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM conversations WHERE id = ?", id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ownerTitles loads the set of titles userID currently uses, inside tx.
func ownerTitles(ctx context.Context, tx *sql.Tx, userID string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT title FROM conversations WHERE user_id = ?", userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load titles: %w", err)
	}
	defer rows.Close()

	titles := make(map[string]bool)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan title: %w", err)
		}
		titles[t] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating titles: %w", err)
	}
	return titles, nil
}

// uniqueTitle picks the first free title among base, "base 2", "base 3", ...
// Numbers freed by deletion are reused, so deleting "base 2" and creating
// again yields "base 2" rather than "base 4".
func uniqueTitle(base string, existing map[string]bool) string {
	if !existing[base] {
		return base
	}

	// Find the highest numeric suffix currently in use so the scan below has
	// an upper bound even when every slot is taken.
	maxNum := 1
	prefix := base + " "
	for t := range existing {
		if !strings.HasPrefix(t, prefix) {
			continue
		}
		if n, err := strconv.Atoi(t[len(prefix):]); err == nil && n > maxNum {
			maxNum = n
		}
	}

	for i := 2; i <= maxNum+1; i++ {
		candidate := prefix + strconv.Itoa(i)
		if !existing[candidate] {
			return candidate
		}
	}

	return prefix + strconv.Itoa(maxNum+1)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		conv               Conversation
		id                 string
		createdNS, updated int64
	)
	if err := row.Scan(&id, &conv.UserID, &conv.Title, &conv.Mode, &createdNS, &updated); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("malformed conversation id %q: %w", id, err)
	}
	conv.ID = parsed
	conv.CreatedAt = time.Unix(0, createdNS)
	conv.UpdatedAt = time.Unix(0, updated)
	return &conv, nil
}
