package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store persists messages and their per-account delivery marks in PostgreSQL.
// Marks live in junction tables with idempotent inserts, so re-marking is
// harmless and marks never regress.
type Store struct {
	db *sql.DB
}

// NewStore creates a message store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Persist inserts a new message. A reused id fails with ErrDuplicateID and
// leaves the original message untouched.
func (s *Store) Persist(ctx context.Context, m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, sender_id, text, is_leave_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.RoomID, m.SenderID, m.Text, m.IsLeaveMessage, m.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicateID
		}
		return fmt.Errorf("message: persist %s: %w", m.ID, err)
	}
	return nil
}

// MarkStored records that the account's device has stored the message.
func (s *Store) MarkStored(ctx context.Context, messageID, accountID string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, messageID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("message: check %s: %w", messageID, err)
	}
	if !exists {
		return ErrNotFound
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO message_stored_marks (message_id, account_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, messageID, accountID)
	if err != nil {
		return fmt.Errorf("message: mark stored %s: %w", messageID, err)
	}
	return nil
}

// MarkStoredByRoom marks every message in the room as stored for the account.
func (s *Store) MarkStoredByRoom(ctx context.Context, roomID, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_stored_marks (message_id, account_id)
		SELECT id, $2 FROM messages WHERE room_id = $1
		ON CONFLICT DO NOTHING`, roomID, accountID)
	if err != nil {
		return fmt.Errorf("message: mark stored by room %s: %w", roomID, err)
	}
	return nil
}

// MarkReadAll marks every message in the room as read for the account.
func (s *Store) MarkReadAll(ctx context.Context, roomID, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_read_marks (message_id, account_id)
		SELECT id, $2 FROM messages WHERE room_id = $1
		ON CONFLICT DO NOTHING`, roomID, accountID)
	if err != nil {
		return fmt.Errorf("message: mark read by room %s: %w", roomID, err)
	}
	return nil
}

// Backlog returns the room's messages the account has not stored yet,
// ascending by creation time. Sent on reconnect so the client can catch up.
func (s *Store) Backlog(ctx context.Context, roomID, accountID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.room_id, m.sender_id, m.text, m.is_leave_message, m.created_at
		FROM messages m
		WHERE m.room_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM message_stored_marks sm
			WHERE sm.message_id = m.id AND sm.account_id = $2
		  )
		ORDER BY m.created_at ASC`, roomID, accountID)
	if err != nil {
		return nil, fmt.Errorf("message: backlog for room %s: %w", roomID, err)
	}
	defer rows.Close()

	var backlog []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Text, &m.IsLeaveMessage, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("message: scan backlog row: %w", err)
		}
		backlog = append(backlog, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: iterate backlog: %w", err)
	}
	return backlog, nil
}

// UnreadTotal counts the account's unread messages across every room it
// belongs to, excluding its own messages. Used as the push notification badge.
func (s *Store) UnreadTotal(ctx context.Context, accountID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN rooms r ON r.id = m.room_id
		WHERE m.sender_id <> $1
		  AND (r.owner_id = $1 OR EXISTS (
			SELECT 1 FROM room_participants rp
			WHERE rp.room_id = r.id AND rp.account_id = $1
		  ))
		  AND NOT EXISTS (
			SELECT 1 FROM message_read_marks rm
			WHERE rm.message_id = m.id AND rm.account_id = $1
		  )`, accountID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("message: unread total for %s: %w", accountID, err)
	}
	return total, nil
}
