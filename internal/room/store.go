package room

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store is the persistence contract for room lifecycle transitions. Every
// mutation is atomic with respect to its precondition check: two concurrent
// Leave calls on the same room cannot both observe "not yet ended", and two
// concurrent Join calls cannot both pass the capacity check.
type Store interface {
	// Create inserts a new room. It fails with ConflictDuplicateOpenRoom if
	// the owner already owns a non-ended room.
	Create(ctx context.Context, room *Room) error

	// Get loads a room with all three membership sets, or ErrNotFound.
	Get(ctx context.Context, roomID string) (*Room, error)

	// ActiveRoomFor returns the active room the account currently belongs to
	// as owner or participant, or nil when there is none. A room stays an
	// account's current room until the account closes it, even after the talk
	// ended.
	ActiveRoomFor(ctx context.Context, accountID string) (*Room, error)

	// Join adds the account to the participant set. ShouldStartTalk is true
	// when this was the first participant.
	Join(ctx context.Context, roomID, accountID string) (JoinResult, error)

	// Leave adds the account to the left-member set. Ended is true only for
	// the single call that flipped is_end.
	Leave(ctx context.Context, roomID, accountID string) (LeaveResult, error)

	// Close adds the account to the closed-member set. Deactivated is true
	// only for the single call that flipped is_active to false.
	Close(ctx context.Context, roomID, accountID string) (CloseResult, error)
}

// JoinResult is the outcome of a successful Join.
type JoinResult struct {
	Room            *Room
	ShouldStartTalk bool
}

// LeaveResult is the outcome of a successful Leave.
type LeaveResult struct {
	Room  *Room
	Ended bool
}

// CloseResult is the outcome of a successful Close.
type CloseResult struct {
	Room        *Room
	Deactivated bool
}

// PGStore implements Store on PostgreSQL. Preconditions and mutations run in
// a single transaction with the room row locked, so check-then-act is one
// unit. Membership sets live in junction tables with idempotent inserts.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a room store backed by the given database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, room *Room) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("room: begin create: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM rooms WHERE owner_id = $1 AND NOT is_end)`,
		room.OwnerID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("room: check open room: %w", err)
	}
	if exists {
		return conflictDuplicateOpenRoom()
	}

	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	room.IsActive = true

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (id, name, owner_id, max_participants, is_private,
		                   is_exclude_different_gender, created_at, is_end, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, TRUE)`,
		room.ID, room.Name, room.OwnerID, room.MaxParticipants,
		room.IsPrivate, room.IsExcludeDifferentGender, room.CreatedAt,
	)
	if err != nil {
		// The partial unique index on (owner_id) WHERE NOT is_end backstops
		// the precondition under concurrent creates.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return conflictDuplicateOpenRoom()
		}
		return fmt.Errorf("room: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("room: commit create: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, roomID string) (*Room, error) {
	room, err := scanRoom(ctx, s.db, roomID, false)
	if err != nil {
		return nil, err
	}
	if err := loadMembers(ctx, s.db, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *PGStore) ActiveRoomFor(ctx context.Context, accountID string) (*Room, error) {
	var roomID string
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id FROM rooms r
		WHERE r.is_active
		  AND (r.owner_id = $1 OR EXISTS (
		      SELECT 1 FROM room_participants rp
		      WHERE rp.room_id = r.id AND rp.account_id = $1))
		  AND NOT EXISTS (
		      SELECT 1 FROM room_closed_members rc
		      WHERE rc.room_id = r.id AND rc.account_id = $1)
		ORDER BY r.created_at DESC
		LIMIT 1`, accountID,
	).Scan(&roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("room: find active room for %s: %w", accountID, err)
	}
	return s.Get(ctx, roomID)
}

func (s *PGStore) Join(ctx context.Context, roomID, accountID string) (JoinResult, error) {
	var result JoinResult

	err := s.withRoomLocked(ctx, roomID, func(tx *sql.Tx, room *Room) error {
		if room.IsEnd {
			return conflictRoomEnded()
		}
		if room.OwnerID == accountID {
			return conflictOwnerJoin()
		}
		if room.IsParticipant(accountID) {
			return conflictAlreadyParticipant()
		}
		if len(room.Participants) >= room.MaxParticipants {
			return conflictRoomFull(room.MaxParticipants)
		}

		var elsewhere bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM room_participants rp
				JOIN rooms r ON r.id = rp.room_id
				WHERE rp.account_id = $1 AND NOT r.is_end AND r.id <> $2
			)`, accountID, roomID,
		).Scan(&elsewhere)
		if err != nil {
			return fmt.Errorf("room: check other participation: %w", err)
		}
		if elsewhere {
			return conflictOtherRoom()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO room_participants (room_id, account_id, joined_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT DO NOTHING`, roomID, accountID)
		if err != nil {
			return fmt.Errorf("room: add participant: %w", err)
		}

		room.Participants = append(room.Participants, accountID)
		result = JoinResult{
			Room:            room,
			ShouldStartTalk: len(room.Participants) == 1,
		}
		return nil
	})
	return result, err
}

func (s *PGStore) Leave(ctx context.Context, roomID, accountID string) (LeaveResult, error) {
	var result LeaveResult

	err := s.withRoomLocked(ctx, roomID, func(tx *sql.Tx, room *Room) error {
		if !room.IsMember(accountID) {
			return ErrNotMember
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO room_left_members (room_id, account_id, left_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT DO NOTHING`, roomID, accountID)
		if err != nil {
			return fmt.Errorf("room: add left member: %w", err)
		}
		if !contains(room.LeftMembers, accountID) {
			room.LeftMembers = append(room.LeftMembers, accountID)
		}

		// is_end flips exactly once: the row lock means only one caller can
		// observe is_end=false here.
		if !room.IsEnd {
			_, err = tx.ExecContext(ctx,
				`UPDATE rooms SET is_end = TRUE WHERE id = $1`, roomID)
			if err != nil {
				return fmt.Errorf("room: end room: %w", err)
			}
			room.IsEnd = true
			result.Ended = true
		}

		result.Room = room
		return nil
	})
	return result, err
}

func (s *PGStore) Close(ctx context.Context, roomID, accountID string) (CloseResult, error) {
	var result CloseResult

	err := s.withRoomLocked(ctx, roomID, func(tx *sql.Tx, room *Room) error {
		if !room.IsMember(accountID) {
			return ErrNotMember
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO room_closed_members (room_id, account_id, closed_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT DO NOTHING`, roomID, accountID)
		if err != nil {
			return fmt.Errorf("room: add closed member: %w", err)
		}
		if !contains(room.ClosedMembers, accountID) {
			room.ClosedMembers = append(room.ClosedMembers, accountID)
		}

		// The +1 is the owner, who is not in the participant set.
		if room.IsActive && len(room.ClosedMembers) == len(room.Participants)+1 {
			_, err = tx.ExecContext(ctx,
				`UPDATE rooms SET is_active = FALSE WHERE id = $1`, roomID)
			if err != nil {
				return fmt.Errorf("room: deactivate room: %w", err)
			}
			room.IsActive = false
			result.Deactivated = true
		}

		result.Room = room
		return nil
	})
	return result, err
}

// withRoomLocked runs fn inside a transaction with the room row locked
// (SELECT ... FOR UPDATE) and its membership sets loaded. Returning an error
// from fn rolls everything back.
func (s *PGStore) withRoomLocked(ctx context.Context, roomID string, fn func(tx *sql.Tx, room *Room) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("room: begin: %w", err)
	}
	defer tx.Rollback()

	room, err := scanRoom(ctx, tx, roomID, true)
	if err != nil {
		return err
	}
	if err := loadMembers(ctx, tx, room); err != nil {
		return err
	}

	if err := fn(tx, room); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("room: commit: %w", err)
	}
	return nil
}

// querier covers both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func scanRoom(ctx context.Context, q querier, roomID string, forUpdate bool) (*Room, error) {
	query := `
		SELECT id, name, owner_id, max_participants, is_private,
		       is_exclude_different_gender, created_at, is_end, is_active
		FROM rooms WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	room := &Room{}
	err := q.QueryRowContext(ctx, query, roomID).Scan(
		&room.ID, &room.Name, &room.OwnerID, &room.MaxParticipants,
		&room.IsPrivate, &room.IsExcludeDifferentGender,
		&room.CreatedAt, &room.IsEnd, &room.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("room: load %s: %w", roomID, err)
	}
	return room, nil
}

func loadMembers(ctx context.Context, q querier, room *Room) error {
	sets := []struct {
		table string
		dst   *[]string
	}{
		{"room_participants", &room.Participants},
		{"room_left_members", &room.LeftMembers},
		{"room_closed_members", &room.ClosedMembers},
	}

	for _, set := range sets {
		rows, err := q.QueryContext(ctx, fmt.Sprintf(
			`SELECT account_id FROM %s WHERE room_id = $1 ORDER BY account_id`, set.table), room.ID)
		if err != nil {
			return fmt.Errorf("room: load %s: %w", set.table, err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("room: scan %s: %w", set.table, err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("room: iterate %s: %w", set.table, err)
		}
		rows.Close()
		*set.dst = ids
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
