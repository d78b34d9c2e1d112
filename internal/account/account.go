// Package account provides PostgreSQL-backed storage for accounts, their
// block/favorite relationships, and the talk counters fed by scoring.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when the referenced account does not exist.
var ErrNotFound = errors.New("account: not found")

// Account is a registered account. Accounts are pseudonymous: Name is a
// display handle, not an identity.
type Account struct {
	ID                string
	Name              string
	Gender            string
	DeviceToken       string // empty when the account has no push registration
	IsBanned          bool
	NumOfOwner        int // talks closed as the room owner
	NumOfParticipated int // talks closed as a participant
	Exp               int
	Level             int
	CreatedAt         time.Time
}

// Store manages accounts in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates an account store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const accountColumns = `id, name, gender, device_token, is_banned,
	num_of_owner, num_of_participated, exp, level, created_at`

// Get loads a single account, or ErrNotFound.
func (s *Store) Get(ctx context.Context, accountID string) (*Account, error) {
	a := &Account{}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID,
	).Scan(&a.ID, &a.Name, &a.Gender, &a.DeviceToken, &a.IsBanned,
		&a.NumOfOwner, &a.NumOfParticipated, &a.Exp, &a.Level, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account: load %s: %w", accountID, err)
	}
	return a, nil
}

// Create inserts a new account with zeroed counters.
func (s *Store) Create(ctx context.Context, a *Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Level == 0 {
		a.Level = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, gender, device_token, is_banned,
		                      num_of_owner, num_of_participated, exp, level, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, 0, $6, $7)`,
		a.ID, a.Name, a.Gender, a.DeviceToken, a.IsBanned, a.Level, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("account: create %s: %w", a.ID, err)
	}
	return nil
}

// SetBanned freezes or unfreezes the account.
func (s *Store) SetBanned(ctx context.Context, accountID string, banned bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET is_banned = $2 WHERE id = $1`, accountID, banned)
	if err != nil {
		return fmt.Errorf("account: set banned %s: %w", accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Relationship reports how the other account stands toward the subject:
// blocked is true when either side has blocked the other, favorited when the
// other account has favorited the subject.
func (s *Store) Relationship(ctx context.Context, subjectID, otherID string) (blocked, favorited bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM account_blocks
			        WHERE (blocker_id = $1 AND blocked_id = $2)
			           OR (blocker_id = $2 AND blocked_id = $1)),
			EXISTS (SELECT 1 FROM account_favorites
			        WHERE account_id = $2 AND favorite_id = $1)`,
		subjectID, otherID,
	).Scan(&blocked, &favorited)
	if err != nil {
		return false, false, fmt.Errorf("account: relationship %s/%s: %w", subjectID, otherID, err)
	}
	return blocked, favorited, nil
}

// FavoritesOf returns the accounts that have favorited the given account,
// excluding anyone with a block in either direction. Used to pick the
// audience for private-room notifications.
func (s *Store) FavoritesOf(ctx context.Context, accountID string) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts a
		JOIN account_favorites f ON f.account_id = a.id
		WHERE f.favorite_id = $1
		  AND NOT EXISTS (
		      SELECT 1 FROM account_blocks b
		      WHERE (b.blocker_id = a.id AND b.blocked_id = $1)
		         OR (b.blocker_id = $1 AND b.blocked_id = a.id))`, accountID)
	if err != nil {
		return nil, fmt.Errorf("account: favorites of %s: %w", accountID, err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Gender, &a.DeviceToken, &a.IsBanned,
			&a.NumOfOwner, &a.NumOfParticipated, &a.Exp, &a.Level, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("account: scan favorite: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account: iterate favorites: %w", err)
	}
	return accounts, nil
}

// GrantTalkCredit increments the owner or participant talk counter, adds the
// earned experience, and returns the updated account.
func (s *Store) GrantTalkCredit(ctx context.Context, accountID string, asOwner bool, exp int) (*Account, error) {
	column := "num_of_participated"
	if asOwner {
		column = "num_of_owner"
	}

	a := &Account{}
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE accounts
		SET %s = %s + 1, exp = exp + $2
		WHERE id = $1
		RETURNING `+accountColumns, column, column), accountID, exp,
	).Scan(&a.ID, &a.Name, &a.Gender, &a.DeviceToken, &a.IsBanned,
		&a.NumOfOwner, &a.NumOfParticipated, &a.Exp, &a.Level, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account: grant talk credit %s: %w", accountID, err)
	}
	return a, nil
}

// SetLevel stores a recomputed level.
func (s *Store) SetLevel(ctx context.Context, accountID string, level int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET level = $2 WHERE id = $1`, accountID, level)
	if err != nil {
		return fmt.Errorf("account: set level %s: %w", accountID, err)
	}
	return nil
}
