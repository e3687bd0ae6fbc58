package auth

import (
	"context"
	"database/sql"
	"errors"
)

type Account struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	IsActive     bool
}

type AccountStore interface {
	GetByUsername(ctx context.Context, username string) (*Account, error)
	Create(ctx context.Context, a *Account) error
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) AccountStore {
	return &Store{db: db}
}

func (s *Store) GetByUsername(ctx context.Context, username string) (*Account, error) {
	const q = `
SELECT id, username, password_hash, role, is_active
FROM users
WHERE username = ?
LIMIT 1
`
	var a Account
	var isActiveInt int
	err := s.db.QueryRowContext(ctx, q, username).Scan(
		&a.ID,
		&a.Username,
		&a.PasswordHash,
		&a.Role,
		&isActiveInt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.IsActive = isActiveInt != 0
	return &a, nil
}

func (s *Store) Create(ctx context.Context, a *Account) error {
	const q = `
INSERT INTO users (username, password_hash, role, is_active)
VALUES (?, ?, ?, 1)
`
	res, err := s.db.ExecContext(ctx, q, a.Username, a.PasswordHash, a.Role)
	if err != nil {
		return err
	}
	a.ID, err = res.LastInsertId()
	return err
}
