package members

import (
	"context"
	"database/sql"
	"errors"
)

type MemberStore interface {
	GetByID(ctx context.Context, id int64) (*Member, error)
	List(ctx context.Context, role string, limit, offset int) ([]Member, error)
	Activate(ctx context.Context, id int64) (int64, error)
	// DeactivateIfNoOpenLoans clears is_active only when the member holds no
	// open loan; returns the number of rows updated.
	DeactivateIfNoOpenLoans(ctx context.Context, id int64) (int64, error)
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) MemberStore { return &Store{db: db} }

const memberSelect = `
	SELECT u.id, u.username, u.role, u.is_active, u.phone_number, u.address, u.created_at,
	       (SELECT COUNT(*) FROM loans l WHERE l.borrowed_by = u.id AND l.returned_at IS NULL) AS open_loans
	FROM users u`

func (s *Store) GetByID(ctx context.Context, id int64) (*Member, error) {
	q := memberSelect + ` WHERE u.id = ?`
	var m Member
	var isActiveInt int
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&m.MemberID, &m.Username, &m.Role, &isActiveInt,
		&m.PhoneNumber, &m.Address, &m.CreatedAt, &m.OpenLoans,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.IsActive = isActiveInt != 0
	return &m, nil
}

func (s *Store) List(ctx context.Context, role string, limit, offset int) ([]Member, error) {
	q := memberSelect
	var args []any
	if role != "" {
		q += ` WHERE u.role = ?`
		args = append(args, role)
	}
	q += ` ORDER BY u.username LIMIT ? OFFSET ?`
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]Member, 0, 16)
	for rows.Next() {
		var m Member
		var isActiveInt int
		if err := rows.Scan(&m.MemberID, &m.Username, &m.Role, &isActiveInt,
			&m.PhoneNumber, &m.Address, &m.CreatedAt, &m.OpenLoans); err != nil {
			return nil, err
		}
		m.IsActive = isActiveInt != 0
		res = append(res, m)
	}
	return res, rows.Err()
}

func (s *Store) Activate(ctx context.Context, id int64) (int64, error) {
	const q = `UPDATE users SET is_active = 1 WHERE id = ? AND is_active = 0`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeactivateIfNoOpenLoans(ctx context.Context, id int64) (int64, error) {
	// The NOT EXISTS guard keeps a concurrent checkout from slipping past a
	// pre-check: the deactivation only lands if no loan is open at update time.
	const q = `
		UPDATE users u
		SET u.is_active = 0
		WHERE u.id = ? AND u.is_active = 1
		  AND NOT EXISTS (
			SELECT 1 FROM loans l
			WHERE l.borrowed_by = u.id AND l.returned_at IS NULL
		  )`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
