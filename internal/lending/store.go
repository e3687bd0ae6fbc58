package lending

import (
	"context"
	"database/sql"
	"errors"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"biblio-backend/internal/platform/db"
)

// LedgerStore is the storage contract of the borrowing engine. CreateLoan and
// CloseLoan are atomic units: both sides of the copy/loan transition commit
// together or not at all.
type LedgerStore interface {
	GetCopyByBarcode(ctx context.Context, barcode string) (*CopyInfo, error)
	GetMemberByID(ctx context.Context, id int64) (*MemberInfo, error)
	GetMemberByUsername(ctx context.Context, username string) (*MemberInfo, error)
	CountOpenLoans(ctx context.Context, memberID int64) (int, error)
	HasOpenTitleLoan(ctx context.Context, memberID, bookID int64) (bool, error)

	// CreateLoan transitions the copy to borrowed and inserts the open loan.
	// Fails with a COPY_UNAVAILABLE conflict if the copy is not available at
	// commit time, no matter what a pre-check observed.
	CreateLoan(ctx context.Context, loan *Loan) error

	// CloseLoan stamps returned_at and the fine on an open loan and moves the
	// copy to copyStatus (available on return, lost on lost-while-borrowed).
	CloseLoan(ctx context.Context, loanID int64, returnedAt time.Time, fine decimal.Decimal, copyID int64, copyStatus string) error

	// MarkFineCollected flips fine_collected on a closed loan with an
	// uncollected positive fine; reports the number of rows updated.
	MarkFineCollected(ctx context.Context, loanID int64) (int64, error)

	GetLoanByID(ctx context.Context, id int64) (*Loan, error)
	GetLoanByULID(ctx context.Context, ulid string) (*Loan, error)
	ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error)

	GetPolicy(ctx context.Context) (*Policy, error)
	UpdatePolicy(ctx context.Context, p *Policy) error
}

type Store struct{ db *sql.DB }

func NewStore(sqlDB *sql.DB) LedgerStore { return &Store{db: sqlDB} }

// ===== lookups =====

func (s *Store) GetCopyByBarcode(ctx context.Context, barcode string) (*CopyInfo, error) {
	const q = `
		SELECT c.id, c.book_id, c.barcode, c.status, b.title, b.is_archived
		FROM book_copies c
		JOIN books b ON b.id = c.book_id
		WHERE c.barcode = ?`
	var ci CopyInfo
	var archivedInt int
	err := s.db.QueryRowContext(ctx, q, barcode).Scan(
		&ci.CopyID, &ci.BookID, &ci.Barcode, &ci.Status, &ci.BookTitle, &archivedInt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ci.BookArchived = archivedInt != 0
	return &ci, nil
}

func (s *Store) GetMemberByID(ctx context.Context, id int64) (*MemberInfo, error) {
	return s.getMember(ctx, `WHERE id = ?`, id)
}

func (s *Store) GetMemberByUsername(ctx context.Context, username string) (*MemberInfo, error) {
	return s.getMember(ctx, `WHERE username = ?`, username)
}

func (s *Store) getMember(ctx context.Context, where string, arg any) (*MemberInfo, error) {
	q := `SELECT id, username, role, is_active FROM users ` + where
	var m MemberInfo
	var isActiveInt int
	err := s.db.QueryRowContext(ctx, q, arg).Scan(&m.MemberID, &m.Username, &m.Role, &isActiveInt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.IsActive = isActiveInt != 0
	return &m, nil
}

func (s *Store) CountOpenLoans(ctx context.Context, memberID int64) (int, error) {
	const q = `SELECT COUNT(*) FROM loans WHERE borrowed_by = ? AND returned_at IS NULL`
	var n int
	err := s.db.QueryRowContext(ctx, q, memberID).Scan(&n)
	return n, err
}

func (s *Store) HasOpenTitleLoan(ctx context.Context, memberID, bookID int64) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1
			FROM loans l
			JOIN book_copies c ON c.id = l.book_copy_id
			WHERE l.borrowed_by = ? AND c.book_id = ? AND l.returned_at IS NULL
		)`
	var exists int
	err := s.db.QueryRowContext(ctx, q, memberID, bookID).Scan(&exists)
	return exists != 0, err
}

// ===== transactional transitions =====

func (s *Store) CreateLoan(ctx context.Context, loan *Loan) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		// Optimistic check-and-set: only flips an available copy. This
		// rejects most races before the ledger is touched.
		const upd = `
			UPDATE book_copies
			SET status = 'borrowed', borrowed_by = ?
			WHERE id = ? AND status = 'available'`
		res, err := tx.ExecContext(ctx, upd, loan.BorrowedBy, loan.BookCopyID)
		if err != nil {
			return err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if aff != 1 {
			return ErrCopyUnavailable()
		}

		// The unique key on (book_copy_id, open_marker) is the authoritative
		// guard; a race that slips past the status check dies here with 1062
		// and rolls the status change back.
		const ins = `
			INSERT INTO loans
				(loan_ulid, book_copy_id, borrowed_by, issued_by, lent_at, due_at, loan_period_days, fine_per_day)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		res, err = tx.ExecContext(ctx, ins,
			loan.LoanULID, loan.BookCopyID, loan.BorrowedBy, loan.IssuedBy,
			loan.LentAt, loan.DueAt, loan.LoanPeriodDays, loan.FinePerDay,
		)
		if err != nil {
			var me *mysql.MySQLError
			if errors.As(err, &me) && me.Number == 1062 { // duplicate key
				return ErrCopyUnavailable()
			}
			return err
		}
		loan.LoanID, err = res.LastInsertId()
		return err
	})
}

func (s *Store) CloseLoan(ctx context.Context, loanID int64, returnedAt time.Time, fine decimal.Decimal, copyID int64, copyStatus string) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		const closeQ = `
			UPDATE loans
			SET returned_at = ?, fine = ?
			WHERE id = ? AND returned_at IS NULL`
		res, err := tx.ExecContext(ctx, closeQ, returnedAt, fine, loanID)
		if err != nil {
			return err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if aff != 1 {
			return ErrLoanAlreadyClosed()
		}

		const freeQ = `
			UPDATE book_copies
			SET status = ?, borrowed_by = NULL
			WHERE id = ? AND status = 'borrowed'`
		res, err = tx.ExecContext(ctx, freeQ, copyStatus, copyID)
		if err != nil {
			return err
		}
		aff, err = res.RowsAffected()
		if err != nil {
			return err
		}
		if aff != 1 {
			// The open loan existed but its copy was not borrowed: the
			// invariant is broken, refuse to commit half a transition.
			return ErrInternal("copy state does not match open loan")
		}
		return nil
	})
}

func (s *Store) MarkFineCollected(ctx context.Context, loanID int64) (int64, error) {
	const q = `
		UPDATE loans
		SET fine_collected = 1
		WHERE id = ? AND returned_at IS NOT NULL AND fine > 0 AND fine_collected = 0`
	res, err := s.db.ExecContext(ctx, q, loanID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ===== loan queries =====

const loanSelect = `
	SELECT l.id, l.loan_ulid, l.book_copy_id, l.borrowed_by, l.issued_by,
	       l.lent_at, l.due_at, l.loan_period_days, l.fine_per_day,
	       l.returned_at, l.fine, l.fine_collected,
	       c.barcode, b.title
	FROM loans l
	JOIN book_copies c ON c.id = l.book_copy_id
	JOIN books b ON b.id = c.book_id`

func (s *Store) GetLoanByID(ctx context.Context, id int64) (*Loan, error) {
	return s.getLoan(ctx, loanSelect+` WHERE l.id = ?`, id)
}

func (s *Store) GetLoanByULID(ctx context.Context, ulid string) (*Loan, error) {
	return s.getLoan(ctx, loanSelect+` WHERE l.loan_ulid = ?`, ulid)
}

func (s *Store) getLoan(ctx context.Context, q string, arg any) (*Loan, error) {
	row := s.db.QueryRowContext(ctx, q, arg)
	loan, err := scanLoan(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return loan, nil
}

func (s *Store) ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error) {
	q := loanSelect + ` WHERE 1=1`
	var args []any

	if f.MemberID > 0 {
		q += ` AND l.borrowed_by = ?`
		args = append(args, f.MemberID)
	}
	if f.Open != nil {
		if *f.Open {
			q += ` AND l.returned_at IS NULL`
		} else {
			q += ` AND l.returned_at IS NOT NULL`
		}
	}
	if f.DueBefore != nil {
		q += ` AND l.due_at < ?`
		args = append(args, *f.DueBefore)
	}

	q += ` ORDER BY l.lent_at DESC, l.id DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	// Read-only tx so the page is one consistent snapshot of the join.
	res := make([]Loan, 0, 16)
	err := db.ReadOnly(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		rows, err := tx.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			loan, err := scanLoan(rows.Scan)
			if err != nil {
				return err
			}
			res = append(res, *loan)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func scanLoan(scan func(dest ...any) error) (*Loan, error) {
	var l Loan
	var collectedInt int
	err := scan(
		&l.LoanID, &l.LoanULID, &l.BookCopyID, &l.BorrowedBy, &l.IssuedBy,
		&l.LentAt, &l.DueAt, &l.LoanPeriodDays, &l.FinePerDay,
		&l.ReturnedAt, &l.Fine, &collectedInt,
		&l.Barcode, &l.BookTitle,
	)
	if err != nil {
		return nil, err
	}
	l.FineCollected = collectedInt != 0
	return &l, nil
}

// ===== policy =====

func (s *Store) GetPolicy(ctx context.Context) (*Policy, error) {
	const q = `
		SELECT loan_period_days, fine_per_day, max_loans_per_member, updated_at
		FROM library_config
		WHERE id = 1`
	var p Policy
	err := s.db.QueryRowContext(ctx, q).Scan(
		&p.LoanPeriodDays, &p.FinePerDay, &p.MaxLoansPerMember, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdatePolicy(ctx context.Context, p *Policy) error {
	const q = `
		UPDATE library_config
		SET loan_period_days = ?, fine_per_day = ?, max_loans_per_member = ?
		WHERE id = 1`
	_, err := s.db.ExecContext(ctx, q, p.LoanPeriodDays, p.FinePerDay, p.MaxLoansPerMember)
	return err
}
