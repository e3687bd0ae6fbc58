package catalog

import (
	"context"
	"database/sql"
	"errors"
)

type CatalogStore interface {
	InsertAuthor(ctx context.Context, a *Author) error
	GetAuthorByID(ctx context.Context, id int64) (*Author, error)
	ListAuthors(ctx context.Context, limit, offset int) ([]Author, error)

	InsertBook(ctx context.Context, b *Book) error
	GetBookByID(ctx context.Context, id int64) (*Book, error)
	ListBooks(ctx context.Context, includeArchived bool, limit, offset int) ([]Book, error)
	SetBookArchived(ctx context.Context, id int64, archived bool) (int64, error)

	InsertCopy(ctx context.Context, c *BookCopy) error
	GetCopyByID(ctx context.Context, id int64) (*BookCopy, error)
	GetCopyByBarcode(ctx context.Context, barcode string) (*BookCopy, error)
	ListCopies(ctx context.Context, bookID int64, status CopyStatus, limit, offset int) ([]BookCopy, error)
	SetCopyStatus(ctx context.Context, id int64, next CopyStatus) (int64, error)
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) CatalogStore { return &Store{db: db} }

func pageLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

// ===== authors =====

func (s *Store) InsertAuthor(ctx context.Context, a *Author) error {
	const q = `INSERT INTO authors (name, nationality) VALUES (?, ?)`
	res, err := s.db.ExecContext(ctx, q, a.Name, a.Nationality)
	if err != nil {
		return err
	}
	a.AuthorID, err = res.LastInsertId()
	return err
}

func (s *Store) GetAuthorByID(ctx context.Context, id int64) (*Author, error) {
	const q = `
		SELECT id, name, nationality, created_at, updated_at
		FROM authors
		WHERE id = ?`
	var a Author
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&a.AuthorID, &a.Name, &a.Nationality, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAuthors(ctx context.Context, limit, offset int) ([]Author, error) {
	const q = `
		SELECT id, name, nationality, created_at, updated_at
		FROM authors
		ORDER BY name
		LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, pageLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]Author, 0, 16)
	for rows.Next() {
		var a Author
		if err := rows.Scan(&a.AuthorID, &a.Name, &a.Nationality, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ===== books =====

const bookSelect = `
	SELECT b.id, b.title, b.author_id, a.name, b.isbn, b.is_archived, b.created_at, b.updated_at
	FROM books b
	JOIN authors a ON a.id = b.author_id`

func (s *Store) InsertBook(ctx context.Context, b *Book) error {
	const q = `INSERT INTO books (title, author_id, isbn) VALUES (?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, b.Title, b.AuthorID, b.ISBN)
	if err != nil {
		return err
	}
	b.BookID, err = res.LastInsertId()
	return err
}

func (s *Store) GetBookByID(ctx context.Context, id int64) (*Book, error) {
	q := bookSelect + ` WHERE b.id = ?`
	var b Book
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&b.BookID, &b.Title, &b.AuthorID, &b.AuthorName, &b.ISBN, &b.IsArchived, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListBooks(ctx context.Context, includeArchived bool, limit, offset int) ([]Book, error) {
	q := bookSelect
	if !includeArchived {
		q += ` WHERE b.is_archived = 0`
	}
	q += ` ORDER BY b.title LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, pageLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]Book, 0, 16)
	for rows.Next() {
		var b Book
		if err := rows.Scan(&b.BookID, &b.Title, &b.AuthorID, &b.AuthorName, &b.ISBN, &b.IsArchived, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (s *Store) SetBookArchived(ctx context.Context, id int64, archived bool) (int64, error) {
	const q = `UPDATE books SET is_archived = ? WHERE id = ? AND is_archived <> ?`
	res, err := s.db.ExecContext(ctx, q, archived, id, archived)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ===== copies =====

const copySelect = `
	SELECT c.id, c.book_id, b.title, c.barcode, c.status, c.borrowed_by, c.created_at, c.updated_at
	FROM book_copies c
	JOIN books b ON b.id = c.book_id`

func (s *Store) InsertCopy(ctx context.Context, c *BookCopy) error {
	const q = `INSERT INTO book_copies (book_id, barcode, status) VALUES (?, ?, 'available')`
	res, err := s.db.ExecContext(ctx, q, c.BookID, c.Barcode)
	if err != nil {
		return err
	}
	c.CopyID, err = res.LastInsertId()
	return err
}

func (s *Store) GetCopyByID(ctx context.Context, id int64) (*BookCopy, error) {
	return s.getCopy(ctx, copySelect+` WHERE c.id = ?`, id)
}

func (s *Store) GetCopyByBarcode(ctx context.Context, barcode string) (*BookCopy, error) {
	return s.getCopy(ctx, copySelect+` WHERE c.barcode = ?`, barcode)
}

func (s *Store) getCopy(ctx context.Context, q string, arg any) (*BookCopy, error) {
	var c BookCopy
	err := s.db.QueryRowContext(ctx, q, arg).Scan(
		&c.CopyID, &c.BookID, &c.BookTitle, &c.Barcode, &c.Status, &c.BorrowedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCopies(ctx context.Context, bookID int64, status CopyStatus, limit, offset int) ([]BookCopy, error) {
	q := copySelect + ` WHERE 1=1`
	var args []any
	if bookID > 0 {
		q += ` AND c.book_id = ?`
		args = append(args, bookID)
	}
	if status != "" {
		q += ` AND c.status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY c.id LIMIT ? OFFSET ?`
	args = append(args, pageLimit(limit), offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]BookCopy, 0, 16)
	for rows.Next() {
		var c BookCopy
		if err := rows.Scan(&c.CopyID, &c.BookID, &c.BookTitle, &c.Barcode, &c.Status, &c.BorrowedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// SetCopyStatus applies a librarian status override. The guard on the current
// status makes the update race-safe: a copy that became borrowed after the
// service pre-check is left untouched and 0 rows are reported.
func (s *Store) SetCopyStatus(ctx context.Context, id int64, next CopyStatus) (int64, error) {
	const q = `
		UPDATE book_copies
		SET status = ?, borrowed_by = NULL
		WHERE id = ? AND status <> 'borrowed' AND status <> ?`
	res, err := s.db.ExecContext(ctx, q, next, id, next)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
