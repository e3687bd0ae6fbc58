package catalog

import (
	"database/sql"
	"time"
)

type CopyStatus string

const (
	StatusAvailable   CopyStatus = "available"
	StatusBorrowed    CopyStatus = "borrowed"
	StatusLost        CopyStatus = "lost"
	StatusMaintenance CopyStatus = "maintenance"
)

func (s CopyStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusBorrowed, StatusLost, StatusMaintenance:
		return true
	}
	return false
}

// CanSetStatus reports whether a librarian override from cur to next is
// allowed through the plain status endpoint. Borrowed is entered and left
// only through the borrowing engine (checkout, return, lost-while-borrowed),
// so it is off limits on both sides here.
func CanSetStatus(cur, next CopyStatus) bool {
	if !next.Valid() || next == StatusBorrowed {
		return false
	}
	if cur == StatusBorrowed {
		return false
	}
	return cur != next
}

// Author is a row of the authors table.
type Author struct {
	AuthorID    int64
	Name        string
	Nationality sql.NullString
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Book is a row of the books table, joined with its author name.
type Book struct {
	BookID     int64
	Title      string
	AuthorID   int64
	AuthorName string
	ISBN       sql.NullString
	IsArchived bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// BookCopy is a row of the book_copies table, joined with its book title.
type BookCopy struct {
	CopyID     int64
	BookID     int64
	BookTitle  string
	Barcode    string
	Status     CopyStatus
	BorrowedBy sql.NullInt64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
