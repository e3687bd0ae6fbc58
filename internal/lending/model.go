package lending

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Copy statuses as persisted by the catalog. The engine only ever writes
// borrowed, available and lost.
const (
	copyAvailable = "available"
	copyBorrowed  = "borrowed"
	copyLost      = "lost"
)

// Only member-role accounts can be borrowers.
const roleMember = "member"

// Loan is a row of the loans table, one borrow episode of one copy.
// loan_period_days and fine_per_day are snapshots of the policy in effect at
// checkout; later policy updates never touch an open loan.
type Loan struct {
	LoanID         int64
	LoanULID       string
	BookCopyID     int64
	BorrowedBy     int64
	IssuedBy       sql.NullInt64
	LentAt         time.Time
	DueAt          time.Time
	LoanPeriodDays int
	FinePerDay     decimal.Decimal
	ReturnedAt     sql.NullTime
	Fine           decimal.NullDecimal
	FineCollected  bool

	// joined for responses
	Barcode   string
	BookTitle string
}

func (l *Loan) Open() bool { return !l.ReturnedAt.Valid }

// Policy is the library_config singleton.
type Policy struct {
	LoanPeriodDays    int
	FinePerDay        decimal.Decimal
	MaxLoansPerMember int
	UpdatedAt         time.Time
}

// CopyInfo is the view of a copy the engine needs for eligibility checks.
type CopyInfo struct {
	CopyID       int64
	BookID       int64
	Barcode      string
	Status       string
	BookTitle    string
	BookArchived bool
}

// MemberInfo is the view of a user the engine needs.
type MemberInfo struct {
	MemberID int64
	Username string
	Role     string
	IsActive bool
}

type LoanFilter struct {
	MemberID  int64
	Open      *bool
	DueBefore *time.Time
	Limit     int
	Offset    int
}
