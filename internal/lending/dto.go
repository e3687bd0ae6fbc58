package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

type CheckoutRequest struct {
	CopyBarcode string `json:"copy_barcode" binding:"required"`
	MemberID    int64  `json:"member_id" binding:"required"`
}

type LoanResponse struct {
	LoanID         int64            `json:"loan_id"`
	LoanULID       string           `json:"loan_ulid"`
	CopyBarcode    string           `json:"copy_barcode"`
	BookTitle      string           `json:"book_title"`
	MemberID       int64            `json:"member_id"`
	IssuedBy       *int64           `json:"issued_by,omitempty"`
	LentAt         time.Time        `json:"lent_at"`
	DueAt          time.Time        `json:"due_at"`
	LoanPeriodDays int              `json:"loan_period_days"`
	FinePerDay     decimal.Decimal  `json:"fine_per_day"`
	ReturnedAt     *time.Time       `json:"returned_at,omitempty"`
	Fine           *decimal.Decimal `json:"fine,omitempty"`
	FineCollected  bool             `json:"fine_collected"`
}

type ReturnResponse struct {
	LoanID       int64           `json:"loan_id"`
	LoanULID     string          `json:"loan_ulid"`
	Fine         decimal.Decimal `json:"fine"`
	DaysBorrowed int             `json:"days_borrowed"`
	Overdue      bool            `json:"overdue"`
	ReturnedAt   time.Time       `json:"returned_at"`
}

type CollectFineResponse struct {
	LoanID        int64           `json:"loan_id"`
	LoanULID      string          `json:"loan_ulid"`
	Fine          decimal.Decimal `json:"fine"`
	FineCollected bool            `json:"fine_collected"`
}

type PolicyResponse struct {
	LoanPeriodDays    int             `json:"loan_period_days"`
	FinePerDay        decimal.Decimal `json:"fine_per_day"`
	MaxLoansPerMember int             `json:"max_loans_per_member"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type UpdatePolicyRequest struct {
	LoanPeriodDays    int             `json:"loan_period_days" binding:"required"`
	FinePerDay        decimal.Decimal `json:"fine_per_day"`
	MaxLoansPerMember int             `json:"max_loans_per_member" binding:"required"`
}

func loanToDTO(l *Loan) LoanResponse {
	resp := LoanResponse{
		LoanID:         l.LoanID,
		LoanULID:       l.LoanULID,
		CopyBarcode:    l.Barcode,
		BookTitle:      l.BookTitle,
		MemberID:       l.BorrowedBy,
		LentAt:         l.LentAt,
		DueAt:          l.DueAt,
		LoanPeriodDays: l.LoanPeriodDays,
		FinePerDay:     l.FinePerDay,
		FineCollected:  l.FineCollected,
	}
	if l.IssuedBy.Valid {
		val := l.IssuedBy.Int64
		resp.IssuedBy = &val
	}
	if l.ReturnedAt.Valid {
		val := l.ReturnedAt.Time
		resp.ReturnedAt = &val
	}
	if l.Fine.Valid {
		val := l.Fine.Decimal
		resp.Fine = &val
	}
	return resp
}

func policyToDTO(p *Policy) PolicyResponse {
	return PolicyResponse{
		LoanPeriodDays:    p.LoanPeriodDays,
		FinePerDay:        p.FinePerDay,
		MaxLoansPerMember: p.MaxLoansPerMember,
		UpdatedAt:         p.UpdatedAt,
	}
}
