package lending

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// ===== Error model (same shape as catalog/members, engine-specific codes) =====

type Code string

const (
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeNotFound             Code = "NOT_FOUND"
	CodeCopyUnavailable      Code = "COPY_UNAVAILABLE"
	CodeBookArchived         Code = "BOOK_ARCHIVED"
	CodeMemberInactive       Code = "MEMBER_INACTIVE"
	CodeBorrowLimitExceeded  Code = "BORROW_LIMIT_EXCEEDED"
	CodeDuplicateTitleBorrow Code = "DUPLICATE_TITLE_BORROW"
	CodeLoanAlreadyClosed    Code = "LOAN_ALREADY_CLOSED"
	CodeFineNotCollectible   Code = "FINE_NOT_COLLECTIBLE"
	CodeInternal             Code = "INTERNAL"
)

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

func ErrCopyUnavailable() *APIError {
	return &APIError{Code: CodeCopyUnavailable, Message: "book copy is not available for borrowing"}
}

func ErrBookArchived(title string) *APIError {
	return &APIError{Code: CodeBookArchived, Message: fmt.Sprintf("%q is archived and cannot be borrowed", title)}
}

func ErrMemberInactive() *APIError {
	return &APIError{Code: CodeMemberInactive, Message: "member account is not active"}
}

func ErrBorrowLimitExceeded(limit int) *APIError {
	return &APIError{Code: CodeBorrowLimitExceeded, Message: fmt.Sprintf("member has reached the maximum of %d concurrent loans", limit)}
}

func ErrDuplicateTitleBorrow(title string) *APIError {
	return &APIError{Code: CodeDuplicateTitleBorrow, Message: fmt.Sprintf("member already has a copy of %q borrowed", title)}
}

func ErrLoanAlreadyClosed() *APIError {
	return &APIError{Code: CodeLoanAlreadyClosed, Message: "loan is already closed"}
}

func ErrFineNotCollectible(msg string) *APIError {
	return &APIError{Code: CodeFineNotCollectible, Message: msg}
}

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeNotFound:
			return 404
		case CodeCopyUnavailable, CodeBorrowLimitExceeded, CodeDuplicateTitleBorrow,
			CodeLoanAlreadyClosed, CodeFineNotCollectible:
			return 409
		case CodeBookArchived, CodeMemberInactive:
			return 422
		default:
			return 500
		}
	}
	return 500
}

// ===== clock / id generation =====

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

type IDGen interface {
	New() (string, error)
}

type ulidGen struct{}

func (ulidGen) New() (string, error) {
	t := time.Now().UTC()
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ===== fine computation =====

// daysBorrowed counts calendar-equivalent days between checkout and return,
// rounded up: any started day counts in full.
func daysBorrowed(lentAt, at time.Time) int {
	d := at.Sub(lentAt)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

// OverdueFine computes the fine a loan would owe when closed at the given
// time, using the period and rate snapshotted at checkout. Zero while within
// the loan period; otherwise overdue days times the daily rate, rounded to
// currency precision.
func OverdueFine(loan *Loan, at time.Time) decimal.Decimal {
	overdue := daysBorrowed(loan.LentAt, at) - loan.LoanPeriodDays
	if overdue <= 0 {
		return decimal.Zero
	}
	return loan.FinePerDay.Mul(decimal.NewFromInt(int64(overdue))).Round(2)
}

// LostFineFunc decides the fine stamped on a loan closed through the
// lost-while-borrowed transition.
type LostFineFunc func(loan *Loan, at time.Time) decimal.Decimal

// ===== Service =====

type Service struct {
	store    LedgerStore
	clock    Clock
	id       IDGen
	lostFine LostFineFunc
}

func NewService(db *sql.DB) *Service {
	return &Service{
		store:    NewStore(db),
		clock:    realClock{},
		id:       ulidGen{},
		lostFine: OverdueFine,
	}
}

// SetLostFine overrides how a lost-while-borrowed loan is fined. The default
// charges the regular overdue fine; a hook can waive or add a replacement
// cost.
func (s *Service) SetLostFine(fn LostFineFunc) {
	if fn != nil {
		s.lostFine = fn
	}
}

// Checkout issues a copy to a member. Eligibility is checked in a fixed
// order, each failure with its own code; the actual transition is one atomic
// store operation so two concurrent checkouts of the same copy can never both
// succeed.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest, issuerUsername string) (*LoanResponse, error) {
	if strings.TrimSpace(req.CopyBarcode) == "" {
		return nil, ErrInvalid("copy_barcode is required")
	}
	if req.MemberID <= 0 {
		return nil, ErrInvalid("member_id is required")
	}

	cp, err := s.store.GetCopyByBarcode(ctx, req.CopyBarcode)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrNotFound("book copy not found")
	}
	if cp.Status != copyAvailable {
		return nil, ErrCopyUnavailable()
	}
	if cp.BookArchived {
		return nil, ErrBookArchived(cp.BookTitle)
	}

	member, err := s.store.GetMemberByID(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	// A librarian id is not a borrower; it reads the same as no member at all.
	if member == nil || member.Role != roleMember {
		return nil, ErrNotFound("member not found")
	}
	if !member.IsActive {
		return nil, ErrMemberInactive()
	}

	policy, err := s.store.GetPolicy(ctx)
	if err != nil {
		return nil, err
	}

	open, err := s.store.CountOpenLoans(ctx, member.MemberID)
	if err != nil {
		return nil, err
	}
	if open >= policy.MaxLoansPerMember {
		return nil, ErrBorrowLimitExceeded(policy.MaxLoansPerMember)
	}

	dup, err := s.store.HasOpenTitleLoan(ctx, member.MemberID, cp.BookID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, ErrDuplicateTitleBorrow(cp.BookTitle)
	}

	idStr, err := s.id.New()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	loan := &Loan{
		LoanULID:       idStr,
		BookCopyID:     cp.CopyID,
		BorrowedBy:     member.MemberID,
		LentAt:         now,
		DueAt:          now.Add(time.Duration(policy.LoanPeriodDays) * 24 * time.Hour),
		LoanPeriodDays: policy.LoanPeriodDays,
		FinePerDay:     policy.FinePerDay,
		Barcode:        cp.Barcode,
		BookTitle:      cp.BookTitle,
	}

	if issuerUsername != "" {
		issuer, err := s.store.GetMemberByUsername(ctx, issuerUsername)
		if err != nil {
			return nil, err
		}
		if issuer != nil {
			loan.IssuedBy = sql.NullInt64{Int64: issuer.MemberID, Valid: true}
		}
	}

	if err := s.store.CreateLoan(ctx, loan); err != nil {
		// A lost race comes back as the same COPY_UNAVAILABLE the pre-check
		// would have produced.
		return nil, err
	}

	log.Printf("[INFO] checkout: copy=%s member=%d loan=%s due=%s",
		cp.Barcode, member.MemberID, loan.LoanULID, loan.DueAt.Format(time.RFC3339))

	resp := loanToDTO(loan)
	return &resp, nil
}

// ProcessReturn closes an open loan, computes the fine from the checkout-time
// policy snapshot and frees the copy, all in one atomic unit.
func (s *Service) ProcessReturn(ctx context.Context, key string) (*ReturnResponse, error) {
	loan, err := s.getLoanByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if !loan.Open() {
		return nil, ErrLoanAlreadyClosed()
	}

	now := s.clock.Now()
	days := daysBorrowed(loan.LentAt, now)
	fine := OverdueFine(loan, now)

	if err := s.store.CloseLoan(ctx, loan.LoanID, now, fine, loan.BookCopyID, copyAvailable); err != nil {
		return nil, err
	}

	log.Printf("[INFO] return: loan=%s days=%d fine=%s overdue=%t",
		loan.LoanULID, days, fine.StringFixed(2), fine.IsPositive())

	return &ReturnResponse{
		LoanID:       loan.LoanID,
		LoanULID:     loan.LoanULID,
		Fine:         fine,
		DaysBorrowed: days,
		Overdue:      fine.IsPositive(),
		ReturnedAt:   now,
	}, nil
}

// CollectFine marks a closed loan's fine as collected, exactly once.
func (s *Service) CollectFine(ctx context.Context, key string) (*CollectFineResponse, error) {
	loan, err := s.getLoanByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if loan.Open() {
		return nil, ErrFineNotCollectible("loan is still open")
	}
	if !loan.Fine.Valid || !loan.Fine.Decimal.IsPositive() {
		return nil, ErrFineNotCollectible("no fine associated with this loan")
	}
	if loan.FineCollected {
		return nil, ErrFineNotCollectible("fine already collected")
	}

	affected, err := s.store.MarkFineCollected(ctx, loan.LoanID)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrFineNotCollectible("fine already collected")
	}

	log.Printf("[INFO] fine collected: loan=%s amount=%s", loan.LoanULID, loan.Fine.Decimal.StringFixed(2))

	return &CollectFineResponse{
		LoanID:        loan.LoanID,
		LoanULID:      loan.LoanULID,
		Fine:          loan.Fine.Decimal,
		FineCollected: true,
	}, nil
}

// ReportLost closes an open loan through the lost-while-borrowed transition:
// the loan ends now, the fine comes from the configured hook, and the copy is
// marked lost instead of available.
func (s *Service) ReportLost(ctx context.Context, key string) (*ReturnResponse, error) {
	loan, err := s.getLoanByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if !loan.Open() {
		return nil, ErrLoanAlreadyClosed()
	}

	now := s.clock.Now()
	fine := s.lostFine(loan, now)

	if err := s.store.CloseLoan(ctx, loan.LoanID, now, fine, loan.BookCopyID, copyLost); err != nil {
		return nil, err
	}

	log.Printf("[WARN] copy lost while borrowed: copy=%s loan=%s fine=%s",
		loan.Barcode, loan.LoanULID, fine.StringFixed(2))

	return &ReturnResponse{
		LoanID:       loan.LoanID,
		LoanULID:     loan.LoanULID,
		Fine:         fine,
		DaysBorrowed: daysBorrowed(loan.LentAt, now),
		Overdue:      fine.IsPositive(),
		ReturnedAt:   now,
	}, nil
}

// ===== queries =====

func (s *Service) GetLoanByKey(ctx context.Context, key string) (*LoanResponse, error) {
	loan, err := s.getLoanByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	resp := loanToDTO(loan)
	return &resp, nil
}

func (s *Service) ListLoans(ctx context.Context, f LoanFilter) ([]LoanResponse, error) {
	loans, err := s.store.ListLoans(ctx, f)
	if err != nil {
		return nil, err
	}
	res := make([]LoanResponse, 0, len(loans))
	for i := range loans {
		res = append(res, loanToDTO(&loans[i]))
	}
	return res, nil
}

// OverdueLoans lists loans that are open and past due as of the given time.
func (s *Service) OverdueLoans(ctx context.Context, asOf time.Time) ([]LoanResponse, error) {
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}
	open := true
	return s.ListLoans(ctx, LoanFilter{Open: &open, DueBefore: &asOf})
}

// getLoanByKey resolves a numeric id or a loan ULID.
func (s *Service) getLoanByKey(ctx context.Context, key string) (*Loan, error) {
	if key == "" {
		return nil, ErrInvalid("loan id or ulid is required")
	}

	var loan *Loan
	var err error
	if id, perr := strconv.ParseInt(key, 10, 64); perr == nil && id > 0 {
		loan, err = s.store.GetLoanByID(ctx, id)
	} else {
		loan, err = s.store.GetLoanByULID(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrNotFound("loan not found")
	}
	return loan, nil
}

// ===== policy =====

func (s *Service) GetPolicy(ctx context.Context) (PolicyResponse, error) {
	p, err := s.store.GetPolicy(ctx)
	if err != nil {
		return PolicyResponse{}, err
	}
	return policyToDTO(p), nil
}

// UpdatePolicy replaces the configuration wholesale. Open loans keep the
// snapshot taken at their checkout; only new checkouts see the new values.
func (s *Service) UpdatePolicy(ctx context.Context, req UpdatePolicyRequest) (PolicyResponse, error) {
	if req.LoanPeriodDays <= 0 {
		return PolicyResponse{}, ErrInvalid("loan_period_days must be > 0")
	}
	if req.MaxLoansPerMember <= 0 {
		return PolicyResponse{}, ErrInvalid("max_loans_per_member must be > 0")
	}
	if req.FinePerDay.IsNegative() {
		return PolicyResponse{}, ErrInvalid("fine_per_day must be >= 0")
	}

	p := &Policy{
		LoanPeriodDays:    req.LoanPeriodDays,
		FinePerDay:        req.FinePerDay.Round(2),
		MaxLoansPerMember: req.MaxLoansPerMember,
	}
	if err := s.store.UpdatePolicy(ctx, p); err != nil {
		return PolicyResponse{}, err
	}

	log.Printf("[INFO] policy updated: period=%dd rate=%s limit=%d",
		p.LoanPeriodDays, p.FinePerDay.StringFixed(2), p.MaxLoansPerMember)

	out, err := s.store.GetPolicy(ctx)
	if err != nil {
		return PolicyResponse{}, err
	}
	return policyToDTO(out), nil
}
