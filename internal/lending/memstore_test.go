package lending

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// memStore is an in-memory LedgerStore for engine tests. Its CreateLoan holds
// the same line the schema does in production: inside the lock it rejects any
// second open loan on a copy, so concurrency tests exercise the real
// "optimistic pre-check + authoritative constraint" split.
type memStore struct {
	mu      sync.Mutex
	copies  map[int64]*CopyInfo
	members map[int64]*MemberInfo
	loans   map[int64]*Loan
	policy  Policy
	nextID  int64
}

func newMemStore(policy Policy) *memStore {
	return &memStore{
		copies:  map[int64]*CopyInfo{},
		members: map[int64]*MemberInfo{},
		loans:   map[int64]*Loan{},
		policy:  policy,
	}
}

func (m *memStore) addCopy(c CopyInfo)     { m.copies[c.CopyID] = &c }
func (m *memStore) addMember(mi MemberInfo) { m.members[mi.MemberID] = &mi }

func (m *memStore) GetCopyByBarcode(_ context.Context, barcode string) (*CopyInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.copies {
		if c.Barcode == barcode {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetMemberByID(_ context.Context, id int64) (*MemberInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mi, ok := m.members[id]
	if !ok {
		return nil, nil
	}
	cp := *mi
	return &cp, nil
}

func (m *memStore) GetMemberByUsername(_ context.Context, username string) (*MemberInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mi := range m.members {
		if mi.Username == username {
			cp := *mi
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) CountOpenLoans(_ context.Context, memberID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.loans {
		if l.BorrowedBy == memberID && l.Open() {
			n++
		}
	}
	return n, nil
}

func (m *memStore) HasOpenTitleLoan(_ context.Context, memberID, bookID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loans {
		if l.BorrowedBy == memberID && l.Open() && m.copies[l.BookCopyID].BookID == bookID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreateLoan(_ context.Context, loan *Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.copies[loan.BookCopyID]
	if !ok {
		return ErrNotFound("book copy not found")
	}
	// Status check-and-set.
	if c.Status != copyAvailable {
		return ErrCopyUnavailable()
	}
	// Authoritative uniqueness guard, mirrors uq_one_open_loan_per_copy.
	for _, l := range m.loans {
		if l.BookCopyID == loan.BookCopyID && l.Open() {
			return ErrCopyUnavailable()
		}
	}

	m.nextID++
	loan.LoanID = m.nextID
	cp := *loan
	m.loans[loan.LoanID] = &cp
	c.Status = copyBorrowed
	return nil
}

func (m *memStore) CloseLoan(_ context.Context, loanID int64, returnedAt time.Time, fine decimal.Decimal, copyID int64, copyStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.loans[loanID]
	if !ok || !l.Open() {
		return ErrLoanAlreadyClosed()
	}
	c, ok := m.copies[copyID]
	if !ok || c.Status != copyBorrowed {
		return ErrInternal("copy state does not match open loan")
	}

	l.ReturnedAt.Time = returnedAt
	l.ReturnedAt.Valid = true
	l.Fine = decimal.NullDecimal{Decimal: fine, Valid: true}
	c.Status = copyStatus
	return nil
}

func (m *memStore) MarkFineCollected(_ context.Context, loanID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.loans[loanID]
	if !ok || l.Open() || !l.Fine.Valid || !l.Fine.Decimal.IsPositive() || l.FineCollected {
		return 0, nil
	}
	l.FineCollected = true
	return 1, nil
}

func (m *memStore) GetLoanByID(_ context.Context, id int64) (*Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) GetLoanByULID(_ context.Context, ulid string) (*Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loans {
		if l.LoanULID == ulid {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListLoans(_ context.Context, f LoanFilter) ([]Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Loan
	for _, l := range m.loans {
		if f.MemberID > 0 && l.BorrowedBy != f.MemberID {
			continue
		}
		if f.Open != nil && l.Open() != *f.Open {
			continue
		}
		if f.DueBefore != nil && !l.DueAt.Before(*f.DueBefore) {
			continue
		}
		res = append(res, *l)
	}
	return res, nil
}

func (m *memStore) GetPolicy(_ context.Context) (*Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.policy
	return &p, nil
}

func (m *memStore) UpdatePolicy(_ context.Context, p *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = Policy{
		LoanPeriodDays:    p.LoanPeriodDays,
		FinePerDay:        p.FinePerDay,
		MaxLoansPerMember: p.MaxLoansPerMember,
		UpdatedAt:         time.Now(),
	}
	return nil
}

// fakeClock is a settable Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
