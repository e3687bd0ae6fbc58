package lending

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func defaultPolicy() Policy {
	return Policy{
		LoanPeriodDays:    14,
		FinePerDay:        decimal.NewFromInt(1),
		MaxLoansPerMember: 3,
	}
}

// newTestEngine seeds two copies of "Dune", one copy each of "Hyperion" and
// "Foundation", an archived book, an active member (1) and an inactive
// member (2).
func newTestEngine(t *testing.T, policy Policy) (*Service, *memStore, *fakeClock) {
	t.Helper()

	store := newMemStore(policy)
	store.addCopy(CopyInfo{CopyID: 1, BookID: 1, Barcode: "DUNE-A", Status: copyAvailable, BookTitle: "Dune"})
	store.addCopy(CopyInfo{CopyID: 2, BookID: 1, Barcode: "DUNE-B", Status: copyAvailable, BookTitle: "Dune"})
	store.addCopy(CopyInfo{CopyID: 3, BookID: 2, Barcode: "HYP-A", Status: copyAvailable, BookTitle: "Hyperion"})
	store.addCopy(CopyInfo{CopyID: 4, BookID: 3, Barcode: "FND-A", Status: copyAvailable, BookTitle: "Foundation"})
	store.addCopy(CopyInfo{CopyID: 5, BookID: 4, Barcode: "ARC-A", Status: copyAvailable, BookTitle: "Old Almanac", BookArchived: true})
	store.addMember(MemberInfo{MemberID: 1, Username: "carol", Role: "member", IsActive: true})
	store.addMember(MemberInfo{MemberID: 2, Username: "mallory", Role: "member", IsActive: false})
	store.addMember(MemberInfo{MemberID: 9, Username: "alice", Role: "librarian", IsActive: true})

	clock := &fakeClock{now: testStart}
	svc := &Service{store: store, clock: clock, id: ulidGen{}, lostFine: OverdueFine}
	return svc, store, clock
}

func requireCode(t *testing.T, err error, code Code) {
	t.Helper()
	var api *APIError
	require.ErrorAs(t, err, &api)
	require.Equal(t, code, api.Code)
}

// ===== checkout =====

func TestCheckoutCreatesOpenLoanAndBorrowsCopy(t *testing.T) {
	svc, store, _ := newTestEngine(t, defaultPolicy())

	res, err := svc.Checkout(context.Background(), CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 1}, "alice")
	require.NoError(t, err)

	assert.NotEmpty(t, res.LoanULID)
	assert.Equal(t, "DUNE-A", res.CopyBarcode)
	assert.Equal(t, "Dune", res.BookTitle)
	assert.Equal(t, int64(1), res.MemberID)
	assert.Equal(t, testStart, res.LentAt)
	assert.Equal(t, testStart.Add(14*24*time.Hour), res.DueAt)
	assert.Equal(t, 14, res.LoanPeriodDays)
	require.NotNil(t, res.IssuedBy)
	assert.Equal(t, int64(9), *res.IssuedBy)
	assert.Nil(t, res.ReturnedAt)

	assert.Equal(t, copyBorrowed, store.copies[1].Status)
}

func TestCheckoutFailureOrder(t *testing.T) {
	t.Run("unknown copy", func(t *testing.T) {
		svc, _, _ := newTestEngine(t, defaultPolicy())
		_, err := svc.Checkout(context.Background(), CheckoutRequest{CopyBarcode: "NOPE", MemberID: 1}, "")
		requireCode(t, err, CodeNotFound)
	})

	t.Run("copy not available", func(t *testing.T) {
		svc, store, _ := newTestEngine(t, defaultPolicy())
		store.copies[3].Status = "maintenance"
		_, err := svc.Checkout(context.Background(), CheckoutRequest{CopyBarcode: "HYP-A", MemberID: 1}, "")
		requireCode(t, err, CodeCopyUnavailable)
	})

	t.Run("archived book", func(t *testing.T) {
		svc, _, _ := newTestEngine(t, defaultPolicy())
		_, err := svc.Checkout(context.Background(), CheckoutRequest{CopyBarcode: "ARC-A", MemberID: 1}, "")
		requireCode(t, err, CodeBookArchived)
	})

	t.Run("unknown member", func(t *testing.T) {
		svc, _, _ := newTestEngine(t, defaultPolicy())
		_, err := svc.Checkout(context.Background(), CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 42}, "")
		requireCode(t, err, CodeNotFound)
	})

	t.Run("inactive member", func(t *testing.T) {
		svc, _, _ := newTestEngine(t, defaultPolicy())
		_, err := svc.Checkout(context.Background(), CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 2}, "")
		requireCode(t, err, CodeMemberInactive)
	})

	t.Run("librarian as borrower", func(t *testing.T) {
		svc, _, _ := newTestEngine(t, defaultPolicy())
		// Account 9 is an active librarian; staff accounts do not borrow.
		_, err := svc.Checkout(context.Background(), CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 9}, "")
		requireCode(t, err, CodeNotFound)
	})
}

func TestBorrowLimitExceeded(t *testing.T) {
	policy := defaultPolicy()
	policy.MaxLoansPerMember = 3
	svc, store, _ := newTestEngine(t, policy)
	store.addCopy(CopyInfo{CopyID: 6, BookID: 5, Barcode: "LOTR-A", Status: copyAvailable, BookTitle: "The Fellowship of the Ring"})

	ctx := context.Background()
	for _, barcode := range []string{"DUNE-A", "HYP-A", "FND-A"} {
		_, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: barcode, MemberID: 1}, "")
		require.NoError(t, err)
	}

	// Fourth title, member is at the limit.
	_, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "LOTR-A", MemberID: 1}, "")
	requireCode(t, err, CodeBorrowLimitExceeded)
}

func TestDuplicateTitleBorrow(t *testing.T) {
	svc, _, _ := newTestEngine(t, defaultPolicy())
	ctx := context.Background()

	_, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 1}, "")
	require.NoError(t, err)

	// Second copy of the same title is rejected.
	_, err = svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "DUNE-B", MemberID: 1}, "")
	requireCode(t, err, CodeDuplicateTitleBorrow)

	// A different title is fine.
	_, err = svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "HYP-A", MemberID: 1}, "")
	require.NoError(t, err)
}

func TestConcurrentCheckoutSingleWinner(t *testing.T) {
	const n = 16
	svc, store, _ := newTestEngine(t, defaultPolicy())
	for i := int64(10); i < 10+n; i++ {
		store.addMember(MemberInfo{MemberID: i, Username: "m", Role: "member", IsActive: true})
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Checkout(context.Background(),
				CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: int64(10 + i)}, "")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		requireCode(t, err, CodeCopyUnavailable)
	}
	assert.Equal(t, 1, successes)

	open := 0
	store.mu.Lock()
	for _, l := range store.loans {
		if l.BookCopyID == 1 && l.Open() {
			open++
		}
	}
	store.mu.Unlock()
	assert.Equal(t, 1, open)
	assert.Equal(t, copyBorrowed, store.copies[1].Status)
}

// ===== return and fines =====

func TestReturnRoundTripRestoresCopy(t *testing.T) {
	svc, store, clock := newTestEngine(t, defaultPolicy())
	ctx := context.Background()

	res, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 1}, "")
	require.NoError(t, err)

	clock.Advance(5 * 24 * time.Hour)
	ret, err := svc.ProcessReturn(ctx, res.LoanULID)
	require.NoError(t, err)

	assert.Equal(t, 5, ret.DaysBorrowed)
	assert.True(t, ret.Fine.IsZero())
	assert.False(t, ret.Overdue)
	assert.Equal(t, copyAvailable, store.copies[1].Status)
}

func TestFineComputation(t *testing.T) {
	cases := []struct {
		name     string
		days     int
		wantFine string
	}{
		{"returned on day 13", 13, "0.00"},
		{"returned on day 14", 14, "0.00"},
		{"returned on day 15", 15, "1.00"},
		{"returned on day 17", 17, "3.00"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, clock := newTestEngine(t, defaultPolicy())
			ctx := context.Background()

			res, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 1}, "")
			require.NoError(t, err)

			clock.Advance(time.Duration(tc.days) * 24 * time.Hour)
			ret, err := svc.ProcessReturn(ctx, res.LoanULID)
			require.NoError(t, err)

			assert.Equal(t, tc.wantFine, ret.Fine.StringFixed(2))
			assert.Equal(t, tc.days, ret.DaysBorrowed)
		})
	}
}

func TestPartialOverdueDayCountsInFull(t *testing.T) {
	svc, _, clock := newTestEngine(t, defaultPolicy())
	ctx := context.Background()

	res, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 1}, "")
	require.NoError(t, err)

	// 14 days and one hour: the started 15th day counts.
	clock.Advance(14*24*time.Hour + time.Hour)
	ret, err := svc.ProcessReturn(ctx, res.LoanULID)
	require.NoError(t, err)

	assert.Equal(t, 15, ret.DaysBorrowed)
	assert.Equal(t, "1.00", ret.Fine.StringFixed(2))
}

func TestReturnTwiceConflicts(t *testing.T) {
	svc, _, _ := newTestEngine(t, defaultPolicy())
	ctx := context.Background()

	res, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 1}, "")
	require.NoError(t, err)

	_, err = svc.ProcessReturn(ctx, res.LoanULID)
	require.NoError(t, err)

	_, err = svc.ProcessReturn(ctx, res.LoanULID)
	requireCode(t, err, CodeLoanAlreadyClosed)
}

func TestReturnUnknownLoan(t *testing.T) {
	svc, _, _ := newTestEngine(t, defaultPolicy())
	_, err := svc.ProcessReturn(context.Background(), "01J0000000000000000000000X")
	requireCode(t, err, CodeNotFound)
}

// ===== fine collection =====

func TestCollectFineOnceThenConflict(t *testing.T) {
	svc, _, clock := newTestEngine(t, defaultPolicy())
	ctx := context.Background()

	res, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 1}, "")
	require.NoError(t, err)

	clock.Advance(17 * 24 * time.Hour)
	_, err = svc.ProcessReturn(ctx, res.LoanULID)
	require.NoError(t, err)

	col, err := svc.CollectFine(ctx, res.LoanULID)
	require.NoError(t, err)
	assert.Equal(t, "3.00", col.Fine.StringFixed(2))
	assert.True(t, col.FineCollected)

	_, err = svc.CollectFine(ctx, res.LoanULID)
	requireCode(t, err, CodeFineNotCollectible)
}

func TestCollectFineRejectsOpenLoan(t *testing.T) {
	svc, _, _ := newTestEngine(t, defaultPolicy())
	ctx := context.Background()

	res, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 1}, "")
	require.NoError(t, err)

	_, err = svc.CollectFine(ctx, res.LoanULID)
	requireCode(t, err, CodeFineNotCollectible)
}

func TestCollectFineRejectsZeroFine(t *testing.T) {
	svc, _, clock := newTestEngine(t, defaultPolicy())
	ctx := context.Background()

	res, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 1}, "")
	require.NoError(t, err)

	clock.Advance(10 * 24 * time.Hour)
	_, err = svc.ProcessReturn(ctx, res.LoanULID)
	require.NoError(t, err)

	_, err = svc.CollectFine(ctx, res.LoanULID)
	requireCode(t, err, CodeFineNotCollectible)
}

// ===== lost while borrowed =====

func TestReportLostClosesLoanAndMarksCopyLost(t *testing.T) {
	svc, store, clock := newTestEngine(t, defaultPolicy())
	ctx := context.Background()

	res, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 1}, "")
	require.NoError(t, err)

	clock.Advance(20 * 24 * time.Hour)
	ret, err := svc.ReportLost(ctx, res.LoanULID)
	require.NoError(t, err)

	// Default hook charges the regular overdue fine.
	assert.Equal(t, "6.00", ret.Fine.StringFixed(2))
	assert.Equal(t, copyLost, store.copies[1].Status)

	loan, err := store.GetLoanByULID(ctx, res.LoanULID)
	require.NoError(t, err)
	assert.False(t, loan.Open())
}

func TestReportLostWithWaiverHook(t *testing.T) {
	svc, _, clock := newTestEngine(t, defaultPolicy())
	svc.SetLostFine(func(*Loan, time.Time) decimal.Decimal { return decimal.Zero })
	ctx := context.Background()

	res, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 1}, "")
	require.NoError(t, err)

	clock.Advance(30 * 24 * time.Hour)
	ret, err := svc.ReportLost(ctx, res.LoanULID)
	require.NoError(t, err)
	assert.True(t, ret.Fine.IsZero())
}

func TestReportLostRejectsClosedLoan(t *testing.T) {
	svc, _, _ := newTestEngine(t, defaultPolicy())
	ctx := context.Background()

	res, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 1}, "")
	require.NoError(t, err)
	_, err = svc.ProcessReturn(ctx, res.LoanULID)
	require.NoError(t, err)

	_, err = svc.ReportLost(ctx, res.LoanULID)
	requireCode(t, err, CodeLoanAlreadyClosed)
}

// ===== policy =====

func TestPolicyChangeDoesNotTouchOpenLoans(t *testing.T) {
	svc, _, clock := newTestEngine(t, defaultPolicy())
	ctx := context.Background()

	res, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 1}, "")
	require.NoError(t, err)
	originalDue := res.DueAt

	_, err = svc.UpdatePolicy(ctx, UpdatePolicyRequest{
		LoanPeriodDays:    7,
		FinePerDay:        decimal.NewFromInt(2),
		MaxLoansPerMember: 3,
	})
	require.NoError(t, err)

	// The open loan keeps its snapshot: day 10 is within the original 14-day
	// period even though the policy now says 7.
	clock.Advance(10 * 24 * time.Hour)
	ret, err := svc.ProcessReturn(ctx, res.LoanULID)
	require.NoError(t, err)
	assert.True(t, ret.Fine.IsZero())

	loan, err := svc.GetLoanByKey(ctx, res.LoanULID)
	require.NoError(t, err)
	assert.Equal(t, originalDue, loan.DueAt)
	assert.Equal(t, 14, loan.LoanPeriodDays)

	// A fresh checkout uses the updated policy.
	res2, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "HYP-A", MemberID: 1}, "")
	require.NoError(t, err)
	assert.Equal(t, 7, res2.LoanPeriodDays)
	assert.Equal(t, clock.Now().Add(7*24*time.Hour), res2.DueAt)
}

func TestUpdatePolicyValidation(t *testing.T) {
	svc, _, _ := newTestEngine(t, defaultPolicy())
	ctx := context.Background()

	_, err := svc.UpdatePolicy(ctx, UpdatePolicyRequest{LoanPeriodDays: 0, MaxLoansPerMember: 3})
	requireCode(t, err, CodeInvalidArgument)

	_, err = svc.UpdatePolicy(ctx, UpdatePolicyRequest{LoanPeriodDays: 14, MaxLoansPerMember: 0})
	requireCode(t, err, CodeInvalidArgument)

	_, err = svc.UpdatePolicy(ctx, UpdatePolicyRequest{
		LoanPeriodDays: 14, MaxLoansPerMember: 3, FinePerDay: decimal.NewFromInt(-1),
	})
	requireCode(t, err, CodeInvalidArgument)
}

// ===== overdue query =====

func TestOverdueLoans(t *testing.T) {
	svc, _, clock := newTestEngine(t, defaultPolicy())
	ctx := context.Background()

	first, err := svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "DUNE-A", MemberID: 1}, "")
	require.NoError(t, err)

	// Second loan starts ten days later; only the first is overdue by day 15.
	clock.Advance(10 * 24 * time.Hour)
	_, err = svc.Checkout(ctx, CheckoutRequest{CopyBarcode: "HYP-A", MemberID: 1}, "")
	require.NoError(t, err)

	clock.Advance(5 * 24 * time.Hour)
	overdue, err := svc.OverdueLoans(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, first.LoanULID, overdue[0].LoanULID)

	// A returned loan stops being overdue.
	_, err = svc.ProcessReturn(ctx, first.LoanULID)
	require.NoError(t, err)
	overdue, err = svc.OverdueLoans(ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, overdue)
}
