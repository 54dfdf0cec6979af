package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewSummaryStatus(t *testing.T) {
	expected := Cents(1000000) // 10000.00
	cases := []struct {
		paid    int64
		balance int64
		status  PaymentStatus
	}{
		{0, 1000000, StatusOutstanding},
		{700000, 300000, StatusPartial},
		{1000000, 0, StatusPaid},
		{1200000, -200000, StatusOverpaid},
	}
	for _, tc := range cases {
		s := NewSummary("stu-1", expected, Cents(tc.paid))
		if s.Balance.Cents != tc.balance || s.Status != tc.status {
			t.Fatalf("paid %d: expected balance %d/%s, got %d/%s",
				tc.paid, tc.balance, tc.status, s.Balance.Cents, s.Status)
		}
		if s.Balance != s.ExpectedFees.Sub(s.TotalPaid) {
			t.Fatalf("balance identity broken for paid %d", tc.paid)
		}
	}
}

func TestNewSummaryNoFees(t *testing.T) {
	if s := NewSummary("stu-1", Zero(), Zero()); s.Status != StatusPaid {
		t.Fatalf("no fees and no payments should be paid, got %s", s.Status)
	}
	if s := NewSummary("stu-1", Zero(), Cents(100)); s.Status != StatusOverpaid {
		t.Fatalf("payment without fees should be overpaid, got %s", s.Status)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		kind ErrorKind
	}{
		{nil, ""},
		{fmt.Errorf("record: %w", ErrInvalidAmount), KindValidation},
		{ErrInvalidMethod, KindValidation},
		{fmt.Errorf("lookup: %w", ErrStudentNotFound), KindNotFound},
		{ErrPaymentNotFound, KindNotFound},
		{fmt.Errorf("allocate: %w", ErrSequenceExhausted), KindRetryable},
		{ErrIdempotencyMismatch, KindConflict},
		{fmt.Errorf("print: %w", ErrPaymentVoided), KindConflict},
		{errors.New("disk on fire"), KindInternal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.kind {
			t.Fatalf("%v: expected %q, got %q", tc.err, tc.kind, got)
		}
	}
}
