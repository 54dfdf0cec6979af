package core

import (
	"errors"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDateOfUsesLocation(t *testing.T) {
	manila := time.FixedZone("PHT", 8*3600)
	// 2025-10-18 17:30 UTC is already 2025-10-19 in Manila.
	instant := time.Date(2025, 10, 18, 17, 30, 0, 0, time.UTC)
	if got := DateOf(instant, time.UTC).Compact(); got != "20251018" {
		t.Fatalf("utc: expected 20251018, got %s", got)
	}
	if got := DateOf(instant, manila).Compact(); got != "20251019" {
		t.Fatalf("manila: expected 20251019, got %s", got)
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
	if err := (Money{Cents: -500}).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestParsePaymentMethod(t *testing.T) {
	cases := []struct {
		in   string
		want PaymentMethod
		ok   bool
	}{
		{"", MethodCash, true},
		{"cash", MethodCash, true},
		{" Check ", MethodCheck, true},
		{"ONLINE", MethodOnline, true},
		{"barter", "", false},
	}
	for _, tc := range cases {
		got, err := ParsePaymentMethod(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.want, got, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidMethod) {
			t.Fatalf("%q expected ErrInvalidMethod, got %v", tc.in, err)
		}
	}
}

func TestPaymentValidate(t *testing.T) {
	good := Payment{
		StudentID:   "stu-1",
		RecordedBy:  "cashier-1",
		Amount:      Money{Cents: 100},
		PaymentDate: NewDate(2025, 10, 18),
		Purpose:     "Tuition",
		Method:      MethodCash,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	mutate := func(f func(p *Payment)) Payment {
		p := good
		f(&p)
		return p
	}
	bads := []Payment{
		mutate(func(p *Payment) { p.Amount = Money{} }),
		mutate(func(p *Payment) { p.Amount = Money{Cents: -500} }),
		mutate(func(p *Payment) { p.Amount = Money{Cents: MaxAmountCents + 1} }),
		mutate(func(p *Payment) { p.StudentID = " " }),
		mutate(func(p *Payment) { p.RecordedBy = "" }),
		mutate(func(p *Payment) { p.PaymentDate = Date{} }),
		mutate(func(p *Payment) { p.Purpose = "" }),
		mutate(func(p *Payment) { p.Method = "barter" }),
	}
	for i, p := range bads {
		if err := p.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestPaymentFlags(t *testing.T) {
	now := time.Now()
	p := Payment{}
	if p.IsPrinted() || p.IsVoided() {
		t.Fatalf("fresh payment should be neither printed nor voided")
	}
	p.PrintedAt = &now
	p.DeletedAt = &now
	if !p.IsPrinted() || !p.IsVoided() {
		t.Fatalf("expected printed and voided")
	}
}

func TestFeeStructureValidate(t *testing.T) {
	good := FeeStructure{GradeLevel: "G7", FeeType: "tuition", SchoolYear: "2025-2026", Amount: Cents(500000), Active: true}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bad := good
	bad.FeeType = ""
	if err := bad.Validate(); !errors.Is(err, ErrInvalidFeeCatalog) {
		t.Fatalf("expected ErrInvalidFeeCatalog, got %v", err)
	}
	bad = good
	bad.Amount = Cents(-1)
	if err := bad.Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	bad.Amount = Cents(MaxAmountCents + 1)
	if err := bad.Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for oversized fee, got %v", err)
	}
}

func TestParseDateRejectsMalformedInput(t *testing.T) {
	d, err := ParseDate(" 2025-10-18 ")
	if err != nil || d.String() != "2025-10-18" {
		t.Fatalf("expected 2025-10-18, got %v (err=%v)", d, err)
	}
	for _, in := range []string{"18/10/2025", "2025-13-01", ""} {
		_, err := ParseDate(in)
		if !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("%q: expected ErrInvalidDate, got %v", in, err)
		}
		if Classify(err) != KindValidation {
			t.Fatalf("%q: expected validation kind, got %s", in, Classify(err))
		}
	}
}
