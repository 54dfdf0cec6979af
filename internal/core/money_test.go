package core

import "testing"

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{".5", 50, true},
		{"1.005", 101, true}, // half-up rounding
		{"1.0049", 100, true},
		{" 2.50 ", 250, true},
		{"10000.00", 1000000, true},
		{"-1", 0, false},
		{"-5.00", 0, false},
		{"+5.00", 0, false},
		{"0", 0, false},
		{"0.00", 0, false},
		{"0.004", 0, false}, // rounds to zero
		{"abc", 0, false},
		{"1e3", 0, false},
		{"1.2.3", 0, false},
		{".", 0, false},
		{"", 0, false},
		{"99999999999999999999", 0, false},
		{"100000000.00", 10_000_000_000, true},
		{"100000000.01", 0, false},
		{"92233720368547758.07", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestParseMoneySigned(t *testing.T) {
	cases := []struct {
		in  string
		out int64
	}{
		{"-2000.00", -200000},
		{"0", 0},
		{"+12,5", 1250},
		{"3000", 300000},
	}
	for _, tc := range cases {
		got, err := ParseMoney(tc.in)
		if err != nil || got.Cents != tc.out {
			t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got.Cents, err)
		}
	}
	if _, err := ParseMoney("--1"); err == nil {
		t.Fatalf("expected error for double sign")
	}
}

func TestMoneyArithmetic(t *testing.T) {
	expected := Cents(1000000)
	paid, err := Sum(Cents(700000), Cents(500000))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	balance := expected.Sub(paid)
	if balance.Cents != -200000 {
		t.Fatalf("expected -200000, got %d", balance.Cents)
	}
	if balance.Sign() != -1 || !balance.IsNegative() {
		t.Fatalf("expected negative balance")
	}
	if got := balance.String(); got != "-2000.00" {
		t.Fatalf("expected -2000.00, got %s", got)
	}
	if got := Zero().String(); got != "0.00" {
		t.Fatalf("expected 0.00, got %s", got)
	}
	if Cents(5).Cmp(Cents(5)) != 0 || Cents(4).Cmp(Cents(5)) != -1 || Cents(6).Cmp(Cents(5)) != 1 {
		t.Fatalf("unexpected Cmp results")
	}
	if !balance.Neg().Add(balance).IsZero() {
		t.Fatalf("x + -x should be zero")
	}
}

func TestMoneyValidateBounds(t *testing.T) {
	cases := []struct {
		cents int64
		ok    bool
	}{
		{1, true},
		{MaxAmountCents, true},
		{MaxAmountCents + 1, false},
		{0, false},
		{-1, false},
	}
	for _, tc := range cases {
		err := Cents(tc.cents).Validate()
		if tc.ok && err != nil {
			t.Fatalf("%d: unexpected error %v", tc.cents, err)
		}
		if !tc.ok && err != ErrInvalidAmount {
			t.Fatalf("%d: expected ErrInvalidAmount, got %v", tc.cents, err)
		}
	}
}

func TestSumReportsOverflow(t *testing.T) {
	const maxInt64 = int64(^uint64(0) >> 1)
	if _, err := Sum(Cents(maxInt64), Cents(1)); err != ErrAmountOverflow {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
	if _, err := Sum(Cents(-maxInt64-1), Cents(-1)); err != ErrAmountOverflow {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
	got, err := Sum(Cents(maxInt64), Cents(-1), Cents(1))
	if err != nil || got.Cents != maxInt64 {
		t.Fatalf("expected %d, got %d (err=%v)", maxInt64, got.Cents, err)
	}
}
