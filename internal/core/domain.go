package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	MethodCash   PaymentMethod = "cash"
	MethodCheck  PaymentMethod = "check"
	MethodOnline PaymentMethod = "online"
)

type (
	PaymentMethod string

	// Date is a calendar date; the time-of-day part is always midnight UTC.
	Date struct {
		time.Time
	}

	// Payment is money received against a student. Once created only
	// PrintedAt and DeletedAt ever change.
	Payment struct {
		ID             string
		StudentID      string
		RecordedBy     string // cashier user id
		ReceiptNumber  ReceiptNumber
		Amount         Money
		PaymentDate    Date
		Purpose        string
		Method         PaymentMethod
		Notes          string
		IdempotencyKey string
		PrintedAt      *time.Time
		CreatedAt      time.Time
		DeletedAt      *time.Time // void marker
		VoidReason     string
	}

	// FeeStructure is a fee catalog entry for one grade level and school year.
	FeeStructure struct {
		ID         string
		GradeLevel string
		FeeType    string
		SchoolYear string
		Amount     Money
		Required   bool
		Active     bool
	}

	Student struct {
		ID         string
		FullName   string
		GradeLevel string // empty when unassigned
		Section    string
	}
)

var (
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidDay        = errors.New("invalid day")
	ErrInvalidMonth      = errors.New("invalid month")
	ErrEmptyPurpose      = errors.New("empty purpose")
	ErrEmptyStudent      = errors.New("empty student id")
	ErrEmptyRecorder     = errors.New("empty recorder id")
	ErrInvalidFeeCatalog = errors.New("invalid fee structure")
)

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	// Check basic ranges
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w %q: want YYYY-MM-DD", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

// Compact returns YYYYMMDD, the form embedded in receipt numbers.
func (d Date) Compact() string {
	return d.Format("20060102")
}

// ParsePaymentMethod normalizes a method name; empty input means cash.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	if m == "" {
		return MethodCash, nil
	}
	if !m.Valid() {
		return "", ErrInvalidMethod
	}
	return m, nil
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCheck, MethodOnline:
		return true
	default:
		return false
	}
}

func (p Payment) IsPrinted() bool { return p.PrintedAt != nil }

func (p Payment) IsVoided() bool { return p.DeletedAt != nil }

// Validate checks the caller-supplied fields of a payment that is about to be
// recorded. The receipt number is assigned later and is not checked here.
func (p Payment) Validate() error {
	if err := p.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.StudentID) == "" {
		return ErrEmptyStudent
	}
	if strings.TrimSpace(p.RecordedBy) == "" {
		return ErrEmptyRecorder
	}
	if err := p.PaymentDate.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.Purpose) == "" {
		return ErrEmptyPurpose
	}
	if len(p.Purpose) > 200 {
		return errors.New("purpose too long (max 200 characters)")
	}
	if !p.Method.Valid() {
		return ErrInvalidMethod
	}
	return nil
}

func (f FeeStructure) Validate() error {
	if strings.TrimSpace(f.GradeLevel) == "" ||
		strings.TrimSpace(f.FeeType) == "" ||
		strings.TrimSpace(f.SchoolYear) == "" {
		return ErrInvalidFeeCatalog
	}
	if f.Amount.IsNegative() || f.Amount.Cents > MaxAmountCents {
		return ErrInvalidAmount
	}
	return nil
}
