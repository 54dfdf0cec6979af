package core

const (
	StatusOutstanding PaymentStatus = "outstanding"
	StatusPartial     PaymentStatus = "partial"
	StatusPaid        PaymentStatus = "paid"
	StatusOverpaid    PaymentStatus = "overpaid"
)

// PaymentStatus is the derived settlement state of a student's account.
type PaymentStatus string

// Summary is a student's financial position. It is computed on every read
// and never stored.
type Summary struct {
	StudentID    string
	ExpectedFees Money
	TotalPaid    Money
	Balance      Money // positive: owed, negative: overpaid
	Status       PaymentStatus
}

// NewSummary derives balance and status from expected fees and total paid.
func NewSummary(studentID string, expected, paid Money) Summary {
	balance := expected.Sub(paid)
	return Summary{
		StudentID:    studentID,
		ExpectedFees: expected,
		TotalPaid:    paid,
		Balance:      balance,
		Status:       DeriveStatus(balance, paid),
	}
}

// DeriveStatus applies the settlement rules in order.
func DeriveStatus(balance, paid Money) PaymentStatus {
	switch {
	case balance.IsNegative():
		return StatusOverpaid
	case balance.IsZero():
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusOutstanding
	}
}
