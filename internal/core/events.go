package core

// PaymentEventType names a payment lifecycle transition announced to other
// systems after it commits.
type PaymentEventType string

const (
	EventPaymentRecorded PaymentEventType = "payment.recorded"
	EventPaymentPrinted  PaymentEventType = "payment.printed"
	EventPaymentVoided   PaymentEventType = "payment.voided"
)

func (t PaymentEventType) Valid() bool {
	switch t {
	case EventPaymentRecorded, EventPaymentPrinted, EventPaymentVoided:
		return true
	default:
		return false
	}
}
