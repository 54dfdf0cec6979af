package core

import "errors"

var (
	// ErrInvalidAmount: non-positive or malformed amount.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAmountOverflow: a total no longer fits in int64 cents.
	ErrAmountOverflow = errors.New("amount overflow")
	ErrInvalidMethod  = errors.New("invalid payment method")

	ErrStudentNotFound = errors.New("student not found")
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrReceiptConflict is returned by stores when a receipt number is
	// already taken. The allocator recovers from it locally.
	ErrReceiptConflict = errors.New("receipt number already taken")

	// ErrSequenceExhausted means the allocator ran out of attempts or of
	// daily sequence numbers. Callers should retry later.
	ErrSequenceExhausted = errors.New("receipt sequence exhausted")

	ErrIdempotencyMismatch = errors.New("idempotency key reused with different payment")
	// ErrPaymentVoided: a voided payment cannot be printed.
	ErrPaymentVoided = errors.New("payment is voided")
)

// ErrorKind groups errors by how a caller should react to them.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindRetryable  ErrorKind = "retryable"
	KindConflict   ErrorKind = "conflict"
	KindInternal   ErrorKind = "internal"
)

// Classify tells "your input was invalid" from "this record no longer
// exists" from "the system is busy, try again".
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidMethod),
		errors.Is(err, ErrEmptyPurpose),
		errors.Is(err, ErrEmptyStudent),
		errors.Is(err, ErrEmptyRecorder),
		errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidDay),
		errors.Is(err, ErrInvalidMonth),
		errors.Is(err, ErrInvalidFeeCatalog):
		return KindValidation
	case errors.Is(err, ErrStudentNotFound), errors.Is(err, ErrPaymentNotFound):
		return KindNotFound
	case errors.Is(err, ErrSequenceExhausted), errors.Is(err, ErrReceiptConflict):
		return KindRetryable
	case errors.Is(err, ErrIdempotencyMismatch), errors.Is(err, ErrPaymentVoided):
		return KindConflict
	default:
		return KindInternal
	}
}
