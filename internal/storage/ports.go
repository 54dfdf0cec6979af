package storage

import (
	"context"
	"errors"
	"time"

	"feeledger/internal/core"
)

// ErrDuplicateIdempotencyKey is returned by InsertPayment when another
// payment already carries the same idempotency key.
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")

// Ports implemented by every persistence backend.
type (
	// Reader serves read-committed queries outside any transaction.
	Reader interface {
		GetStudent(ctx context.Context, id string) (core.Student, error)
		GetPayment(ctx context.Context, id string) (core.Payment, error)
		// ListPayments returns a student's payments ordered by receipt number.
		ListPayments(ctx context.Context, studentID string, includeVoided bool) ([]core.Payment, error)
		// ActiveFees returns active fee rows for a grade level.
		ActiveFees(ctx context.Context, gradeLevel string) ([]core.FeeStructure, error)
		// SumActiveFees sums active fee amounts for a grade level.
		SumActiveFees(ctx context.Context, gradeLevel string) (core.Money, error)
		// SumPaid sums the non-voided payments of a student.
		SumPaid(ctx context.Context, studentID string) (core.Money, error)
	}

	// Tx is the unit of work handed to RunInTx callbacks.
	Tx interface {
		GetStudent(ctx context.Context, id string) (core.Student, error)
		GetPayment(ctx context.Context, id string) (core.Payment, error)
		GetPaymentByIdempotencyKey(ctx context.Context, key string) (core.Payment, error)
		// MaxReceiptNumber returns the highest receipt number starting with
		// prefix across all payments, voided ones included, or "" if none.
		MaxReceiptNumber(ctx context.Context, prefix string) (core.ReceiptNumber, error)
		// InsertPayment returns core.ErrReceiptConflict when the receipt
		// number is taken. A failed insert leaves the transaction usable.
		InsertPayment(ctx context.Context, p core.Payment) error
		// MarkPrinted sets printed_at only if it is still null and reports
		// whether this call set it.
		MarkPrinted(ctx context.Context, id string, at time.Time) (bool, error)
		// MarkVoided sets deleted_at only if it is still null and reports
		// whether this call set it.
		MarkVoided(ctx context.Context, id string, at time.Time, reason string) (bool, error)
	}

	// CatalogWriter is used by seeding and the catalog collaborator; the
	// ledger core never writes fees or students.
	CatalogWriter interface {
		UpsertStudent(ctx context.Context, s core.Student) error
		UpsertFeeStructure(ctx context.Context, f core.FeeStructure) error
	}

	// ExportTracker records which payments reached the receipt register.
	ExportTracker interface {
		ListUnexported(ctx context.Context, limit int) ([]core.Payment, error)
		MarkExported(ctx context.Context, id string, at time.Time) error
	}

	Store interface {
		Reader
		CatalogWriter
		ExportTracker
		// RunInTx runs fn in a single transaction. A non-nil error from fn,
		// a panic, or a cancelled ctx rolls everything back.
		RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
		Close() error
	}
)
