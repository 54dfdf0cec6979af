package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"feeledger/internal/core"
	"feeledger/internal/log"
	"feeledger/internal/metrics"
	"feeledger/internal/storage"
)

// EventPublisher announces committed payment transitions. Implementations
// must be safe for concurrent use.
type EventPublisher interface {
	PublishPaymentEvent(ctx context.Context, eventType core.PaymentEventType, p core.Payment) error
}

// SummaryInvalidator is told when a student's balance may have changed.
type SummaryInvalidator interface {
	InvalidateStudent(studentID string)
}

// RecordRequest is a cashier's payment entry as typed at the counter.
type RecordRequest struct {
	StudentID  string
	RecordedBy string
	// Amount is decimal text such as "1500.00" or "1500,00".
	Amount string
	// PaymentDate defaults to today in the school time zone.
	PaymentDate core.Date
	Purpose     string
	// Method defaults to cash.
	Method string
	Notes  string
	// IdempotencyKey makes retries of the same request return the payment
	// minted by the first attempt.
	IdempotencyKey string
}

// PaymentRecorder is the only writer of payments. Every payment it records
// gets a receipt number from the allocator inside the same transaction.
type PaymentRecorder struct {
	store     storage.Store
	allocator *SequenceAllocator
	events    EventPublisher
	summaries SummaryInvalidator
	logger    *log.Logger
	metrics   *metrics.Metrics

	now   func() time.Time
	newID func() string
}

// NewPaymentRecorder wires a recorder. events, summaries, logger and m may
// be nil.
func NewPaymentRecorder(
	store storage.Store,
	allocator *SequenceAllocator,
	events EventPublisher,
	summaries SummaryInvalidator,
	logger *log.Logger,
	m *metrics.Metrics,
) *PaymentRecorder {
	if logger == nil {
		logger = log.Nop()
	}
	return &PaymentRecorder{
		store:     store,
		allocator: allocator,
		events:    events,
		summaries: summaries,
		logger:    logger.WithComponent(log.ComponentRecorder),
		metrics:   m,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Record validates req and stores it as a new payment with a fresh receipt
// number. Nothing is written when any step fails.
func (r *PaymentRecorder) Record(ctx context.Context, req RecordRequest) (*core.Payment, error) {
	p, err := r.newPayment(req)
	if err != nil {
		return nil, err
	}
	day := r.allocator.Day(p.CreatedAt)

	replayed := false
	err = r.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetStudent(ctx, p.StudentID); err != nil {
			return err
		}

		if p.IdempotencyKey != "" {
			prev, err := lookupIdempotent(ctx, tx, p)
			if err != nil {
				return err
			}
			if prev != nil {
				p, replayed = *prev, true
				return nil
			}
		}

		_, err := r.allocator.Allocate(ctx, tx, day, func(candidate core.ReceiptNumber) error {
			p.ReceiptNumber = candidate
			return tx.InsertPayment(ctx, p)
		})
		return err
	})

	// A concurrent request with the same key committed first.
	if errors.Is(err, storage.ErrDuplicateIdempotencyKey) {
		return r.replay(ctx, p)
	}
	if err != nil {
		r.logger.WarnContext(ctx, "Payment not recorded", log.NewFields().
			WithOperation(log.OpRecord).
			WithStudent(p.StudentID).
			WithError(err).
			ToSlice()...)
		return nil, fmt.Errorf("record payment: %w", err)
	}

	if replayed {
		r.logger.InfoContext(ctx, "Idempotent retry returned existing payment",
			log.NewFields().WithOperation(log.OpRecord).WithPayment(p).ToSlice()...)
		return &p, nil
	}

	if !r.allocator.Day(r.now()).Equal(day.Time) {
		r.logger.DebugContext(ctx, "Receipt committed after midnight keeps the previous day",
			log.FieldReceipt, string(p.ReceiptNumber))
	}

	r.logger.InfoContext(ctx, "Payment recorded",
		log.NewFields().WithOperation(log.OpRecord).WithPayment(p).ToSlice()...)
	r.afterCommit(ctx, core.EventPaymentRecorded, p)
	return &p, nil
}

// Print marks the payment as printed. Only the first call sets the
// timestamp; later calls return the payment unchanged.
func (r *PaymentRecorder) Print(ctx context.Context, id string) (*core.Payment, error) {
	var (
		p       core.Payment
		changed bool
	)
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if p, err = tx.GetPayment(ctx, id); err != nil {
			return err
		}
		if p.IsVoided() {
			return core.ErrPaymentVoided
		}
		if p.IsPrinted() {
			return nil
		}
		if changed, err = tx.MarkPrinted(ctx, id, r.now().UTC()); err != nil {
			return err
		}
		// Re-read either way: a concurrent print may have won the update.
		p, err = tx.GetPayment(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("print payment %s: %w", id, err)
	}

	if changed {
		r.logger.InfoContext(ctx, "Receipt printed",
			log.NewFields().WithOperation(log.OpPrint).WithPayment(p).ToSlice()...)
		r.afterCommit(ctx, core.EventPaymentPrinted, p)
	}
	return &p, nil
}

// Void marks the payment as voided. The payment keeps its receipt number
// and stops counting toward the student's total paid. Voiding twice is a
// no-op.
func (r *PaymentRecorder) Void(ctx context.Context, id, reason string) (*core.Payment, error) {
	reason = strings.TrimSpace(reason)
	var (
		p       core.Payment
		changed bool
	)
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if p, err = tx.GetPayment(ctx, id); err != nil {
			return err
		}
		if p.IsVoided() {
			return nil
		}
		if changed, err = tx.MarkVoided(ctx, id, r.now().UTC(), reason); err != nil {
			return err
		}
		p, err = tx.GetPayment(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("void payment %s: %w", id, err)
	}

	if changed {
		r.logger.InfoContext(ctx, "Payment voided",
			log.NewFields().WithOperation(log.OpVoid).WithPayment(p).ToSlice()...)
		r.afterCommit(ctx, core.EventPaymentVoided, p)
	}
	return &p, nil
}

func (r *PaymentRecorder) newPayment(req RecordRequest) (core.Payment, error) {
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		return core.Payment{}, err
	}
	method, err := core.ParsePaymentMethod(req.Method)
	if err != nil {
		return core.Payment{}, err
	}

	createdAt := r.now().UTC()
	date := req.PaymentDate
	if date.IsZero() {
		date = r.allocator.Day(createdAt)
	}

	p := core.Payment{
		ID:             r.newID(),
		StudentID:      strings.TrimSpace(req.StudentID),
		RecordedBy:     strings.TrimSpace(req.RecordedBy),
		Amount:         core.Cents(cents),
		PaymentDate:    date,
		Purpose:        strings.TrimSpace(req.Purpose),
		Method:         method,
		Notes:          strings.TrimSpace(req.Notes),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		CreatedAt:      createdAt,
	}
	if err := p.Validate(); err != nil {
		return core.Payment{}, err
	}
	return p, nil
}

// replay answers a request whose idempotency key lost the insert race.
func (r *PaymentRecorder) replay(ctx context.Context, p core.Payment) (*core.Payment, error) {
	var prev *core.Payment
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		prev, err = lookupIdempotent(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	if prev == nil {
		return nil, fmt.Errorf("record payment: %w", storage.ErrDuplicateIdempotencyKey)
	}
	return prev, nil
}

// lookupIdempotent returns the payment already stored under p's key, nil
// if there is none, or core.ErrIdempotencyMismatch when the stored payment
// is for a different student or amount.
func lookupIdempotent(ctx context.Context, tx storage.Tx, p core.Payment) (*core.Payment, error) {
	prev, err := tx.GetPaymentByIdempotencyKey(ctx, p.IdempotencyKey)
	if errors.Is(err, core.ErrPaymentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if prev.StudentID != p.StudentID || prev.Amount != p.Amount {
		return nil, core.ErrIdempotencyMismatch
	}
	return &prev, nil
}

// afterCommit runs the side effects of a committed transition. They never
// fail the operation.
func (r *PaymentRecorder) afterCommit(ctx context.Context, eventType core.PaymentEventType, p core.Payment) {
	r.metrics.PaymentEvent(string(eventType))

	if r.summaries != nil && eventType != core.EventPaymentPrinted {
		r.summaries.InvalidateStudent(p.StudentID)
	}

	if r.events == nil {
		r.logger.DebugContext(ctx, "No event publisher configured, skipping event",
			log.FieldEventType, string(eventType))
		return
	}
	if err := r.events.PublishPaymentEvent(ctx, eventType, p); err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish payment event",
			log.NewFields().
				WithPayment(p).
				WithError(err).
				ToSlice()...)
	}
}
