package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"feeledger/internal/amqp"
	"feeledger/internal/core"
	"feeledger/internal/log"
	"feeledger/internal/metrics"
	"feeledger/internal/sheets"
)

// Store is the slice of storage the worker needs.
type Store interface {
	GetPayment(ctx context.Context, id string) (core.Payment, error)
	ListUnexported(ctx context.Context, limit int) ([]core.Payment, error)
	MarkExported(ctx context.Context, id string, at time.Time) error
}

// BalanceChecker reports a student's position after a payment changes.
type BalanceChecker interface {
	InvalidateStudent(studentID string)
	Summarize(ctx context.Context, studentID string) (core.Summary, error)
}

type Config struct {
	// BatchSize caps the payments exported per sweep.
	BatchSize int
	// Concurrency caps parallel register writes within a sweep.
	Concurrency int
	// RatePerSecond throttles register writes; zero means unlimited.
	RatePerSecond float64
	Burst         int
	// MaxTries bounds attempts per register write.
	MaxTries       uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// SweepInterval is how often unexported payments are picked up.
	SweepInterval time.Duration
	// EphemeralRegister marks a register that does not outlive the process.
	// Exports to it are not recorded in the store and the sweep is off, so
	// a later run against the real register still sees every payment.
	EphemeralRegister bool
}

func DefaultConfig() Config {
	return Config{
		BatchSize:      50,
		Concurrency:    4,
		RatePerSecond:  1,
		Burst:          5,
		MaxTries:       5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		SweepInterval:  time.Minute,
	}
}

// ExportWorker copies payments into the receipt register. Events drive the
// fast path; the periodic sweep catches payments whose events were lost.
type ExportWorker struct {
	store    Store
	register sheets.Register
	balances BalanceChecker
	limiter  *rate.Limiter
	config   Config
	logger   *log.Logger
	metrics  *metrics.Metrics
	locks    *paymentLocks
	now      func() time.Time
}

// NewExportWorker builds a worker. balances, logger and m may be nil.
func NewExportWorker(store Store, register sheets.Register, balances BalanceChecker, config Config, logger *log.Logger, m *metrics.Metrics) *ExportWorker {
	def := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.MaxTries == 0 {
		config.MaxTries = def.MaxTries
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = def.SweepInterval
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	limit := rate.Inf
	if config.RatePerSecond > 0 {
		limit = rate.Limit(config.RatePerSecond)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &ExportWorker{
		store:    store,
		register: register,
		balances: balances,
		limiter:  rate.NewLimiter(limit, config.Burst),
		config:   config,
		logger:   logger.WithComponent(log.ComponentWorker),
		metrics:  m,
		locks:    newPaymentLocks(),
		now:      time.Now,
	}
}

// HandleEvent applies one payment event to the register. Recorded payments
// are appended; printed and voided ones get their status cell rewritten,
// or are appended with the current status if no row exists yet.
func (w *ExportWorker) HandleEvent(ctx context.Context, msg *amqp.PaymentEventMessage) error {
	unlock := w.locks.lock(msg.PaymentID)
	defer unlock()

	p, err := w.store.GetPayment(ctx, msg.PaymentID)
	if err != nil {
		return fmt.Errorf("load payment %s: %w", msg.PaymentID, err)
	}

	switch msg.Type {
	case core.EventPaymentRecorded:
		if err := w.export(ctx, p); err != nil {
			return err
		}
	case core.EventPaymentPrinted, core.EventPaymentVoided:
		err := w.retry(ctx, func() error { return w.register.UpdateReceiptStatus(ctx, p) })
		if errors.Is(err, sheets.ErrRowNotFound) {
			err = w.export(ctx, p)
		}
		if err != nil {
			return fmt.Errorf("update status of %s: %w", p.ReceiptNumber, err)
		}
	default:
		return fmt.Errorf("unknown event type %q", msg.Type)
	}

	if msg.Type != core.EventPaymentPrinted {
		w.checkBalance(ctx, p.StudentID)
	}
	return nil
}

// Sweep exports one batch of payments that never reached the register. It
// returns how many were exported; failures are collected, not fatal.
func (w *ExportWorker) Sweep(ctx context.Context) (int, error) {
	pending, err := w.store.ListUnexported(ctx, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unexported payments: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var (
		mu       sync.Mutex
		exported int
		result   *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.Concurrency)
	for _, p := range pending {
		g.Go(func() error {
			unlock := w.locks.lock(p.ID)
			err := w.export(gctx, p)
			unlock()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", p.ReceiptNumber, err))
				return nil
			}
			exported++
			return nil
		})
	}
	_ = g.Wait()

	w.logger.InfoContext(ctx, "Export sweep finished",
		log.FieldOperation, log.OpExport,
		log.FieldCount, exported,
		"failed", len(pending)-exported)
	return exported, result.ErrorOrNil()
}

// Run sweeps once at startup and then every SweepInterval until ctx ends.
// With an ephemeral register it only waits for ctx.
func (w *ExportWorker) Run(ctx context.Context) {
	if w.config.EphemeralRegister {
		w.logger.InfoContext(ctx, "Register is not persistent, export sweep disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(w.config.SweepInterval)
	defer ticker.Stop()

	for {
		if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.logger.WarnContext(ctx, "Export sweep had failures", log.FieldError, err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *ExportWorker) export(ctx context.Context, p core.Payment) error {
	var ref string
	err := w.retry(ctx, func() error {
		var err error
		ref, err = w.register.AppendReceipt(ctx, p)
		return err
	})
	if err != nil {
		w.metrics.Export(false)
		w.logger.ErrorContext(ctx, "Failed to export payment",
			log.NewFields().WithOperation(log.OpExport).WithPayment(p).WithError(err).ToSlice()...)
		return fmt.Errorf("append %s: %w", p.ReceiptNumber, err)
	}

	if w.config.EphemeralRegister {
		w.metrics.Export(true)
		w.logger.DebugContext(ctx, "Exported payment to ephemeral register",
			log.FieldReceipt, string(p.ReceiptNumber),
			log.FieldSheetsRef, ref)
		return nil
	}
	if err := w.store.MarkExported(ctx, p.ID, w.now().UTC()); err != nil {
		// The row exists; the next sweep re-appends idempotently.
		w.logger.WarnContext(ctx, "Failed to mark payment exported",
			log.NewFields().WithPayment(p).WithError(err).ToSlice()...)
	}
	w.metrics.Export(true)
	w.logger.InfoContext(ctx, "Exported payment",
		log.FieldReceipt, string(p.ReceiptNumber),
		log.FieldSheetsRef, ref)
	return nil
}

// retry waits for the rate limiter before each attempt and backs off
// between failures. A missing row is final.
func (w *ExportWorker) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.config.InitialBackoff
	b.MaxInterval = w.config.MaxBackoff

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := w.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		err := op()
		if errors.Is(err, sheets.ErrRowNotFound) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(w.config.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.logger.DebugContext(ctx, "Register write failed, retrying",
				log.FieldError, err.Error(),
				log.FieldAttempt, attempt,
				"next", next)
		}),
	)
	return err
}

func (w *ExportWorker) checkBalance(ctx context.Context, studentID string) {
	if w.balances == nil {
		return
	}
	w.balances.InvalidateStudent(studentID)
	s, err := w.balances.Summarize(ctx, studentID)
	if err != nil {
		w.logger.WarnContext(ctx, "Balance check failed",
			log.NewFields().WithStudent(studentID).WithError(err).ToSlice()...)
		return
	}
	if s.Status == core.StatusOverpaid {
		w.logger.WarnContext(ctx, "Student account is overpaid",
			log.FieldStudentID, studentID,
			"balance", s.Balance.String(),
			"total_paid", s.TotalPaid.String())
	}
}
