package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feeledger/internal/core"
	"feeledger/internal/log"
	"feeledger/internal/metrics"
)

// DefaultAllocatorAttempts bounds how many receipt numbers one record tries
// before giving up with core.ErrSequenceExhausted.
const DefaultAllocatorAttempts = 10

// SequenceQuerier is the slice of a transaction the allocator reads from.
type SequenceQuerier interface {
	MaxReceiptNumber(ctx context.Context, prefix string) (core.ReceiptNumber, error)
}

// AllocatorConfig holds configuration for the sequence allocator
type AllocatorConfig struct {
	// Location decides which calendar day an instant belongs to (default: UTC)
	Location *time.Location

	// MaxAttempts caps conflict retries per allocation (default: 10)
	MaxAttempts int
}

func DefaultAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{
		Location:    time.UTC,
		MaxAttempts: DefaultAllocatorAttempts,
	}
}

// SequenceAllocator mints RCP-YYYYMMDD-NNNN receipt numbers. It holds no
// lock: the store's unique index decides which of two concurrent writers
// gets a number, and the loser retries with the next one.
type SequenceAllocator struct {
	config  AllocatorConfig
	logger  *log.Logger
	metrics *metrics.Metrics
}

// NewSequenceAllocator creates an allocator; logger and m may be nil.
func NewSequenceAllocator(config AllocatorConfig, logger *log.Logger, m *metrics.Metrics) *SequenceAllocator {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultAllocatorAttempts
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &SequenceAllocator{
		config:  config,
		logger:  logger.WithComponent(log.ComponentAllocator),
		metrics: m,
	}
}

// Day returns the receipt day bucket for an instant.
func (a *SequenceAllocator) Day(t time.Time) core.Date {
	return core.DateOf(t, a.config.Location)
}

// Next returns the receipt number following the highest one already issued
// on day, voided payments included.
func (a *SequenceAllocator) Next(ctx context.Context, q SequenceQuerier, day core.Date) (core.ReceiptNumber, error) {
	seq, err := a.nextSequence(ctx, q, day)
	if err != nil {
		return "", err
	}
	return core.FormatReceiptNumber(day, seq)
}

// Allocate picks a candidate number and hands it to insert. When insert
// reports core.ErrReceiptConflict another writer took the number first;
// the allocator moves past it and tries again. Any other insert error is
// returned unchanged.
func (a *SequenceAllocator) Allocate(ctx context.Context, q SequenceQuerier, day core.Date, insert func(core.ReceiptNumber) error) (core.ReceiptNumber, error) {
	floor := 0
	for attempt := 1; attempt <= a.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		seq, err := a.nextSequence(ctx, q, day)
		if err != nil {
			return "", err
		}
		if seq < floor {
			seq = floor
		}
		candidate, err := core.FormatReceiptNumber(day, seq)
		if err != nil {
			a.metrics.AllocationExhausted()
			a.logger.WarnContext(ctx, "Daily receipt numbers used up", log.FieldDay, day.String())
			return "", err
		}

		err = insert(candidate)
		if err == nil {
			a.metrics.ReceiptAllocated()
			if attempt > 1 {
				a.logger.InfoContext(ctx, "Receipt allocated after conflicts",
					log.FieldReceipt, string(candidate),
					log.FieldAttempt, attempt)
			}
			return candidate, nil
		}
		if !errors.Is(err, core.ErrReceiptConflict) {
			return "", err
		}

		a.metrics.ReceiptConflict()
		a.logger.DebugContext(ctx, "Receipt number taken, retrying",
			log.FieldReceipt, string(candidate),
			log.FieldAttempt, attempt)
		floor = seq + 1
	}

	a.metrics.AllocationExhausted()
	a.logger.WarnContext(ctx, "Receipt allocation gave up",
		log.FieldDay, day.String(),
		log.FieldAttempt, a.config.MaxAttempts)
	return "", fmt.Errorf("allocate receipt for %s after %d attempts: %w", day, a.config.MaxAttempts, core.ErrSequenceExhausted)
}

func (a *SequenceAllocator) nextSequence(ctx context.Context, q SequenceQuerier, day core.Date) (int, error) {
	highest, err := q.MaxReceiptNumber(ctx, core.ReceiptDayPrefix(day))
	if err != nil {
		return 0, fmt.Errorf("read receipt sequence: %w", err)
	}
	if highest == "" {
		return 1, nil
	}
	_, seq, err := core.ParseReceiptNumber(string(highest))
	if err != nil {
		return 0, fmt.Errorf("read receipt sequence: %w", err)
	}
	return seq + 1, nil
}
