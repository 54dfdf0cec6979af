package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"feeledger/internal/cache"
	"feeledger/internal/core"
	"feeledger/internal/log"
	"feeledger/internal/metrics"
)

// LedgerReader is the read side of the payment store the aggregator needs.
type LedgerReader interface {
	GetStudent(ctx context.Context, id string) (core.Student, error)
	// SumPaid sums the non-voided payments of a student.
	SumPaid(ctx context.Context, studentID string) (core.Money, error)
}

// AggregatorConfig holds configuration for the ledger aggregator
type AggregatorConfig struct {
	// Concurrency bounds SummarizeMany fan-out (default: 4)
	Concurrency int

	// CacheTTL enables the summary cache when positive (default: disabled)
	CacheTTL time.Duration

	// CacheSize is the maximum number of cached summaries (default: 1024)
	CacheSize int
}

func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Concurrency: 4,
		CacheSize:   1024,
	}
}

// LedgerAggregator derives a student's financial position from the fee
// catalog and the non-voided payments. Nothing it computes is stored.
type LedgerAggregator struct {
	ledger  LedgerReader
	catalog *FeeCatalog
	config  AggregatorConfig
	logger  *log.Logger
	metrics *metrics.Metrics

	// summaries is nil when caching is disabled. generation is bumped by
	// every invalidation; a summary computed across a bump is not cached.
	summaries  cache.Cache[core.Summary]
	mu         sync.Mutex
	generation uint64
}

func NewLedgerAggregator(ledger LedgerReader, catalog *FeeCatalog, config AggregatorConfig, logger *log.Logger, m *metrics.Metrics) (*LedgerAggregator, error) {
	defaults := DefaultAggregatorConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.CacheSize <= 0 {
		config.CacheSize = defaults.CacheSize
	}
	if logger == nil {
		logger = log.Nop()
	}

	a := &LedgerAggregator{
		ledger:  ledger,
		catalog: catalog,
		config:  config,
		logger:  logger.WithComponent(log.ComponentAggregator),
		metrics: m,
	}
	if config.CacheTTL > 0 {
		c, err := cache.NewLRUCache[core.Summary](config.CacheSize, config.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("create summary cache: %w", err)
		}
		a.summaries = c
	}
	return a, nil
}

// Cache returns the summary cache so it can be registered for cleanup, or
// nil when caching is disabled.
func (a *LedgerAggregator) Cache() cache.Cache[core.Summary] {
	return a.summaries
}

// Summarize computes expected fees, total paid, balance and status for a
// student. Unknown students yield core.ErrStudentNotFound.
func (a *LedgerAggregator) Summarize(ctx context.Context, studentID string) (core.Summary, error) {
	gen := a.currentGeneration()
	if a.summaries != nil {
		if s, ok := a.summaries.Get(studentID); ok {
			a.metrics.SummaryLookup(true)
			return s, nil
		}
	}
	a.metrics.SummaryLookup(false)

	student, err := a.ledger.GetStudent(ctx, studentID)
	if err != nil {
		return core.Summary{}, fmt.Errorf("summarize %s: %w", studentID, err)
	}
	expected, err := a.catalog.ExpectedFees(ctx, student.GradeLevel)
	if err != nil {
		return core.Summary{}, fmt.Errorf("summarize %s: %w", studentID, err)
	}
	paid, err := a.ledger.SumPaid(ctx, studentID)
	if err != nil {
		return core.Summary{}, fmt.Errorf("summarize %s: %w", studentID, err)
	}

	s := core.NewSummary(studentID, expected, paid)
	a.store(gen, s)
	return s, nil
}

// SummarizeMany summarizes several students concurrently. Results are in
// the order of ids; the first failure cancels the rest and is returned.
func (a *LedgerAggregator) SummarizeMany(ctx context.Context, ids []string) ([]core.Summary, error) {
	out := make([]core.Summary, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Concurrency)

	for i, id := range ids {
		g.Go(func() error {
			s, err := a.Summarize(gctx, id)
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.logger.DebugContext(ctx, "Summarized students", log.FieldCount, len(ids))
	return out, nil
}

// InvalidateStudent drops the cached summary of one student. The recorder
// calls it after every record and void.
func (a *LedgerAggregator) InvalidateStudent(studentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generation++
	if a.summaries != nil {
		a.summaries.Delete(studentID)
	}
}

// InvalidateCatalog drops every cached summary; fee changes affect all
// students of a grade.
func (a *LedgerAggregator) InvalidateCatalog() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generation++
	if a.summaries != nil {
		a.summaries.Purge()
	}
}

func (a *LedgerAggregator) currentGeneration() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}

func (a *LedgerAggregator) store(gen uint64, s core.Summary) {
	if a.summaries == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen == a.generation {
		a.summaries.Set(s.StudentID, s)
	}
}
