package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"feeledger/internal/core"
	"feeledger/internal/storage"
	"feeledger/internal/storage/memory"
)

// school is UTC+8: 17:00 UTC is already the next calendar day.
var school = time.FixedZone("school", 8*60*60)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type publishedEvent struct {
	Type    core.PaymentEventType
	Payment core.Payment
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) PublishPaymentEvent(_ context.Context, eventType core.PaymentEventType, payment core.Payment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Type: eventType, Payment: payment})
	return p.err
}

func (p *recordingPublisher) Types() []core.PaymentEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.PaymentEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store      storage.Store
	clock      *fakeClock
	events     *recordingPublisher
	allocator  *SequenceAllocator
	aggregator *LedgerAggregator
	recorder   *PaymentRecorder
}

type backendCase struct {
	name string
	open func(t *testing.T) storage.Store
}

var backends = []backendCase{
	{"memory", func(t *testing.T) storage.Store { return memory.New() }},
	{"sqlite", func(t *testing.T) storage.Store {
		repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		return repo
	}},
}

func newFixture(t *testing.T, store storage.Store, aggConfig AggregatorConfig) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 10, 18, 2, 0, 0, 0, time.UTC)} // 10:00 at school
	events := &recordingPublisher{}
	allocator := NewSequenceAllocator(AllocatorConfig{Location: school, MaxAttempts: 10}, nil, nil)

	aggregator, err := NewLedgerAggregator(store, NewFeeCatalog(store), aggConfig, nil, nil)
	require.NoError(t, err)

	recorder := NewPaymentRecorder(store, allocator, events, aggregator, nil, nil)
	recorder.now = clock.Now

	return &fixture{
		store:      store,
		clock:      clock,
		events:     events,
		allocator:  allocator,
		aggregator: aggregator,
		recorder:   recorder,
	}
}

// seedStudent adds a student in grade "7" whose active fees total expected.
func (f *fixture) seedStudent(t *testing.T, id string, expected string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.UpsertStudent(ctx, core.Student{ID: id, FullName: "Student " + id, GradeLevel: "7"}))
	if expected == "" {
		return
	}
	amount, err := core.ParseMoney(expected)
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertFeeStructure(ctx, core.FeeStructure{
		GradeLevel: "7",
		FeeType:    "tuition",
		SchoolYear: "2025-2026",
		Amount:     amount,
		Required:   true,
		Active:     true,
	}))
	f.aggregator.InvalidateCatalog()
}

func (f *fixture) record(t *testing.T, studentID, amount string) *core.Payment {
	t.Helper()
	p, err := f.recorder.Record(context.Background(), RecordRequest{
		StudentID:  studentID,
		RecordedBy: "cashier-1",
		Amount:     amount,
		Purpose:    "Tuition",
	})
	require.NoError(t, err)
	return p
}

func receipt(day string, seq int) core.ReceiptNumber {
	return core.ReceiptNumber(fmt.Sprintf("RCP-%s-%04d", day, seq))
}

// staleStore hands out transactions whose receipt reads never see committed
// rows, the view a writer racing another one would have.
type staleStore struct {
	storage.Store
}

func (s staleStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return fn(ctx, staleTx{tx})
	})
}

type staleTx struct {
	storage.Tx
}

func (staleTx) MaxReceiptNumber(context.Context, string) (core.ReceiptNumber, error) {
	return "", nil
}
