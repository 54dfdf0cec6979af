// Package memory is an in-process Store with the same uniqueness rules as
// the SQLite schema. It backs local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"feeledger/internal/core"
	"feeledger/internal/storage"
)

type Store struct {
	mu       sync.RWMutex
	students map[string]core.Student
	fees     map[string]core.FeeStructure // key: grade|type|year
	payments map[string]core.Payment
	exported map[string]time.Time
	receipts map[core.ReceiptNumber]string // receipt -> payment id
	idemKeys map[string]string             // idempotency key -> payment id

	// txMu serializes transactions the way SQLite's single writer does.
	txMu sync.Mutex
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		students: make(map[string]core.Student),
		fees:     make(map[string]core.FeeStructure),
		payments: make(map[string]core.Payment),
		exported: make(map[string]time.Time),
		receipts: make(map[core.ReceiptNumber]string),
		idemKeys: make(map[string]string),
	}
}

func (s *Store) Close() error { return nil }

// RunInTx stages fn's writes in the transaction and publishes them only when
// fn succeeds, so concurrent readers never see uncommitted payments.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := newMemTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	// Cancellation before commit aborts like a database would.
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) GetStudent(_ context.Context, id string) (core.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[id]
	if !ok {
		return core.Student{}, core.ErrStudentNotFound
	}
	return st, nil
}

func (s *Store) GetPayment(_ context.Context, id string) (core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPaymentLocked(id)
}

func (s *Store) ListPayments(_ context.Context, studentID string, includeVoided bool) ([]core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Payment
	for _, p := range s.payments {
		if p.StudentID != studentID || (!includeVoided && p.IsVoided()) {
			continue
		}
		out = append(out, clonePayment(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceiptNumber < out[j].ReceiptNumber })
	return out, nil
}

func (s *Store) ActiveFees(_ context.Context, gradeLevel string) ([]core.FeeStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.FeeStructure
	for _, f := range s.fees {
		if f.Active && f.GradeLevel == gradeLevel {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SchoolYear != out[j].SchoolYear {
			return out[i].SchoolYear < out[j].SchoolYear
		}
		return out[i].FeeType < out[j].FeeType
	})
	return out, nil
}

func (s *Store) SumActiveFees(ctx context.Context, gradeLevel string) (core.Money, error) {
	fees, err := s.ActiveFees(ctx, gradeLevel)
	if err != nil {
		return core.Money{}, err
	}
	amounts := make([]core.Money, 0, len(fees))
	for _, f := range fees {
		amounts = append(amounts, f.Amount)
	}
	total, err := core.Sum(amounts...)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum active fees: %w", err)
	}
	return total, nil
}

func (s *Store) SumPaid(_ context.Context, studentID string) (core.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var amounts []core.Money
	for _, p := range s.payments {
		if p.StudentID == studentID && !p.IsVoided() {
			amounts = append(amounts, p.Amount)
		}
	}
	total, err := core.Sum(amounts...)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum paid: %w", err)
	}
	return total, nil
}

func (s *Store) UpsertStudent(_ context.Context, st core.Student) error {
	if strings.TrimSpace(st.ID) == "" {
		return core.ErrEmptyStudent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[st.ID] = st
	return nil
}

func (s *Store) UpsertFeeStructure(_ context.Context, f core.FeeStructure) error {
	if err := f.Validate(); err != nil {
		return err
	}
	key := strings.Join([]string{f.GradeLevel, f.FeeType, f.SchoolYear}, "|")
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.fees[key]; ok {
		f.ID = existing.ID
	} else if f.ID == "" {
		f.ID = strings.Join([]string{f.GradeLevel, f.FeeType, f.SchoolYear}, ":")
	}
	s.fees[key] = f
	return nil
}

func (s *Store) ListUnexported(_ context.Context, limit int) ([]core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Payment
	for id, p := range s.payments {
		if _, done := s.exported[id]; !done {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ReceiptNumber < out[j].ReceiptNumber
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkExported(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[id]; !ok {
		return core.ErrPaymentNotFound
	}
	s.exported[id] = at
	return nil
}

func (s *Store) getPaymentLocked(id string) (core.Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return core.Payment{}, core.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

// memTx holds the rows written through it until commit. Transactions are
// serialized by txMu, so staged rows only need to be checked against the
// committed maps.
type memTx struct {
	s        *Store
	payments map[string]core.Payment
	receipts map[core.ReceiptNumber]string
	idemKeys map[string]string
}

func newMemTx(s *Store) *memTx {
	return &memTx{
		s:        s,
		payments: make(map[string]core.Payment),
		receipts: make(map[core.ReceiptNumber]string),
		idemKeys: make(map[string]string),
	}
}

func (t *memTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, p := range t.payments {
		t.s.payments[id] = p
	}
	for r, id := range t.receipts {
		t.s.receipts[r] = id
	}
	for k, id := range t.idemKeys {
		t.s.idemKeys[k] = id
	}
}

func (t *memTx) GetStudent(ctx context.Context, id string) (core.Student, error) {
	return t.s.GetStudent(ctx, id)
}

func (t *memTx) GetPayment(_ context.Context, id string) (core.Payment, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.paymentLocked(id)
}

func (t *memTx) GetPaymentByIdempotencyKey(_ context.Context, key string) (core.Payment, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	id, ok := t.idemKeys[key]
	if !ok {
		if id, ok = t.s.idemKeys[key]; !ok {
			return core.Payment{}, core.ErrPaymentNotFound
		}
	}
	return t.paymentLocked(id)
}

func (t *memTx) MaxReceiptNumber(_ context.Context, prefix string) (core.ReceiptNumber, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var highest core.ReceiptNumber
	for _, receipts := range []map[core.ReceiptNumber]string{t.s.receipts, t.receipts} {
		for r := range receipts {
			if strings.HasPrefix(string(r), prefix) && r > highest {
				highest = r
			}
		}
	}
	return highest, nil
}

func (t *memTx) InsertPayment(_ context.Context, p core.Payment) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	if _, ok := t.s.students[p.StudentID]; !ok {
		return core.ErrStudentNotFound
	}
	if _, err := t.paymentLocked(p.ID); err == nil {
		return errors.New("duplicate payment id")
	}
	if t.receiptTakenLocked(p.ReceiptNumber) {
		return core.ErrReceiptConflict
	}
	if p.IdempotencyKey != "" {
		_, staged := t.idemKeys[p.IdempotencyKey]
		_, committed := t.s.idemKeys[p.IdempotencyKey]
		if staged || committed {
			return storage.ErrDuplicateIdempotencyKey
		}
	}

	t.payments[p.ID] = clonePayment(p)
	t.receipts[p.ReceiptNumber] = p.ID
	if p.IdempotencyKey != "" {
		t.idemKeys[p.IdempotencyKey] = p.ID
	}
	return nil
}

func (t *memTx) MarkPrinted(_ context.Context, id string, at time.Time) (bool, error) {
	return t.update(id, func(p *core.Payment) bool {
		if p.PrintedAt != nil {
			return false
		}
		p.PrintedAt = &at
		return true
	})
}

func (t *memTx) MarkVoided(_ context.Context, id string, at time.Time, reason string) (bool, error) {
	return t.update(id, func(p *core.Payment) bool {
		if p.DeletedAt != nil {
			return false
		}
		p.DeletedAt = &at
		p.VoidReason = reason
		return true
	})
}

// update stages mutate's change to a payment and reports whether mutate
// changed anything. Missing rows are a no-op, matching an UPDATE.
func (t *memTx) update(id string, mutate func(p *core.Payment) bool) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	p, err := t.paymentLocked(id)
	if errors.Is(err, core.ErrPaymentNotFound) {
		return false, nil
	}
	if !mutate(&p) {
		return false, nil
	}
	t.payments[id] = p
	return true, nil
}

// paymentLocked reads the staged row first, then the committed one.
func (t *memTx) paymentLocked(id string) (core.Payment, error) {
	if p, ok := t.payments[id]; ok {
		return clonePayment(p), nil
	}
	return t.s.getPaymentLocked(id)
}

func (t *memTx) receiptTakenLocked(r core.ReceiptNumber) bool {
	if _, ok := t.receipts[r]; ok {
		return true
	}
	_, ok := t.s.receipts[r]
	return ok
}

// clonePayment copies the pointer fields so callers cannot mutate stored rows.
func clonePayment(p core.Payment) core.Payment {
	if p.PrintedAt != nil {
		at := *p.PrintedAt
		p.PrintedAt = &at
	}
	if p.DeletedAt != nil {
		at := *p.DeletedAt
		p.DeletedAt = &at
	}
	return p
}
