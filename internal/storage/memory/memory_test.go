package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"feeledger/internal/core"
	"feeledger/internal/storage"
)

func payment(id string, receipt core.ReceiptNumber, cents int64) core.Payment {
	return core.Payment{
		ID:            id,
		StudentID:     "stu-1",
		RecordedBy:    "cashier-1",
		ReceiptNumber: receipt,
		Amount:        core.Cents(cents),
		PaymentDate:   core.NewDate(2025, 1, 15),
		Purpose:       "Tuition",
		Method:        core.MethodCash,
		CreatedAt:     time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC),
	}
}

func newSeeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	if err := s.UpsertStudent(context.Background(), core.Student{ID: "stu-1", GradeLevel: "7"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func TestInsertEnforcesUniqueness(t *testing.T) {
	s := newSeeded(t)
	ctx := context.Background()

	first := payment("pay-1", "RCP-20250115-0001", 100)
	first.IdempotencyKey = "k1"
	err := s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertPayment(ctx, first)
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertPayment(ctx, payment("pay-2", "RCP-20250115-0001", 100)); !errors.Is(err, core.ErrReceiptConflict) {
			t.Fatalf("expected receipt conflict, got %v", err)
		}
		dup := payment("pay-2", "RCP-20250115-0002", 100)
		dup.IdempotencyKey = "k1"
		if err := tx.InsertPayment(ctx, dup); !errors.Is(err, storage.ErrDuplicateIdempotencyKey) {
			t.Fatalf("expected duplicate key, got %v", err)
		}
		ghost := payment("pay-3", "RCP-20250115-0003", 100)
		ghost.StudentID = "ghost"
		if err := tx.InsertPayment(ctx, ghost); !errors.Is(err, core.ErrStudentNotFound) {
			t.Fatalf("expected student not found, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestRollbackUndoesWrites(t *testing.T) {
	s := newSeeded(t)
	ctx := context.Background()

	if err := s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertPayment(ctx, payment("pay-1", "RCP-20250115-0001", 100))
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertPayment(ctx, payment("pay-2", "RCP-20250115-0002", 100)); err != nil {
			return err
		}
		if _, err := tx.MarkVoided(ctx, "pay-1", time.Now(), "oops"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := s.GetPayment(ctx, "pay-2"); !errors.Is(err, core.ErrPaymentNotFound) {
		t.Fatalf("pay-2 should be rolled back, got %v", err)
	}
	p, _ := s.GetPayment(ctx, "pay-1")
	if p.IsVoided() {
		t.Fatalf("void should be rolled back")
	}

	// The rolled-back receipt number is free again.
	if err := s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertPayment(ctx, payment("pay-2", "RCP-20250115-0002", 100))
	}); err != nil {
		t.Fatalf("reuse rolled back receipt: %v", err)
	}
}

func TestVoidedPaymentsKeepReceiptAndLeaveSums(t *testing.T) {
	s := newSeeded(t)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertPayment(ctx, payment("pay-1", "RCP-20250115-0001", 100)); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, payment("pay-2", "RCP-20250115-0002", 250)); err != nil {
			return err
		}
		_, err := tx.MarkVoided(ctx, "pay-2", time.Now(), "wrong student")
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	paid, _ := s.SumPaid(ctx, "stu-1")
	if paid.Cents != 100 {
		t.Fatalf("expected 100 paid, got %d", paid.Cents)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		highest, err := tx.MaxReceiptNumber(ctx, core.ReceiptDayPrefix(core.NewDate(2025, 1, 15)))
		if err != nil {
			return err
		}
		if highest != "RCP-20250115-0002" {
			t.Fatalf("voided receipt must count toward max, got %q", highest)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestSetOnceMarkers(t *testing.T) {
	s := newSeeded(t)
	ctx := context.Background()
	first := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	for i, at := range []time.Time{first, first.Add(time.Hour)} {
		err := s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			if i == 0 {
				if err := tx.InsertPayment(ctx, payment("pay-1", "RCP-20250115-0001", 100)); err != nil {
					return err
				}
			}
			changed, err := tx.MarkPrinted(ctx, "pay-1", at)
			if changed != (i == 0) {
				t.Fatalf("print %d: changed=%v", i, changed)
			}
			return err
		})
		if err != nil {
			t.Fatalf("print %d: %v", i, err)
		}
	}

	p, _ := s.GetPayment(ctx, "pay-1")
	if p.PrintedAt == nil || !p.PrintedAt.Equal(first) {
		t.Fatalf("expected first print time, got %v", p.PrintedAt)
	}

	// Returned payments are copies.
	*p.PrintedAt = time.Time{}
	again, _ := s.GetPayment(ctx, "pay-1")
	if !again.PrintedAt.Equal(first) {
		t.Fatalf("stored payment was mutated through a returned copy")
	}
}

func TestFeesAndExport(t *testing.T) {
	s := newSeeded(t)
	ctx := context.Background()

	for _, f := range []core.FeeStructure{
		{GradeLevel: "7", FeeType: "tuition", SchoolYear: "2024-2025", Amount: core.Cents(500000), Active: true},
		{GradeLevel: "7", FeeType: "misc", SchoolYear: "2024-2025", Amount: core.Cents(50000), Active: false},
	} {
		if err := s.UpsertFeeStructure(ctx, f); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := s.UpsertFeeStructure(ctx, core.FeeStructure{GradeLevel: "7", FeeType: "bad", SchoolYear: "x", Amount: core.Cents(-1)}); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	total, _ := s.SumActiveFees(ctx, "7")
	if total.Cents != 500000 {
		t.Fatalf("expected 500000, got %d", total.Cents)
	}

	if err := s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertPayment(ctx, payment("pay-1", "RCP-20250115-0001", 100))
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	pending, _ := s.ListUnexported(ctx, 5)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(pending))
	}
	if err := s.MarkExported(ctx, "pay-1", time.Now()); err != nil {
		t.Fatalf("mark exported: %v", err)
	}
	if pending, _ = s.ListUnexported(ctx, 5); len(pending) != 0 {
		t.Fatalf("expected nothing pending, got %d", len(pending))
	}
}

func TestReadsNeverSeeUncommittedWrites(t *testing.T) {
	s := newSeeded(t)
	ctx := context.Background()
	if err := s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertPayment(ctx, payment("pay-1", "RCP-20250115-0001", 4000))
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertPayment(ctx, payment("pay-2", "RCP-20250115-0002", 5000)); err != nil {
			return err
		}
		if _, err := tx.MarkVoided(ctx, "pay-1", time.Now(), "oops"); err != nil {
			return err
		}

		// The transaction sees its own writes.
		if _, err := tx.GetPayment(ctx, "pay-2"); err != nil {
			t.Fatalf("tx should see its staged insert: %v", err)
		}
		if highest, _ := tx.MaxReceiptNumber(ctx, "RCP-20250115-"); highest != "RCP-20250115-0002" {
			t.Fatalf("tx should see its staged receipt, got %q", highest)
		}

		// Everyone else sees only committed state.
		done := make(chan struct{})
		go func() {
			defer close(done)
			paid, err := s.SumPaid(ctx, "stu-1")
			if err != nil || paid.Cents != 4000 {
				t.Errorf("uncommitted writes leaked into SumPaid: %v (err %v)", paid, err)
			}
			if _, err := s.GetPayment(ctx, "pay-2"); !errors.Is(err, core.ErrPaymentNotFound) {
				t.Errorf("uncommitted payment visible: %v", err)
			}
			list, _ := s.ListUnexported(ctx, 0)
			if len(list) != 1 {
				t.Errorf("expected 1 committed unexported payment, got %d", len(list))
			}
		}()
		<-done
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	paid, err := s.SumPaid(ctx, "stu-1")
	if err != nil || paid.Cents != 4000 {
		t.Fatalf("expected 4000 after rollback, got %v (err %v)", paid, err)
	}
}

func TestSumPaidReportsOverflow(t *testing.T) {
	s := newSeeded(t)
	ctx := context.Background()
	const maxInt64 = int64(^uint64(0) >> 1)
	err := s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertPayment(ctx, payment("pay-1", "RCP-20250115-0001", maxInt64)); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, payment("pay-2", "RCP-20250115-0002", 100))
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.SumPaid(ctx, "stu-1"); !errors.Is(err, core.ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
}
