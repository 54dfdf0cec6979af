package memory

import (
	"context"
	"fmt"
	"sync"

	"feeledger/internal/core"
	"feeledger/internal/sheets"
)

// Register keeps the receipt register in memory. Used when no spreadsheet
// is configured and in tests.
type Register struct {
	mu    sync.Mutex
	rows  []sheets.RegisterRow
	index map[core.ReceiptNumber]int
}

var _ sheets.Register = (*Register)(nil)

func New() *Register {
	return &Register{index: make(map[core.ReceiptNumber]int)}
}

// AppendReceipt stores the row and returns a synthetic row reference.
func (r *Register) AppendReceipt(_ context.Context, p core.Payment) (string, error) {
	if p.ReceiptNumber == "" {
		return "", fmt.Errorf("payment %s has no receipt number", p.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[p.ReceiptNumber]; ok {
		return ref(i), nil
	}
	r.rows = append(r.rows, sheets.NewRegisterRow(p))
	i := len(r.rows) - 1
	r.index[p.ReceiptNumber] = i
	return ref(i), nil
}

func (r *Register) UpdateReceiptStatus(_ context.Context, p core.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[p.ReceiptNumber]
	if !ok {
		return fmt.Errorf("%s: %w", p.ReceiptNumber, sheets.ErrRowNotFound)
	}
	r.rows[i].Status = sheets.Status(p)
	return nil
}

// Rows returns a copy of the register in append order.
func (r *Register) Rows() []sheets.RegisterRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sheets.RegisterRow(nil), r.rows...)
}

func ref(i int) string { return fmt.Sprintf("mem:%d", i+1) }
