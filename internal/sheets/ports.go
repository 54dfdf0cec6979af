package sheets

import (
	"context"
	"errors"

	"feeledger/internal/core"
)

// ErrRowNotFound is returned when a receipt has no row in the register.
var ErrRowNotFound = errors.New("receipt row not found")

// Ports for the external receipt register.
type (
	// ReceiptWriter appends one row per payment. Appending a receipt that
	// already has a row returns the existing reference without writing.
	ReceiptWriter interface {
		AppendReceipt(ctx context.Context, p core.Payment) (rowRef string, err error)
	}

	// ReceiptStatusUpdater rewrites the status cell of an exported receipt.
	ReceiptStatusUpdater interface {
		UpdateReceiptStatus(ctx context.Context, p core.Payment) error
	}

	Register interface {
		ReceiptWriter
		ReceiptStatusUpdater
	}
)

// Receipt status values as shown in the register.
const (
	StatusIssued  = "issued"
	StatusPrinted = "printed"
	StatusVoided  = "voided"
)

// RegisterRow is one line of the receipt register:
// receipt, payment date, student, amount, method, purpose, status.
type RegisterRow struct {
	Receipt     core.ReceiptNumber
	PaymentDate string
	StudentID   string
	Amount      string
	Method      string
	Purpose     string
	Status      string
}

func NewRegisterRow(p core.Payment) RegisterRow {
	return RegisterRow{
		Receipt:     p.ReceiptNumber,
		PaymentDate: p.PaymentDate.String(),
		StudentID:   p.StudentID,
		Amount:      p.Amount.String(),
		Method:      string(p.Method),
		Purpose:     p.Purpose,
		Status:      Status(p),
	}
}

// Values returns the row in column order.
func (r RegisterRow) Values() []any {
	return []any{string(r.Receipt), r.PaymentDate, r.StudentID, r.Amount, r.Method, r.Purpose, r.Status}
}

// Status derives the register status of a payment. Void wins over print.
func Status(p core.Payment) string {
	switch {
	case p.IsVoided():
		return StatusVoided
	case p.IsPrinted():
		return StatusPrinted
	default:
		return StatusIssued
	}
}
