package main

import (
	"time"

	"feeledger/internal/core"
)

type paymentView struct {
	ID            string     `json:"id"`
	ReceiptNumber string     `json:"receipt_number"`
	StudentID     string     `json:"student_id"`
	RecordedBy    string     `json:"recorded_by"`
	Amount        string     `json:"amount"`
	AmountCents   int64      `json:"amount_cents"`
	PaymentDate   string     `json:"payment_date"`
	Purpose       string     `json:"purpose"`
	Method        string     `json:"method"`
	Notes         string     `json:"notes,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	PrintedAt     *time.Time `json:"printed_at,omitempty"`
	VoidedAt      *time.Time `json:"voided_at,omitempty"`
	VoidReason    string     `json:"void_reason,omitempty"`
}

func newPaymentView(p core.Payment) paymentView {
	return paymentView{
		ID:            p.ID,
		ReceiptNumber: string(p.ReceiptNumber),
		StudentID:     p.StudentID,
		RecordedBy:    p.RecordedBy,
		Amount:        p.Amount.String(),
		AmountCents:   p.Amount.Cents,
		PaymentDate:   p.PaymentDate.String(),
		Purpose:       p.Purpose,
		Method:        string(p.Method),
		Notes:         p.Notes,
		Status:        paymentState(p),
		CreatedAt:     p.CreatedAt,
		PrintedAt:     p.PrintedAt,
		VoidedAt:      p.DeletedAt,
		VoidReason:    p.VoidReason,
	}
}

type summaryView struct {
	StudentID    string `json:"student_id"`
	ExpectedFees string `json:"expected_fees"`
	TotalPaid    string `json:"total_paid"`
	Balance      string `json:"balance"`
	Status       string `json:"status"`
}

func newSummaryView(s core.Summary) summaryView {
	return summaryView{
		StudentID:    s.StudentID,
		ExpectedFees: s.ExpectedFees.String(),
		TotalPaid:    s.TotalPaid.String(),
		Balance:      s.Balance.String(),
		Status:       string(s.Status),
	}
}
