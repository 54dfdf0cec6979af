package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"feeledger/internal/core"
)

// PaymentEventMessage announces a committed payment transition.
// It carries identifiers only; consumers read the payment from storage.
type PaymentEventMessage struct {
	Type          core.PaymentEventType `json:"type"`
	PaymentID     string                `json:"payment_id"`
	StudentID     string                `json:"student_id"`
	ReceiptNumber core.ReceiptNumber    `json:"receipt_number"`
	AmountCents   int64                 `json:"amount_cents"`
	Timestamp     time.Time             `json:"timestamp"`
}

func NewPaymentEventMessage(eventType core.PaymentEventType, p core.Payment) *PaymentEventMessage {
	return &PaymentEventMessage{
		Type:          eventType,
		PaymentID:     p.ID,
		StudentID:     p.StudentID,
		ReceiptNumber: p.ReceiptNumber,
		AmountCents:   p.Amount.Cents,
		Timestamp:     time.Now().UTC(),
	}
}

func (m *PaymentEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// PaymentEventMessageFromJSON decodes a message and rejects unknown event
// types and messages without a payment id.
func PaymentEventMessageFromJSON(data []byte) (*PaymentEventMessage, error) {
	var msg PaymentEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if !msg.Type.Valid() {
		return nil, fmt.Errorf("unknown event type %q", msg.Type)
	}
	if msg.PaymentID == "" {
		return nil, fmt.Errorf("missing payment_id")
	}
	return &msg, nil
}
