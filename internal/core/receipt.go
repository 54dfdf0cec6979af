package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Receipt numbers are printed on physical receipts: RCP-YYYYMMDD-NNNN.
const (
	ReceiptPrefix      = "RCP"
	MaxReceiptSequence = 9999
)

var ErrMalformedReceipt = errors.New("malformed receipt number")

type ReceiptNumber string

// ReceiptDayPrefix returns "RCP-YYYYMMDD-", the prefix shared by every
// receipt issued on day.
func ReceiptDayPrefix(day Date) string {
	return ReceiptPrefix + "-" + day.Compact() + "-"
}

// FormatReceiptNumber builds the receipt number for the seq-th receipt of day.
func FormatReceiptNumber(day Date, seq int) (ReceiptNumber, error) {
	if seq < 1 || seq > MaxReceiptSequence {
		return "", fmt.Errorf("sequence %d out of range: %w", seq, ErrSequenceExhausted)
	}
	return ReceiptNumber(fmt.Sprintf("%s%04d", ReceiptDayPrefix(day), seq)), nil
}

// ParseReceiptNumber splits a receipt number into its day and sequence.
func ParseReceiptNumber(s string) (Date, int, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || parts[0] != ReceiptPrefix || len(parts[1]) != 8 || len(parts[2]) != 4 {
		return Date{}, 0, fmt.Errorf("%q: %w", s, ErrMalformedReceipt)
	}
	t, err := time.Parse("20060102", parts[1])
	if err != nil {
		return Date{}, 0, fmt.Errorf("%q: %w", s, ErrMalformedReceipt)
	}
	seq, err := strconv.Atoi(parts[2])
	if err != nil || seq < 1 {
		return Date{}, 0, fmt.Errorf("%q: %w", s, ErrMalformedReceipt)
	}
	return Date{Time: t}, seq, nil
}

// Sequence returns the numeric suffix, or 0 when the number is malformed.
func (r ReceiptNumber) Sequence() int {
	_, seq, err := ParseReceiptNumber(string(r))
	if err != nil {
		return 0
	}
	return seq
}

func (r ReceiptNumber) String() string { return string(r) }
