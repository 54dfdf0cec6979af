package google

import (
	"testing"

	"feeledger/internal/core"
)

func TestFindReceiptRow(t *testing.T) {
	values := [][]any{
		{"Receipt"},
		{"RCP-20251018-0001"},
		{},
		{" RCP-20251018-0002 "},
		{"rcp-20251018-0003"},
	}

	tests := []struct {
		receipt string
		want    int
	}{
		{"RCP-20251018-0001", 2},
		{"RCP-20251018-0002", 4},
		{"RCP-20251018-0003", 5},
		{"RCP-20251018-0009", 0},
	}
	for _, tt := range tests {
		if got := findReceiptRow(values, core.ReceiptNumber(tt.receipt)); got != tt.want {
			t.Errorf("findReceiptRow(%s) = %d, want %d", tt.receipt, got, tt.want)
		}
	}

	if got := findReceiptRow(nil, "RCP-20251018-0001"); got != 0 {
		t.Errorf("empty sheet should yield 0, got %d", got)
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		year int
		want string
	}{
		{"Receipts", 2025, "2025 Receipts"},
		{" Receipts ", 2026, "2026 Receipts"},
		{"2024 Receipts", 2025, "2024 Receipts"},
		{"", 2025, ""},
	}
	for _, tt := range tests {
		if got := yearPrefixedName(tt.base, tt.year); got != tt.want {
			t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", tt.base, tt.year, got, tt.want)
		}
	}
}
