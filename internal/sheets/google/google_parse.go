package google

import (
	"fmt"
	"strings"

	"feeledger/internal/core"
)

// findReceiptRow returns the 1-based sheet row whose first cell holds
// receipt, or 0. values is the A column as returned by the Sheets API.
func findReceiptRow(values [][]any, receipt core.ReceiptNumber) int {
	want := string(receipt)
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(fmt.Sprint(row[0])), want) {
			return i + 1
		}
	}
	return 0
}
