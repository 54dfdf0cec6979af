package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feeledger/internal/cli"
	"feeledger/internal/config"
	"feeledger/internal/core"
	"feeledger/internal/log"
)

const seedFile = `{
  "students": [{"id": "stu-1", "full_name": "Ana Reyes", "grade_level": "7"}],
  "fees": [{"grade_level": "7", "fee_type": "tuition", "school_year": "2025-2026", "amount": "5000.00"}]
}`

type testApp struct {
	*app
	buf *bytes.Buffer
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	cfg := config.Load()
	cfg.DataBackend = "sqlite"
	cfg.SQLiteDBPath = filepath.Join(t.TempDir(), "ledger.db")
	cfg.AMQPURL = ""
	cfg.SchoolTimezone = "UTC"

	ledger, err := cli.OpenLedger(context.Background(), cfg, log.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	buf := &bytes.Buffer{}
	return &testApp{app: &app{ledger: ledger, out: buf}, buf: buf}
}

// exec runs one command and returns its output.
func (a *testApp) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a.buf.Reset()
	err := a.run(context.Background(), args)
	return a.buf.String(), err
}

func (a *testApp) seedCatalog(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(seedFile), 0o600))
	out, err := a.exec(t, "seed", path)
	require.NoError(t, err)
	assert.Equal(t, "seeded 1 students and 1 fee structures\n", out)
}

func TestRecordPrintVoidFlow(t *testing.T) {
	a := newTestApp(t)
	a.seedCatalog(t)

	out, err := a.exec(t, "record", "--student", "stu-1", "--by", "cashier-1", "--amount", "5000,00",
		"--purpose", "Tuition", "--method", "check", "--date", "2025-10-18", "--json")
	require.NoError(t, err)
	var recorded paymentView
	require.NoError(t, json.Unmarshal([]byte(out), &recorded))
	assert.True(t, strings.HasPrefix(recorded.ReceiptNumber, "RCP-"))
	assert.True(t, strings.HasSuffix(recorded.ReceiptNumber, "-0001"))
	assert.Equal(t, "5000.00", recorded.Amount)
	assert.Equal(t, "check", recorded.Method)
	assert.Equal(t, "2025-10-18", recorded.PaymentDate)
	assert.Equal(t, "issued", recorded.Status)

	out, err = a.exec(t, "summarize", "stu-1")
	require.NoError(t, err)
	assert.Contains(t, out, "paid")
	assert.Contains(t, out, "0.00")

	out, err = a.exec(t, "print", recorded.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "printed")

	out, err = a.exec(t, "void", recorded.ID, "--reason", "wrong student", "--json")
	require.NoError(t, err)
	var voided paymentView
	require.NoError(t, json.Unmarshal([]byte(out), &voided))
	assert.Equal(t, "voided", voided.Status)
	assert.Equal(t, recorded.ReceiptNumber, voided.ReceiptNumber)
	assert.Equal(t, "wrong student", voided.VoidReason)

	_, err = a.exec(t, "print", recorded.ID)
	require.ErrorIs(t, err, core.ErrPaymentVoided)
	assert.Equal(t, exitConflict, exitCode(err))

	out, err = a.exec(t, "history", "stu-1")
	require.NoError(t, err)
	assert.NotContains(t, out, recorded.ReceiptNumber, "voided payments are hidden by default")

	out, err = a.exec(t, "history", "stu-1", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, recorded.ReceiptNumber)
	assert.Contains(t, out, "voided")

	out, err = a.exec(t, "summarize", "--json", "stu-1")
	require.NoError(t, err)
	var summaries []summaryView
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "5000.00", summaries[0].Balance)
	assert.Equal(t, string(core.StatusOutstanding), summaries[0].Status)
}

func TestFeesCommand(t *testing.T) {
	a := newTestApp(t)
	a.seedCatalog(t)

	out, err := a.exec(t, "fees", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "tuition")
	assert.Contains(t, out, "TOTAL")
	assert.Contains(t, out, "5000.00")
}

func TestCommandErrors(t *testing.T) {
	a := newTestApp(t)
	a.seedCatalog(t)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"invalid amount", []string{"record", "--student", "stu-1", "--by", "c", "--amount", "0", "--purpose", "x"}, exitUsage},
		{"unknown method", []string{"record", "--student", "stu-1", "--by", "c", "--amount", "1", "--purpose", "x", "--method", "barter"}, exitUsage},
		{"malformed date", []string{"record", "--student", "stu-1", "--by", "c", "--amount", "1", "--purpose", "x", "--date", "18/10/2025"}, exitUsage},
		{"unknown student", []string{"record", "--student", "ghost", "--by", "c", "--amount", "1", "--purpose", "x"}, exitNotFound},
		{"unknown payment", []string{"void", "missing"}, exitNotFound},
		{"unknown student history", []string{"history", "ghost"}, exitNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.exec(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, exitCode(err))
		})
	}
}

func TestUsageErrors(t *testing.T) {
	a := newTestApp(t)
	for _, args := range [][]string{
		nil,
		{"refund"},
		{"print"},
		{"print", "a", "b"},
		{"summarize"},
		{"record", "--bogus"},
	} {
		_, err := a.exec(t, args...)
		assert.True(t, errors.Is(err, errUsage), "%v: %v", args, err)
	}

	out, err := a.exec(t, "help")
	require.NoError(t, err)
	assert.Contains(t, out, "usage: feeledger")
}
