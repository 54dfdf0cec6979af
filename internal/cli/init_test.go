package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feeledger/internal/config"
	"feeledger/internal/core"
	"feeledger/internal/log"
	"feeledger/internal/services"
)

func testConfig(backend string) *config.Config {
	cfg := config.Load()
	cfg.DataBackend = backend
	cfg.SchoolTimezone = "Asia/Manila"
	cfg.AMQPURL = ""
	cfg.SummaryCacheTTL = time.Minute
	return cfg
}

func TestOpenLedgerRecordsAndSummarizes(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(backend)
			cfg.SQLiteDBPath = filepath.Join(t.TempDir(), "ledger.db")

			ctx := context.Background()
			l, err := OpenLedger(ctx, cfg, log.Nop(), nil)
			require.NoError(t, err)
			defer func() { assert.NoError(t, l.Close()) }()
			assert.Nil(t, l.Events)

			require.NoError(t, l.Store.UpsertStudent(ctx, core.Student{ID: "stu-1", GradeLevel: "7"}))
			require.NoError(t, l.Store.UpsertFeeStructure(ctx, core.FeeStructure{
				GradeLevel: "7", FeeType: "tuition", SchoolYear: "2025-2026", Amount: core.Cents(500000), Required: true, Active: true,
			}))

			before, err := l.Aggregator.Summarize(ctx, "stu-1")
			require.NoError(t, err)
			assert.Equal(t, core.StatusOutstanding, before.Status)

			p, err := l.Recorder.Record(ctx, services.RecordRequest{
				StudentID:  "stu-1",
				RecordedBy: "cashier-1",
				Amount:     "5000.00",
				Purpose:    "Tuition",
			})
			require.NoError(t, err)
			assert.Equal(t, 1, p.ReceiptNumber.Sequence())

			// The cached summary was invalidated by the recorder.
			after, err := l.Aggregator.Summarize(ctx, "stu-1")
			require.NoError(t, err)
			assert.Equal(t, core.StatusPaid, after.Status)
			assert.True(t, after.Balance.IsZero())
		})
	}
}

func TestOpenLedgerRejectsBadConfig(t *testing.T) {
	cfg := testConfig("postgres")
	cfg.DatabaseURL = ""
	_, err := OpenLedger(context.Background(), cfg, log.Nop(), nil)
	require.Error(t, err)

	cfg = testConfig("memory")
	cfg.SchoolTimezone = "Atlantis/Capital"
	_, err = OpenLedger(context.Background(), cfg, log.Nop(), nil)
	require.Error(t, err)
}
