package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feeledger/internal/core"
	"feeledger/internal/storage/memory"
)

const catalog = `{
  "students": [
    {"id": "stu-1", "full_name": "Ana Reyes", "grade_level": "7", "section": "A"},
    {"id": "stu-2", "full_name": "Ben Cruz"}
  ],
  "fees": [
    {"grade_level": "7", "fee_type": "tuition", "school_year": "2025-2026", "amount": "4500.00"},
    {"grade_level": "7", "fee_type": "books", "school_year": "2025-2026", "amount": "500,00", "required": false},
    {"grade_level": "7", "fee_type": "field trip", "school_year": "2024-2025", "amount": "300", "active": false}
  ]
}`

func TestLoadAndApply(t *testing.T) {
	f, err := Load(strings.NewReader(catalog))
	require.NoError(t, err)
	require.Len(t, f.Students, 2)
	require.Len(t, f.Fees, 3)

	ctx := context.Background()
	store := memory.New()
	res, err := Apply(ctx, store, f)
	require.NoError(t, err)
	assert.Equal(t, Result{Students: 2, Fees: 3}, res)

	s, err := store.GetStudent(ctx, "stu-2")
	require.NoError(t, err)
	assert.Empty(t, s.GradeLevel)

	fees, err := store.ActiveFees(ctx, "7")
	require.NoError(t, err)
	require.Len(t, fees, 2, "inactive fees are stored but not active")

	expected, err := store.SumActiveFees(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, core.Cents(500000), expected, "optional fees still count toward the expected total")

	// Seeding again updates in place.
	_, err = Apply(ctx, store, f)
	require.NoError(t, err)
	expected, err = store.SumActiveFees(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, core.Cents(500000), expected)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"students": [`, "decode seed file"},
		{"unknown field", `{"students": [{"id": "stu-1", "grade": "7"}]}`, "unknown field"},
		{"student without id", `{"students": [{"full_name": "Nobody"}]}`, "File.Students[0].ID"},
		{"fee without type", `{"fees": [{"grade_level": "7", "school_year": "2025-2026", "amount": "1"}]}`, "File.Fees[0].FeeType"},
		{"fee without amount", `{"fees": [{"grade_level": "7", "fee_type": "tuition", "school_year": "2025-2026"}]}`, "File.Fees[0].Amount"},
		{"negative fee", `{"fees": [{"grade_level": "7", "fee_type": "tuition", "school_year": "2025-2026", "amount": "-1"}]}`, "fees[0]"},
		{"garbage amount", `{"fees": [{"grade_level": "7", "fee_type": "tuition", "school_year": "2025-2026", "amount": "lots"}]}`, "fees[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyUnknownGradeHasNoFees(t *testing.T) {
	f, err := Load(strings.NewReader(catalog))
	require.NoError(t, err)
	store := memory.New()
	_, err = Apply(context.Background(), store, f)
	require.NoError(t, err)

	expected, err := store.SumActiveFees(context.Background(), "12")
	require.NoError(t, err)
	assert.True(t, expected.IsZero())
}
