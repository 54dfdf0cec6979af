package services

import (
	"context"
	"fmt"
	"strings"

	"feeledger/internal/core"
)

// FeeReader is the read side of the fee catalog store.
type FeeReader interface {
	ActiveFees(ctx context.Context, gradeLevel string) ([]core.FeeStructure, error)
	SumActiveFees(ctx context.Context, gradeLevel string) (core.Money, error)
}

// FeeCatalog answers which fees currently apply to a grade level. It never
// writes the catalog.
type FeeCatalog struct {
	fees FeeReader
}

func NewFeeCatalog(fees FeeReader) *FeeCatalog {
	return &FeeCatalog{fees: fees}
}

// ActiveFees lists the active fee rows for gradeLevel. A student without a
// grade has no fees.
func (c *FeeCatalog) ActiveFees(ctx context.Context, gradeLevel string) ([]core.FeeStructure, error) {
	if strings.TrimSpace(gradeLevel) == "" {
		return nil, nil
	}
	fees, err := c.fees.ActiveFees(ctx, gradeLevel)
	if err != nil {
		return nil, fmt.Errorf("active fees for grade %q: %w", gradeLevel, err)
	}
	return fees, nil
}

// ExpectedFees is the sum of active fee amounts for gradeLevel, zero when
// none apply.
func (c *FeeCatalog) ExpectedFees(ctx context.Context, gradeLevel string) (core.Money, error) {
	if strings.TrimSpace(gradeLevel) == "" {
		return core.Zero(), nil
	}
	total, err := c.fees.SumActiveFees(ctx, gradeLevel)
	if err != nil {
		return core.Money{}, fmt.Errorf("expected fees for grade %q: %w", gradeLevel, err)
	}
	return total, nil
}
