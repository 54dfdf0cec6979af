// Package seed loads students and fee structures from a JSON catalog file.
// The ledger itself never writes either; seeding is how they get there.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"feeledger/internal/core"
	"feeledger/internal/storage"
)

type File struct {
	Students []Student `json:"students" validate:"dive"`
	Fees     []Fee     `json:"fees" validate:"dive"`
}

type Student struct {
	ID         string `json:"id" validate:"required,max=64"`
	FullName   string `json:"full_name" validate:"max=200"`
	GradeLevel string `json:"grade_level" validate:"max=32"`
	Section    string `json:"section" validate:"max=64"`
}

type Fee struct {
	GradeLevel string `json:"grade_level" validate:"required,max=32"`
	FeeType    string `json:"fee_type" validate:"required,max=64"`
	SchoolYear string `json:"school_year" validate:"required,max=16"`
	// Amount is decimal text; zero is allowed.
	Amount string `json:"amount" validate:"required"`
	// Required and Active default to true.
	Required *bool `json:"required"`
	Active   *bool `json:"active"`
}

// Result counts the rows written by Apply.
type Result struct {
	Students int
	Fees     int
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load decodes and validates a catalog file. Unknown fields are rejected so
// typos do not silently drop data.
func Load(r io.Reader) (*File, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, describe(err)
	}
	for i, fee := range f.Fees {
		if _, err := fee.structure(); err != nil {
			return nil, fmt.Errorf("fees[%d]: %w", i, err)
		}
	}
	return &f, nil
}

// Apply upserts every student before any fee. It stops at the first error;
// rows written before it stay written.
func Apply(ctx context.Context, w storage.CatalogWriter, f *File) (Result, error) {
	var res Result
	for _, s := range f.Students {
		err := w.UpsertStudent(ctx, core.Student{
			ID:         strings.TrimSpace(s.ID),
			FullName:   strings.TrimSpace(s.FullName),
			GradeLevel: strings.TrimSpace(s.GradeLevel),
			Section:    strings.TrimSpace(s.Section),
		})
		if err != nil {
			return res, fmt.Errorf("student %s: %w", s.ID, err)
		}
		res.Students++
	}
	for _, fee := range f.Fees {
		fs, err := fee.structure()
		if err != nil {
			return res, err
		}
		if err := w.UpsertFeeStructure(ctx, fs); err != nil {
			return res, fmt.Errorf("fee %s/%s/%s: %w", fs.GradeLevel, fs.FeeType, fs.SchoolYear, err)
		}
		res.Fees++
	}
	return res, nil
}

func (f Fee) structure() (core.FeeStructure, error) {
	amount, err := core.ParseMoney(f.Amount)
	if err != nil {
		return core.FeeStructure{}, fmt.Errorf("amount %q: %w", f.Amount, err)
	}
	fs := core.FeeStructure{
		GradeLevel: strings.TrimSpace(f.GradeLevel),
		FeeType:    strings.TrimSpace(f.FeeType),
		SchoolYear: strings.TrimSpace(f.SchoolYear),
		Amount:     amount,
		Required:   f.Required == nil || *f.Required,
		Active:     f.Active == nil || *f.Active,
	}
	return fs, fs.Validate()
}

// describe flattens validator errors into one readable message.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate seed file: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += " (" + fe.Param() + ")"
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("invalid seed file: %s", strings.Join(msgs, "; "))
}
