package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"feeledger/internal/core"
)

// SQLSTATE codes the ledger reacts to.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresRepository stores the ledger in Postgres. Unlike SQLite it allows
// many concurrent writers; the unique receipt index still decides every race.
type PostgresRepository struct {
	db *sql.DB
}

var _ Store = (*PostgresRepository)(nil)

// NewPostgresRepository connects to dsn and migrates the schema.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunPostgresMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// RunInTx implements Store.
func (r *PostgresRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(ctx, &postgresTx{q: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	q querier
}

func (r *PostgresRepository) GetStudent(ctx context.Context, id string) (core.Student, error) {
	return pgGetStudent(ctx, r.db, id)
}

func (r *PostgresRepository) GetPayment(ctx context.Context, id string) (core.Payment, error) {
	return getPayment(ctx, r.db, `WHERE id = $1`, id)
}

func (r *PostgresRepository) ListPayments(ctx context.Context, studentID string, includeVoided bool) ([]core.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE student_id = $1`
	if !includeVoided {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY receipt_number`
	return listPayments(ctx, r.db, query, studentID)
}

func (r *PostgresRepository) ActiveFees(ctx context.Context, gradeLevel string) ([]core.FeeStructure, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, grade_level, fee_type, school_year, amount_cents, is_required, is_active
		FROM fee_structures
		WHERE grade_level = $1 AND is_active
		ORDER BY school_year, fee_type`, gradeLevel)
	if err != nil {
		return nil, fmt.Errorf("query active fees: %w", err)
	}
	defer rows.Close()

	var fees []core.FeeStructure
	for rows.Next() {
		var f core.FeeStructure
		if err := rows.Scan(&f.ID, &f.GradeLevel, &f.FeeType, &f.SchoolYear, &f.Amount.Cents, &f.Required, &f.Active); err != nil {
			return nil, fmt.Errorf("scan fee structure: %w", err)
		}
		fees = append(fees, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fee structures: %w", err)
	}
	return fees, nil
}

func (r *PostgresRepository) SumActiveFees(ctx context.Context, gradeLevel string) (core.Money, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM fee_structures
		WHERE grade_level = $1 AND is_active`, gradeLevel).Scan(&total)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum active fees: %w", err)
	}
	return core.Money{Cents: total}, nil
}

func (r *PostgresRepository) SumPaid(ctx context.Context, studentID string) (core.Money, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM payments
		WHERE student_id = $1 AND deleted_at IS NULL`, studentID).Scan(&total)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum paid: %w", err)
	}
	return core.Money{Cents: total}, nil
}

func (r *PostgresRepository) UpsertStudent(ctx context.Context, s core.Student) error {
	if strings.TrimSpace(s.ID) == "" {
		return core.ErrEmptyStudent
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, full_name, grade_level, section)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			full_name = excluded.full_name,
			grade_level = excluded.grade_level,
			section = excluded.section`,
		s.ID, s.FullName, s.GradeLevel, s.Section)
	if err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpsertFeeStructure(ctx context.Context, f core.FeeStructure) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.ID == "" {
		f.ID = strings.Join([]string{f.GradeLevel, f.FeeType, f.SchoolYear}, ":")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fee_structures (id, grade_level, fee_type, school_year, amount_cents, is_required, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (grade_level, fee_type, school_year) DO UPDATE SET
			amount_cents = excluded.amount_cents,
			is_required = excluded.is_required,
			is_active = excluded.is_active`,
		f.ID, f.GradeLevel, f.FeeType, f.SchoolYear, f.Amount.Cents, f.Required, f.Active)
	if err != nil {
		return fmt.Errorf("upsert fee structure: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListUnexported(ctx context.Context, limit int) ([]core.Payment, error) {
	return listPayments(ctx, r.db, `SELECT `+paymentColumns+`
		FROM payments
		WHERE exported_at IS NULL
		ORDER BY created_at, receipt_number
		LIMIT $1`, limit)
}

func (r *PostgresRepository) MarkExported(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE payments SET exported_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark payment exported: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrPaymentNotFound
	}
	return nil
}

func (t *postgresTx) GetStudent(ctx context.Context, id string) (core.Student, error) {
	return pgGetStudent(ctx, t.q, id)
}

func (t *postgresTx) GetPayment(ctx context.Context, id string) (core.Payment, error) {
	return getPayment(ctx, t.q, `WHERE id = $1`, id)
}

func (t *postgresTx) GetPaymentByIdempotencyKey(ctx context.Context, key string) (core.Payment, error) {
	return getPayment(ctx, t.q, `WHERE idempotency_key = $1`, key)
}

func (t *postgresTx) MaxReceiptNumber(ctx context.Context, prefix string) (core.ReceiptNumber, error) {
	var highest string
	err := t.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(receipt_number), '')
		FROM payments
		WHERE receipt_number LIKE $1::text || '%'`, prefix).Scan(&highest)
	if err != nil {
		return "", fmt.Errorf("max receipt number: %w", err)
	}
	return core.ReceiptNumber(highest), nil
}

func (t *postgresTx) InsertPayment(ctx context.Context, p core.Payment) error {
	// A failed statement aborts a Postgres transaction; the savepoint lets
	// the allocator keep retrying inside it.
	if _, err := t.q.ExecContext(ctx, `SAVEPOINT insert_payment`); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}

	_, err := t.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.StudentID, p.RecordedBy, string(p.ReceiptNumber), p.Amount.Cents, p.PaymentDate.String(),
		p.Purpose, string(p.Method), p.Notes, nullString(p.IdempotencyKey), nullTime(p.PrintedAt),
		p.CreatedAt.UTC().Format(timeLayout), nullTime(p.DeletedAt), p.VoidReason)
	if err != nil {
		if _, rbErr := t.q.ExecContext(ctx, `ROLLBACK TO SAVEPOINT insert_payment`); rbErr != nil {
			return fmt.Errorf("rollback to savepoint: %w (insert: %v)", rbErr, err)
		}
		_, _ = t.q.ExecContext(ctx, `RELEASE SAVEPOINT insert_payment`)
		return classifyPostgresError(err)
	}

	if _, err := t.q.ExecContext(ctx, `RELEASE SAVEPOINT insert_payment`); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func (t *postgresTx) MarkPrinted(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx, `UPDATE payments SET printed_at = $1 WHERE id = $2 AND printed_at IS NULL`,
		at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("mark payment printed: %w", err)
	}
	return updatedOne(res, "mark payment printed")
}

func (t *postgresTx) MarkVoided(ctx context.Context, id string, at time.Time, reason string) (bool, error) {
	res, err := t.q.ExecContext(ctx, `UPDATE payments SET deleted_at = $1, void_reason = $2 WHERE id = $3 AND deleted_at IS NULL`,
		at.UTC(), reason, id)
	if err != nil {
		return false, fmt.Errorf("void payment: %w", err)
	}
	return updatedOne(res, "void payment")
}

// classifyPostgresError maps constraint violations by SQLSTATE and
// constraint name.
func classifyPostgresError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUniqueViolation:
			switch pqErr.Constraint {
			case "ux_payments_receipt_number":
				return fmt.Errorf("insert payment: %w", core.ErrReceiptConflict)
			case "ux_payments_idempotency_key":
				return fmt.Errorf("insert payment: %w", ErrDuplicateIdempotencyKey)
			}
		case pgForeignKeyViolation:
			return fmt.Errorf("insert payment: %w", core.ErrStudentNotFound)
		}
	}
	return fmt.Errorf("insert payment: %w", err)
}

func pgGetStudent(ctx context.Context, q querier, id string) (core.Student, error) {
	var s core.Student
	err := q.QueryRowContext(ctx, `SELECT id, full_name, grade_level, section FROM students WHERE id = $1`, id).
		Scan(&s.ID, &s.FullName, &s.GradeLevel, &s.Section)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Student{}, core.ErrStudentNotFound
	}
	if err != nil {
		return core.Student{}, fmt.Errorf("get student: %w", err)
	}
	return s, nil
}
