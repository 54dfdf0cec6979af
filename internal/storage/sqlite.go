package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"feeledger/internal/core"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const timeLayout = time.RFC3339Nano

// dsnPragmas: WAL so readers never block the writer, a busy timeout for
// other processes holding the write lock, and IMMEDIATE transactions so the
// receipt read and the insert happen under the same write lock.
const dsnPragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"

type SQLiteRepository struct {
	db *sql.DB
}

var _ Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations first; they use their own connection.
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single pooled connection keeps
	// concurrent recorders queueing in Go instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// RunInTx implements Store.
func (r *SQLiteRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
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

	if err = fn(ctx, &sqliteTx{q: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteTx struct {
	q querier
}

const paymentColumns = `id, student_id, recorded_by, receipt_number, amount_cents, payment_date,
	purpose, method, notes, idempotency_key, printed_at, created_at, deleted_at, void_reason`

// GetStudent implements Reader
func (r *SQLiteRepository) GetStudent(ctx context.Context, id string) (core.Student, error) {
	return getStudent(ctx, r.db, id)
}

// GetPayment implements Reader
func (r *SQLiteRepository) GetPayment(ctx context.Context, id string) (core.Payment, error) {
	return getPayment(ctx, r.db, `WHERE id = ?`, id)
}

// ListPayments implements Reader
func (r *SQLiteRepository) ListPayments(ctx context.Context, studentID string, includeVoided bool) ([]core.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE student_id = ?`
	if !includeVoided {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY receipt_number`
	return listPayments(ctx, r.db, query, studentID)
}

// ActiveFees implements Reader
func (r *SQLiteRepository) ActiveFees(ctx context.Context, gradeLevel string) ([]core.FeeStructure, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, grade_level, fee_type, school_year, amount_cents, is_required, is_active
		FROM fee_structures
		WHERE grade_level = ? AND is_active = 1
		ORDER BY school_year, fee_type`, gradeLevel)
	if err != nil {
		return nil, fmt.Errorf("query active fees: %w", err)
	}
	defer rows.Close()

	var fees []core.FeeStructure
	for rows.Next() {
		var (
			f                core.FeeStructure
			required, active int64
		)
		if err := rows.Scan(&f.ID, &f.GradeLevel, &f.FeeType, &f.SchoolYear, &f.Amount.Cents, &required, &active); err != nil {
			return nil, fmt.Errorf("scan fee structure: %w", err)
		}
		f.Required = required == 1
		f.Active = active == 1
		fees = append(fees, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fee structures: %w", err)
	}
	return fees, nil
}

// SumActiveFees implements Reader
func (r *SQLiteRepository) SumActiveFees(ctx context.Context, gradeLevel string) (core.Money, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM fee_structures
		WHERE grade_level = ? AND is_active = 1`, gradeLevel).Scan(&total)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum active fees: %w", err)
	}
	return core.Money{Cents: total}, nil
}

// SumPaid implements Reader
func (r *SQLiteRepository) SumPaid(ctx context.Context, studentID string) (core.Money, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM payments
		WHERE student_id = ? AND deleted_at IS NULL`, studentID).Scan(&total)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum paid: %w", err)
	}
	return core.Money{Cents: total}, nil
}

// UpsertStudent implements CatalogWriter
func (r *SQLiteRepository) UpsertStudent(ctx context.Context, s core.Student) error {
	if strings.TrimSpace(s.ID) == "" {
		return core.ErrEmptyStudent
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, full_name, grade_level, section)
		VALUES (?, ?, ?, ?)
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

// UpsertFeeStructure implements CatalogWriter
func (r *SQLiteRepository) UpsertFeeStructure(ctx context.Context, f core.FeeStructure) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.ID == "" {
		f.ID = strings.Join([]string{f.GradeLevel, f.FeeType, f.SchoolYear}, ":")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fee_structures (id, grade_level, fee_type, school_year, amount_cents, is_required, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (grade_level, fee_type, school_year) DO UPDATE SET
			amount_cents = excluded.amount_cents,
			is_required = excluded.is_required,
			is_active = excluded.is_active`,
		f.ID, f.GradeLevel, f.FeeType, f.SchoolYear, f.Amount.Cents, boolToInt(f.Required), boolToInt(f.Active))
	if err != nil {
		return fmt.Errorf("upsert fee structure: %w", err)
	}
	return nil
}

// ListUnexported implements ExportTracker
func (r *SQLiteRepository) ListUnexported(ctx context.Context, limit int) ([]core.Payment, error) {
	return listPayments(ctx, r.db, `SELECT `+paymentColumns+`
		FROM payments
		WHERE exported_at IS NULL
		ORDER BY created_at, receipt_number
		LIMIT ?`, limit)
}

// MarkExported implements ExportTracker
func (r *SQLiteRepository) MarkExported(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE payments SET exported_at = ? WHERE id = ?`,
		at.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("mark payment exported: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrPaymentNotFound
	}
	return nil
}

func (t *sqliteTx) GetStudent(ctx context.Context, id string) (core.Student, error) {
	return getStudent(ctx, t.q, id)
}

func (t *sqliteTx) GetPayment(ctx context.Context, id string) (core.Payment, error) {
	return getPayment(ctx, t.q, `WHERE id = ?`, id)
}

func (t *sqliteTx) GetPaymentByIdempotencyKey(ctx context.Context, key string) (core.Payment, error) {
	return getPayment(ctx, t.q, `WHERE idempotency_key = ?`, key)
}

func (t *sqliteTx) MaxReceiptNumber(ctx context.Context, prefix string) (core.ReceiptNumber, error) {
	// Suffixes are zero-padded to a fixed width, so the lexical maximum is
	// the numeric maximum. Voided rows are deliberately included.
	var highest string
	err := t.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(receipt_number), '')
		FROM payments
		WHERE receipt_number LIKE ? || '%'`, prefix).Scan(&highest)
	if err != nil {
		return "", fmt.Errorf("max receipt number: %w", err)
	}
	return core.ReceiptNumber(highest), nil
}

func (t *sqliteTx) InsertPayment(ctx context.Context, p core.Payment) error {
	// The savepoint keeps the outer transaction alive after a constraint
	// violation so the allocator can retry inside it.
	if _, err := t.q.ExecContext(ctx, `SAVEPOINT insert_payment`); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}

	_, err := t.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.StudentID, p.RecordedBy, string(p.ReceiptNumber), p.Amount.Cents, p.PaymentDate.String(),
		p.Purpose, string(p.Method), p.Notes, nullString(p.IdempotencyKey), nullTime(p.PrintedAt),
		p.CreatedAt.UTC().Format(timeLayout), nullTime(p.DeletedAt), p.VoidReason)
	if err != nil {
		if _, rbErr := t.q.ExecContext(ctx, `ROLLBACK TO SAVEPOINT insert_payment`); rbErr != nil {
			return fmt.Errorf("rollback to savepoint: %w (insert: %v)", rbErr, err)
		}
		_, _ = t.q.ExecContext(ctx, `RELEASE SAVEPOINT insert_payment`)
		return classifyInsertError(err)
	}

	if _, err := t.q.ExecContext(ctx, `RELEASE SAVEPOINT insert_payment`); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func (t *sqliteTx) MarkPrinted(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx, `UPDATE payments SET printed_at = ? WHERE id = ? AND printed_at IS NULL`,
		at.UTC().Format(timeLayout), id)
	if err != nil {
		return false, fmt.Errorf("mark payment printed: %w", err)
	}
	return updatedOne(res, "mark payment printed")
}

func (t *sqliteTx) MarkVoided(ctx context.Context, id string, at time.Time, reason string) (bool, error) {
	res, err := t.q.ExecContext(ctx, `UPDATE payments SET deleted_at = ?, void_reason = ? WHERE id = ? AND deleted_at IS NULL`,
		at.UTC().Format(timeLayout), reason, id)
	if err != nil {
		return false, fmt.Errorf("void payment: %w", err)
	}
	return updatedOne(res, "void payment")
}

// updatedOne reports whether a set-once UPDATE changed its row.
func updatedOne(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n > 0, nil
}

// classifyInsertError maps unique violations to the sentinel errors the
// services layer reacts to.
func classifyInsertError(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code&0xff == sqlite3.SQLITE_CONSTRAINT {
			msg := se.Error()
			switch {
			case strings.Contains(msg, "receipt_number"):
				return fmt.Errorf("insert payment: %w", core.ErrReceiptConflict)
			case strings.Contains(msg, "idempotency_key"):
				return fmt.Errorf("insert payment: %w", ErrDuplicateIdempotencyKey)
			case strings.Contains(msg, "FOREIGN KEY"):
				return fmt.Errorf("insert payment: %w", core.ErrStudentNotFound)
			}
		}
	}
	return fmt.Errorf("insert payment: %w", err)
}

func getStudent(ctx context.Context, q querier, id string) (core.Student, error) {
	var s core.Student
	err := q.QueryRowContext(ctx, `SELECT id, full_name, grade_level, section FROM students WHERE id = ?`, id).
		Scan(&s.ID, &s.FullName, &s.GradeLevel, &s.Section)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Student{}, core.ErrStudentNotFound
	}
	if err != nil {
		return core.Student{}, fmt.Errorf("get student: %w", err)
	}
	return s, nil
}

func getPayment(ctx context.Context, q querier, where string, arg any) (core.Payment, error) {
	row := q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments `+where, arg)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Payment{}, core.ErrPaymentNotFound
	}
	if err != nil {
		return core.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func listPayments(ctx context.Context, q querier, query string, args ...any) ([]core.Payment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var payments []core.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (core.Payment, error) {
	var (
		p                             core.Payment
		receipt, method, paymentDate  string
		createdAt                     string
		idemKey, printedAt, deletedAt sql.NullString
	)
	err := row.Scan(&p.ID, &p.StudentID, &p.RecordedBy, &receipt, &p.Amount.Cents, &paymentDate,
		&p.Purpose, &method, &p.Notes, &idemKey, &printedAt, &createdAt, &deletedAt, &p.VoidReason)
	if err != nil {
		return core.Payment{}, err
	}

	p.ReceiptNumber = core.ReceiptNumber(receipt)
	p.Method = core.PaymentMethod(method)
	p.IdempotencyKey = idemKey.String
	if p.PaymentDate, err = core.ParseDate(paymentDate); err != nil {
		return core.Payment{}, fmt.Errorf("parse payment_date %q: %w", paymentDate, err)
	}
	if p.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return core.Payment{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	if p.PrintedAt, err = parseNullTime(printedAt); err != nil {
		return core.Payment{}, fmt.Errorf("parse printed_at: %w", err)
	}
	if p.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return core.Payment{}, fmt.Errorf("parse deleted_at: %w", err)
	}
	return p, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
