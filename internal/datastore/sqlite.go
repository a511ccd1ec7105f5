package datastore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "feeflow/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

func parseTime(s string) (time.Time, error) { return time.Parse(timeFormat, s) }

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func (s *sqliteStore) StudentsWithActiveSubscription(ctx context.Context, month, year int) ([]Student, error) {
	start, next := periodRange(month, year)
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.id, st.name, COALESCE(st.guardian_name, ''), COALESCE(st.guardian_contact, '')
		FROM students st
		JOIN subscriptions sub ON sub.student_id = st.id
		WHERE sub.active = 1
		  AND sub.start_date < ?
		  AND (sub.end_date IS NULL OR sub.end_date >= ?)
		ORDER BY st.id`,
		formatTime(next), formatTime(start),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.Name, &st.GuardianName, &st.GuardianContact); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqliteStore) StudentByID(ctx context.Context, id string) (Student, error) {
	var st Student
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(guardian_name, ''), COALESCE(guardian_contact, '')
		FROM students WHERE id = ?`, id,
	).Scan(&st.ID, &st.Name, &st.GuardianName, &st.GuardianContact)
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, ErrNotFound
	}
	return st, err
}

func (s *sqliteStore) SubscriptionFor(ctx context.Context, studentID string, month, year int) (Subscription, error) {
	var (
		sub      Subscription
		startRaw string
		endRaw   sql.NullString
		active   int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT student_id, fee_structure_id, start_date, end_date, active
		FROM subscriptions WHERE student_id = ?`, studentID,
	).Scan(&sub.StudentID, &sub.FeeStructureID, &startRaw, &endRaw, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, err
	}
	sub.Active = active != 0
	if sub.StartDate, err = parseTime(startRaw); err != nil {
		return Subscription{}, fmt.Errorf("parse start_date: %w", err)
	}
	if sub.EndDate, err = parseTimePtr(endRaw); err != nil {
		return Subscription{}, fmt.Errorf("parse end_date: %w", err)
	}
	if !sub.covers(month, year) {
		return Subscription{}, ErrNotFound
	}
	return sub, nil
}

func (s *sqliteStore) FeeStructureByID(ctx context.Context, id string) (FeeStructure, error) {
	var f FeeStructure
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, monthly_amount FROM fee_structures WHERE id = ?`, id,
	).Scan(&f.ID, &f.Name, &f.MonthlyAmount)
	if errors.Is(err, sql.ErrNoRows) {
		return FeeStructure{}, ErrNotFound
	}
	return f, err
}

func (s *sqliteStore) DiscountFor(ctx context.Context, studentID string) (Discount, error) {
	var d Discount
	err := s.db.QueryRowContext(ctx,
		`SELECT student_id, percent FROM discounts WHERE student_id = ?`, studentID,
	).Scan(&d.StudentID, &d.Percent)
	if errors.Is(err, sql.ErrNoRows) {
		return Discount{}, ErrNotFound
	}
	return d, err
}

func (s *sqliteStore) UpsertFeeAllocation(ctx context.Context, a FeeAllocation) error {
	now := time.Now()
	status := a.Status
	if status == "" {
		status = AllocationPending
	}
	// Re-billing refreshes amount and due date but never resets status.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fee_allocations (student_id, month, year, amount, status, due_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(student_id, month, year) DO UPDATE SET
			amount = excluded.amount,
			due_date = excluded.due_date,
			updated_at = excluded.updated_at`,
		a.StudentID, a.Month, a.Year, a.Amount, string(status),
		formatTime(a.DueDate), formatTime(now), formatTime(now),
	)
	return err
}

func (s *sqliteStore) PendingFeeAllocations(ctx context.Context) ([]FeeAllocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT student_id, month, year, amount, status, due_date, created_at, updated_at
		FROM fee_allocations WHERE status = ? ORDER BY student_id`,
		string(AllocationPending),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FeeAllocation
	for rows.Next() {
		var (
			a                          FeeAllocation
			status                     string
			dueRaw, createdRaw, updRaw string
		)
		if err := rows.Scan(&a.StudentID, &a.Month, &a.Year, &a.Amount, &status, &dueRaw, &createdRaw, &updRaw); err != nil {
			return nil, err
		}
		a.Status = AllocationStatus(status)
		if a.DueDate, err = parseTime(dueRaw); err != nil {
			return nil, fmt.Errorf("parse due_date: %w", err)
		}
		if a.CreatedAt, err = parseTime(createdRaw); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if a.UpdatedAt, err = parseTime(updRaw); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RecordJobRun(ctx context.Context, r JobRunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, job_type, status, started_at, finished_at, total_items, successful_items, failed_items, error_msg)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			total_items = excluded.total_items,
			successful_items = excluded.successful_items,
			failed_items = excluded.failed_items,
			error_msg = excluded.error_msg`,
		r.ID, r.JobType, r.Status, formatTime(r.StartedAt), formatTimePtr(r.FinishedAt),
		r.TotalItems, r.SuccessfulItems, r.FailedItems, nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) ListJobRuns(ctx context.Context, jobType string, limit int) ([]JobRunRecord, error) {
	query := `SELECT id, job_type, status, started_at, finished_at, total_items, successful_items, failed_items, COALESCE(error_msg, '')
		FROM job_runs`
	var args []any
	if jobType != "" {
		query += " WHERE job_type = ?"
		args = append(args, jobType)
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRunRecord
	for rows.Next() {
		var (
			r           JobRunRecord
			startedRaw  string
			finishedRaw sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.JobType, &r.Status, &startedRaw, &finishedRaw,
			&r.TotalItems, &r.SuccessfulItems, &r.FailedItems, &r.Error); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTime(startedRaw); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if r.FinishedAt, err = parseTimePtr(finishedRaw); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
