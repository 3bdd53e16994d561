package attendance

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"bootcamptracker/internal/clock"
	"bootcamptracker/internal/store"
)

// ErrDuplicateDay is returned when a student already has a record for the day.
var ErrDuplicateDay = errors.New("attendance already recorded for this day")

// Ledger is the per-student, per-day attendance store.
type Ledger interface {
	FindInRange(ctx context.Context, studentID string, day clock.Range) (*Record, error)
	Insert(ctx context.Context, rec *Record) error
	InsertAbsent(ctx context.Context, studentIDs []string, day clock.Range) (int, error)
	StudentsRecordedIn(ctx context.Context, day clock.Range) (map[string]bool, error)
	ListByStudent(ctx context.Context, studentID string) ([]Record, error)
	ListByStudents(ctx context.Context, studentIDs []string) (map[string][]Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, id string, p Patch) (*Record, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Ledger = (*Repository)(nil)

const recordColumns = `id, student_id, status, mission, module, note, verification_code, recorded_at, day, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.Status, &rec.Mission, &rec.Module, &rec.Note,
		&rec.VerificationCode, &rec.Date, &rec.Day, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query attendance")
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan attendance")
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// FindInRange returns the student's record dated within day, if any.
func (r *Repository) FindInRange(ctx context.Context, studentID string, day clock.Range) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1 AND recorded_at BETWEEN $2 AND $3
		ORDER BY recorded_at
		LIMIT 1
	`, studentID, day.StartOfDay, day.EndOfDay))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "find attendance")
	}
	return &rec, nil
}

// Insert writes rec, filling id and timestamps. A second record for the same
// student and day yields ErrDuplicateDay.
func (r *Repository) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, rec.ID, rec.StudentID, rec.Status, rec.Mission, rec.Module, rec.Note, rec.VerificationCode,
		rec.Date, rec.Day, rec.CreatedAt, rec.UpdatedAt)
	if store.IsUniqueViolation(err) {
		return ErrDuplicateDay
	}
	return errors.Wrap(err, "insert attendance")
}

// InsertAbsent records ABSENT at the start of day for each student that has
// no record yet and returns how many rows were written.
func (r *Repository) InsertAbsent(ctx context.Context, studentIDs []string, day clock.Range) (int, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin sweep")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES ($1,$2,$3,0,0,NULL,NULL,$4,$5,NOW(),NOW())
		ON CONFLICT (student_id, day) DO NOTHING
	`)
	if err != nil {
		return 0, errors.Wrap(err, "prepare sweep")
	}
	defer stmt.Close()

	inserted := 0
	for _, id := range studentIDs {
		res, err := stmt.ExecContext(ctx, uuid.NewString(), id, StatusAbsent, day.StartOfDay, day.Day())
		if err != nil {
			return 0, errors.Wrapf(err, "mark %s absent", id)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit sweep")
	}
	return inserted, nil
}

// StudentsRecordedIn returns the ids of students with any record dated within day.
func (r *Repository) StudentsRecordedIn(ctx context.Context, day clock.Range) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT student_id FROM attendance_records
		WHERE recorded_at BETWEEN $1 AND $2
	`, day.StartOfDay, day.EndOfDay)
	if err != nil {
		return nil, errors.Wrap(err, "query recorded students")
	}
	defer rows.Close()
	res := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan recorded student")
		}
		res[id] = true
	}
	return res, rows.Err()
}

// ListByStudent returns a student's records, oldest first.
func (r *Repository) ListByStudent(ctx context.Context, studentID string) ([]Record, error) {
	return r.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE student_id = $1
		ORDER BY recorded_at, created_at
	`, studentID)
}

// ListByStudents groups the records of several students, each oldest first.
func (r *Repository) ListByStudents(ctx context.Context, studentIDs []string) (map[string][]Record, error) {
	res := make(map[string][]Record, len(studentIDs))
	if len(studentIDs) == 0 {
		return res, nil
	}
	recs, err := r.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE student_id = ANY($1)
		ORDER BY student_id, recorded_at, created_at
	`, studentIDs)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		res[rec.StudentID] = append(res[rec.StudentID], rec)
	}
	return res, nil
}

// Get returns a single record by id.
func (r *Repository) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get attendance")
	}
	return &rec, nil
}

// Update applies p to the record and returns it, or nil when it does not exist.
func (r *Repository) Update(ctx context.Context, id string, p Patch) (*Record, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+itoa(len(args)))
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.Mission != nil {
		add("mission", *p.Mission)
	}
	if p.Module != nil {
		add("module", *p.Module)
	}
	if p.Note != nil {
		add("note", *p.Note)
	}
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `
		UPDATE attendance_records SET `+strings.Join(sets, ", ")+`
		WHERE id = $1
		RETURNING `+recordColumns, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "update attendance")
	}
	return &rec, nil
}

// Delete removes a record and reports whether it existed.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendance_records WHERE id = $1`, id)
	if err != nil {
		return false, errors.Wrap(err, "delete attendance")
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func itoa(i int) string { return strconv.Itoa(i) }
