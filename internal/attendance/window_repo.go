package attendance

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// WindowStore persists the singleton attendance window.
type WindowStore interface {
	Get(ctx context.Context) (Window, error)
	Open(ctx context.Context, adminID string, code *string, at time.Time) (Window, error)
	Close(ctx context.Context, at time.Time) (Window, error)
}

// WindowRepository keeps the window in a one-row Postgres table.
type WindowRepository struct {
	db *sql.DB
}

// NewWindowRepository creates a repo.
func NewWindowRepository(db *sql.DB) *WindowRepository {
	return &WindowRepository{db: db}
}

var _ WindowStore = (*WindowRepository)(nil)

const windowColumns = `is_open, verification_code, opened_by, opened_at, closed_at, updated_at`

func scanWindow(row rowScanner) (Window, error) {
	var w Window
	err := row.Scan(&w.IsOpen, &w.VerificationCode, &w.OpenedBy, &w.OpenedAt, &w.ClosedAt, &w.UpdatedAt)
	return w, err
}

// Get returns the window, creating the default CLOSED row on first read.
func (r *WindowRepository) Get(ctx context.Context) (Window, error) {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_window (id, is_open) VALUES (1, FALSE)
		ON CONFLICT (id) DO NOTHING
	`); err != nil {
		return Window{}, errors.Wrap(err, "ensure window")
	}
	w, err := scanWindow(r.db.QueryRowContext(ctx, `SELECT `+windowColumns+` FROM attendance_window WHERE id = 1`))
	return w, errors.Wrap(err, "get window")
}

// Open marks the window open, replacing any previous code and opener.
func (r *WindowRepository) Open(ctx context.Context, adminID string, code *string, at time.Time) (Window, error) {
	w, err := scanWindow(r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_window (id, is_open, verification_code, opened_by, opened_at, closed_at, updated_at)
		VALUES (1, TRUE, $1, $2, $3, NULL, $3)
		ON CONFLICT (id) DO UPDATE SET
			is_open = TRUE,
			verification_code = EXCLUDED.verification_code,
			opened_by = EXCLUDED.opened_by,
			opened_at = EXCLUDED.opened_at,
			closed_at = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING `+windowColumns, code, adminID, at))
	return w, errors.Wrap(err, "open window")
}

// Close marks the window closed at the given instant.
func (r *WindowRepository) Close(ctx context.Context, at time.Time) (Window, error) {
	w, err := scanWindow(r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_window (id, is_open, closed_at, updated_at)
		VALUES (1, FALSE, $1, $1)
		ON CONFLICT (id) DO UPDATE SET
			is_open = FALSE,
			closed_at = EXCLUDED.closed_at,
			updated_at = EXCLUDED.updated_at
		RETURNING `+windowColumns, at))
	return w, errors.Wrap(err, "close window")
}
