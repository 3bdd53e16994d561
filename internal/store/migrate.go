package store

import (
	"context"

	"github.com/pkg/errors"
)

// schema is applied idempotently at startup and by the admin CLI.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                  TEXT PRIMARY KEY,
		email               TEXT NOT NULL,
		phone               TEXT,
		name                TEXT,
		discord_username    TEXT,
		role                TEXT NOT NULL DEFAULT 'STUDENT',
		sender_email        TEXT,
		sender_app_password TEXT,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_key ON users (lower(email))`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_phone_key ON users (phone) WHERE phone IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS users_role_idx ON users (role)`,

	`CREATE TABLE IF NOT EXISTS attendance_window (
		id                SMALLINT PRIMARY KEY CHECK (id = 1),
		is_open           BOOLEAN NOT NULL DEFAULT FALSE,
		verification_code TEXT,
		opened_by         TEXT REFERENCES users(id) ON DELETE SET NULL,
		opened_at         TIMESTAMPTZ,
		closed_at         TIMESTAMPTZ,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS attendance_records (
		id                TEXT PRIMARY KEY,
		student_id        TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		status            TEXT NOT NULL CHECK (status IN ('ATTENDED', 'ABSENT')),
		mission           INTEGER NOT NULL DEFAULT 0,
		module            INTEGER NOT NULL DEFAULT 0,
		note              TEXT,
		verification_code TEXT,
		recorded_at       TIMESTAMPTZ NOT NULL,
		day               DATE NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_records_student_day_key ON attendance_records (student_id, day)`,
	`CREATE INDEX IF NOT EXISTS attendance_records_student_recorded_idx ON attendance_records (student_id, recorded_at DESC)`,
}

// Migrate creates tables and indexes when missing.
func (d *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migration step %d", i)
		}
	}
	return nil
}
