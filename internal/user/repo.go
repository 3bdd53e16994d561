package user

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"bootcamptracker/internal/store"
)

// ErrDuplicate is returned when email or phone is already registered.
var ErrDuplicate = errors.New("email or phone already registered")

// Repository persists users in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Directory = (*Repository)(nil)

const selectUser = `
	SELECT id, email, phone, name, discord_username, role, sender_email, sender_app_password, created_at, updated_at
	FROM users`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		u                         User
		senderEmail, senderPasswd sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.Phone, &u.Name, &u.DiscordUsername, &u.Role, &senderEmail, &senderPasswd, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	if senderEmail.Valid && senderPasswd.Valid {
		u.Sender = &Sender{Email: senderEmail.String, AppPassword: senderPasswd.String}
	}
	return u, nil
}

func (r *Repository) findOne(ctx context.Context, where string, arg any) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, selectUser+" WHERE "+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "find user")
	}
	return &u, nil
}

// FindByEmail looks a user up case-insensitively.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, "lower(email) = $1", NormalizeEmail(email))
}

// FindByID looks a user up by id.
func (r *Repository) FindByID(ctx context.Context, id string) (*User, error) {
	return r.findOne(ctx, "id = $1", id)
}

// Create inserts u, filling id, role and timestamps when empty.
func (r *Repository) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleStudent
	}
	u.Email = NormalizeEmail(u.Email)
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	var senderEmail, senderPasswd *string
	if u.Sender != nil {
		senderEmail, senderPasswd = &u.Sender.Email, &u.Sender.AppPassword
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, phone, name, discord_username, role, sender_email, sender_app_password, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, u.ID, u.Email, u.Phone, u.Name, u.DiscordUsername, u.Role, senderEmail, senderPasswd, u.CreatedAt, u.UpdatedAt)
	if store.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return errors.Wrap(err, "insert user")
}

// UpdateRole changes a user's role and returns the updated record.
func (r *Repository) UpdateRole(ctx context.Context, id string, role Role) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `
		UPDATE users SET role = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, email, phone, name, discord_username, role, sender_email, sender_app_password, created_at, updated_at
	`, id, role))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "update role")
	}
	return &u, nil
}

// ListByRole returns every user holding role, ordered by creation.
func (r *Repository) ListByRole(ctx context.Context, role Role) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, selectUser+" WHERE role = $1 ORDER BY created_at", role)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	defer rows.Close()
	var res []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan user")
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
