package user

import (
	"context"
	"strings"
	"time"
)

// Role is the access level of a user.
type Role string

const (
	RoleStudent    Role = "STUDENT"
	RoleSRM        Role = "SRM"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleSRM, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Staff reports whether r may manage other users' attendance.
func (r Role) Staff() bool {
	return r == RoleSRM || r == RoleAdmin || r == RoleSuperAdmin
}

// User is an identity record.
type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Phone           *string   `json:"phone,omitempty"`
	Name            *string   `json:"name,omitempty"`
	DiscordUsername *string   `json:"discordUsername,omitempty"`
	Role            Role      `json:"role"`
	Sender          *Sender   `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Sender is an optional outbound mail credential owned by staff users.
type Sender struct {
	Email       string
	AppPassword string
}

// Public is the projection returned to clients after login.
type Public struct {
	ID              string  `json:"id"`
	Email           string  `json:"email"`
	Name            *string `json:"name,omitempty"`
	Role            Role    `json:"role"`
	Phone           *string `json:"phone,omitempty"`
	DiscordUsername *string `json:"discordUsername,omitempty"`
}

// Public returns the client-safe projection of u.
func (u User) Public() Public {
	role := u.Role
	if role == "" {
		role = RoleStudent
	}
	return Public{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Role:            role,
		Phone:           u.Phone,
		DiscordUsername: u.DiscordUsername,
	}
}

// NormalizeEmail lowercases and trims an address for lookups and cache keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Directory is the user store consumed by the OTP and attendance flows.
// Lookups return (nil, nil) when the user does not exist.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, u *User) error
	UpdateRole(ctx context.Context, id string, role Role) (*User, error)
	ListByRole(ctx context.Context, role Role) ([]User, error)
}
