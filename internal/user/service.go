package user

import (
	"context"
	"errors"

	"github.com/labstack/gommon/log"

	"bootcamptracker/internal/apperr"
)

// CacheKey is where a resolved user is cached after OTP login.
func CacheKey(email string) string {
	return "user:" + NormalizeEmail(email)
}

// Cache is the subset of the cache store the service needs.
type Cache interface {
	Delete(ctx context.Context, keys ...string) error
}

// Service implements user registration and role assignment.
type Service struct {
	dir   Directory
	cache Cache
	log   *log.Logger
}

// NewService creates a user service.
func NewService(dir Directory, cache Cache, logger *log.Logger) *Service {
	return &Service{dir: dir, cache: cache, log: logger}
}

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Email           string
	Phone           *string
	Name            *string
	DiscordUsername *string
	Role            Role
}

// Register creates a new user. Role defaults to STUDENT.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if in.Role == "" {
		in.Role = RoleStudent
	}
	if !in.Role.Valid() {
		return nil, apperr.BadRequest("Invalid role")
	}
	existing, err := s.dir.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, apperr.Internal("Failed to look up user", err)
	}
	if existing != nil {
		return nil, apperr.BadRequest("User with this email already exists")
	}

	u := &User{
		Email:           NormalizeEmail(in.Email),
		Phone:           in.Phone,
		Name:            in.Name,
		DiscordUsername: in.DiscordUsername,
		Role:            in.Role,
	}
	if err := s.dir.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.BadRequest("User with this email or phone already exists")
		}
		return nil, apperr.Internal("Failed to create user", err)
	}
	s.log.Infof("registered %s as %s", u.Email, u.Role)
	return u, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := s.dir.FindByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal("Failed to look up user", err)
	}
	if u == nil {
		return nil, apperr.NotFound("User not found")
	}
	return u, nil
}

// UpdateRole assigns role to the user and drops its cached login record so
// the next token carries the new role.
func (s *Service) UpdateRole(ctx context.Context, id string, role Role) (*User, error) {
	if !role.Valid() {
		return nil, apperr.BadRequest("Invalid role")
	}
	u, err := s.dir.UpdateRole(ctx, id, role)
	if err != nil {
		return nil, apperr.Internal("Failed to update role", err)
	}
	if u == nil {
		return nil, apperr.NotFound("User not found")
	}
	if err := s.cache.Delete(ctx, CacheKey(u.Email)); err != nil {
		s.log.Warnf("drop cached user %s: %v", u.Email, err)
	}
	return u, nil
}
