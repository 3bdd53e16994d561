package user

import (
	"context"

	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"
)

// Seed creates each user whose email is not registered yet and returns how
// many were created. Running it again is a no-op.
func Seed(ctx context.Context, dir Directory, logger *log.Logger, users ...User) (int, error) {
	created := 0
	for _, u := range users {
		existing, err := dir.FindByEmail(ctx, u.Email)
		if err != nil {
			return created, errors.Wrapf(err, "look up %s", u.Email)
		}
		if existing != nil {
			logger.Infof("%s user %s already exists", u.Role, u.Email)
			continue
		}
		u := u
		if err := dir.Create(ctx, &u); err != nil {
			return created, errors.Wrapf(err, "create %s", u.Email)
		}
		logger.Infof("%s user %s created", u.Role, u.Email)
		created++
	}
	return created, nil
}

func strp(s string) *string { return &s }

// DefaultAdmins, DefaultSuperAdmins and DefaultSRMs are the bootstrap accounts.
var (
	DefaultAdmins = []User{
		{Name: strp("Admin User"), Email: "admin@bootcamp-tracker.com", Phone: strp("+8801700000001"), Role: RoleAdmin},
	}
	DefaultSuperAdmins = []User{
		{Name: strp("Super Admin"), Email: "superadmin@bootcamp-tracker.com", Phone: strp("+8801700000000"), Role: RoleSuperAdmin},
	}
	DefaultSRMs = []User{
		{Name: strp("SRM User 1"), Email: "srm1@bootcamp-tracker.com", Phone: strp("+8801700000002"), Role: RoleSRM},
		{Name: strp("SRM User 2"), Email: "srm2@bootcamp-tracker.com", Phone: strp("+8801700000003"), Role: RoleSRM},
		{Name: strp("SRM User 3"), Email: "srm3@bootcamp-tracker.com", Phone: strp("+8801700000004"), Role: RoleSRM},
	}
)
