package user

import (
	"context"
	"errors"
	"testing"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bootcamptracker/internal/apperr"
)

type fakeCache struct {
	deleted []string
	err     error
}

func (f *fakeCache) Delete(_ context.Context, keys ...string) error {
	f.deleted = append(f.deleted, keys...)
	return f.err
}

func newTestService(users ...User) (*Service, *Memory, *fakeCache) {
	dir := NewMemory(users...)
	c := &fakeCache{}
	return NewService(dir, c, log.New("test")), dir, c
}

func strPtr(s string) *string { return &s }

func TestService_Register(t *testing.T) {
	svc, dir, _ := newTestService(User{Email: "taken@example.com", Phone: strPtr("017")})
	ctx := context.Background()

	tests := []struct {
		name string
		in   RegisterInput
		kind apperr.Kind
		ok   bool
	}{
		{"defaults to student", RegisterInput{Email: "  New@Example.com "}, 0, true},
		{"explicit srm", RegisterInput{Email: "srm@example.com", Role: RoleSRM}, 0, true},
		{"invalid role", RegisterInput{Email: "x@example.com", Role: "MENTOR"}, apperr.KindBadRequest, false},
		{"duplicate email any case", RegisterInput{Email: "TAKEN@example.com"}, apperr.KindBadRequest, false},
		{"duplicate phone", RegisterInput{Email: "other@example.com", Phone: strPtr("017")}, apperr.KindBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := svc.Register(ctx, tt.in)
			if !tt.ok {
				require.Error(t, err)
				assert.Equal(t, tt.kind, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, u.ID)
			stored, err := dir.FindByEmail(ctx, tt.in.Email)
			require.NoError(t, err)
			require.NotNil(t, stored)
			assert.Equal(t, NormalizeEmail(tt.in.Email), stored.Email)
		})
	}

	u, err := dir.FindByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, RoleStudent, u.Role)
}

func TestService_UpdateRole_InvalidatesCachedLogin(t *testing.T) {
	svc, dir, c := newTestService()
	ctx := context.Background()
	u := &User{Email: "Mentor@Example.com"}
	require.NoError(t, dir.Create(ctx, u))

	updated, err := svc.UpdateRole(ctx, u.ID, RoleSRM)
	require.NoError(t, err)
	assert.Equal(t, RoleSRM, updated.Role)
	assert.Equal(t, []string{"user:mentor@example.com"}, c.deleted)

	_, err = svc.UpdateRole(ctx, "nope", RoleAdmin)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = svc.UpdateRole(ctx, u.ID, "OWNER")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestService_UpdateRole_CacheFailureIsNotFatal(t *testing.T) {
	svc, dir, c := newTestService()
	c.err = errors.New("redis down")
	ctx := context.Background()
	u := &User{Email: "a@example.com"}
	require.NoError(t, dir.Create(ctx, u))

	_, err := svc.UpdateRole(ctx, u.ID, RoleAdmin)
	assert.NoError(t, err)
}

func TestService_Get(t *testing.T) {
	svc, dir, _ := newTestService()
	ctx := context.Background()
	u := &User{Email: "a@example.com"}
	require.NoError(t, dir.Create(ctx, u))

	got, err := svc.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)

	_, err = svc.Get(ctx, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUser_PublicDefaultsRole(t *testing.T) {
	p := User{ID: "1", Email: "a@example.com", Sender: &Sender{Email: "s", AppPassword: "secret"}}.Public()
	assert.Equal(t, RoleStudent, p.Role)
	assert.Equal(t, "a@example.com", p.Email)
}
