package user

import (
	"context"
	"testing"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeed_Idempotent(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	logger := log.New("seed-test")

	n, err := Seed(ctx, dir, logger, DefaultSRMs...)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = Seed(ctx, dir, logger, DefaultSRMs...)
	require.NoError(t, err)
	assert.Zero(t, n)

	srms, err := dir.ListByRole(ctx, RoleSRM)
	require.NoError(t, err)
	assert.Len(t, srms, 3)
}

func TestSeed_DoesNotMutateDefaults(t *testing.T) {
	_, err := Seed(context.Background(), NewMemory(), log.New("seed-test"), DefaultAdmins...)
	require.NoError(t, err)
	assert.Empty(t, DefaultAdmins[0].ID)
}
