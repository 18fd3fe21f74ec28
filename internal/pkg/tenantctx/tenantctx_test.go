package tenantctx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	ctx := context.Background()

	_, ok := FromContext(ctx)
	assert.False(t, ok)

	id, ok := FromContext(WithTenant(ctx, 42))
	assert.True(t, ok)
	assert.Equal(t, TenantID(42), id)
}

func TestFromContext_ZeroTenantIsUnset(t *testing.T) {
	_, ok := FromContext(WithTenant(context.Background(), 0))
	assert.False(t, ok)
}

func TestMustFromContext_PanicsWithoutBinding(t *testing.T) {
	assert.Panics(t, func() {
		MustFromContext(context.Background())
	})
}

func TestRunWithTenant(t *testing.T) {
	var seen TenantID
	err := RunWithTenant(context.Background(), 7, func(ctx context.Context) error {
		seen = MustFromContext(ctx)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, TenantID(7), seen)
}

func TestRunWithTenant_PropagatesError(t *testing.T) {
	sentinel := errors.New("boom")
	err := RunWithTenant(context.Background(), 7, func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestRunWithTenant_RebindOverridesOuterTenant(t *testing.T) {
	outer := WithTenant(context.Background(), 1)
	err := RunWithTenant(outer, 2, func(ctx context.Context) error {
		assert.Equal(t, TenantID(2), MustFromContext(ctx))
		return nil
	})
	require.NoError(t, err)
	// the outer binding is untouched
	assert.Equal(t, TenantID(1), MustFromContext(outer))
}
