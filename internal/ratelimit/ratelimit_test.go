package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLimiter(t *testing.T, perDomain, global int) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, perDomain, global)
}

func TestAllowWithinLimit(t *testing.T) {
	l := setupLimiter(t, 3, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "mail.example.com")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "send %d should be allowed", i+1)
	}

	d, err := l.Allow(ctx, "mail.example.com")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "domain", d.Reason)
	assert.Equal(t, int64(3), d.Current)
}

func TestDomainsHaveIndependentBudgets(t *testing.T) {
	l := setupLimiter(t, 1, 0)
	ctx := context.Background()

	d, err := l.Allow(ctx, "a.example.com")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "a.example.com")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = l.Allow(ctx, "b.example.com")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "other domain has its own window")
}

func TestGlobalLimitSpansDomains(t *testing.T) {
	l := setupLimiter(t, 0, 2)
	ctx := context.Background()

	for _, dom := range []string{"a.example.com", "b.example.com"} {
		d, err := l.Allow(ctx, dom)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := l.Allow(ctx, "c.example.com")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "global", d.Reason)
}

func TestNilClientAllowsEverything(t *testing.T) {
	l := New(nil, 1, 1)
	d, err := l.Allow(context.Background(), "mail.example.com")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
