package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLockMutualExclusion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	a := NewRedisLock(client, "campaign:c1", time.Minute)
	b := NewRedisLock(client, "campaign:c1", time.Minute)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must lose")

	require.NoError(t, a.Release(ctx))
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "released lock is acquirable")
}

func TestRedisLockReleaseRequiresOwnership(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	a := NewRedisLock(client, "campaign:c1", time.Minute)
	b := NewRedisLock(client, "campaign:c1", time.Minute)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// b never held the lock, so its release must not free a's.
	require.NoError(t, b.Release(ctx))
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLockExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	a := NewRedisLock(client, "campaign:c1", time.Second)
	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	b := NewRedisLock(client, "campaign:c1", time.Second)
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "TTL expiry frees a crashed holder's lock")
}

func TestAdvisoryLockPinsOneSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WillReturnResult(sqlmock.NewResult(0, 0))

	l := NewAdvisoryLock(db, "campaign:c1")
	ok, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, l.conn, "winning acquire keeps its connection")

	require.NoError(t, l.Release(ctx))
	assert.Nil(t, l.conn, "release returns the connection to the pool")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLockLosingAcquireHoldsNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	l := NewAdvisoryLock(db, "campaign:c1")
	ok, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, l.conn)

	// Release without a held lock issues no unlock.
	require.NoError(t, l.Release(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockKeyHashingIsStable(t *testing.T) {
	a := NewAdvisoryLock(nil, "campaign:c1")
	b := NewAdvisoryLock(nil, "campaign:c1")
	c := NewAdvisoryLock(nil, "campaign:c2")
	assert.Equal(t, a.lockID, b.lockID)
	assert.NotEqual(t, a.lockID, c.lockID)
}
