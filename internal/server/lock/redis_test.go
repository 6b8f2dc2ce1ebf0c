package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisPair(t *testing.T) (*miniredis.Miniredis, *RedisLocker, *RedisLocker) {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	a, err := NewRedisLocker(srv.Addr(), time.Minute, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	b, err := NewRedisLocker(srv.Addr(), time.Minute, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return srv, a, b
}

func TestRedisLocker_Exclusive(t *testing.T) {
	_, a, b := newRedisPair(t)
	ctx := context.Background()

	ok, err := a.Acquire(ctx, "Uploader")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, "Uploader")
	require.NoError(t, err)
	assert.False(t, ok)

	require.ErrorIs(t, b.Release(ctx, "Uploader"), common.ErrLockNotHeld)
	require.NoError(t, a.Release(ctx, "Uploader"))

	ok, err = b.Acquire(ctx, "Uploader")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_Expiry(t *testing.T) {
	srv, a, b := newRedisPair(t)
	ctx := context.Background()

	ok, err := a.Acquire(ctx, "Uploader")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, srv.Exists(redisKeyPrefix+"Uploader"))

	srv.FastForward(2 * time.Minute)

	ok, err = b.Acquire(ctx, "Uploader")
	require.NoError(t, err)
	assert.True(t, ok)
	require.ErrorIs(t, a.Release(ctx, "Uploader"), common.ErrLockNotHeld)
}

func TestRedisLocker_CanceledContext(t *testing.T) {
	_, a, _ := newRedisPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Acquire(ctx, "Uploader")
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRedisLocker_Unreachable(t *testing.T) {
	srv, err := miniredis.Run()
	require.NoError(t, err)
	addr := srv.Addr()
	srv.Close()

	_, err = NewRedisLocker(addr, time.Minute, logging.Nop())
	require.Error(t, err)
}
