package server

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/config"
	"github.com/dmitrijs2005/gophsync/internal/server/lock"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophsync/internal/server/storage"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.LockExpiry = time.Minute
	return c
}

func TestNewObjectStore(t *testing.T) {
	c := testConfig()

	c.StorageBackend = config.StorageMemory
	s, err := newObjectStore(context.Background(), c)
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStore{}, s)

	c.StorageBackend = "tape"
	_, err = newObjectStore(context.Background(), c)
	require.ErrorContains(t, err, "tape")
}

func TestNewLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	app := &App{logger: logging.Nop()}
	repos := repomanager.NewPostgresRepositoryManager()
	clock := clockwork.NewFakeClock()
	c := testConfig()

	c.LockBackend = config.LockDB
	l, err := app.newLocker(c, repos, clock)
	require.NoError(t, err)
	assert.IsType(t, &lock.DBLocker{}, l)
	assert.Empty(t, app.closers)

	c.LockBackend = config.LockRedis
	c.RedisAddr = mr.Addr()
	l, err = app.newLocker(c, repos, clock)
	require.NoError(t, err)
	assert.IsType(t, &lock.RedisLocker{}, l)
	require.Len(t, app.closers, 1)

	ok, err := l.Acquire(context.Background(), "Uploader")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, app.Close())
	assert.Empty(t, app.closers)

	c.LockBackend = "zookeeper"
	_, err = app.newLocker(c, repos, clock)
	require.Error(t, err)
}

func TestNewLocker_RedisUnavailable(t *testing.T) {
	app := &App{logger: logging.Nop()}
	c := testConfig()
	c.LockBackend = config.LockRedis
	c.RedisAddr = "127.0.0.1:1"

	_, err := app.newLocker(c, repomanager.NewPostgresRepositoryManager(), clockwork.NewFakeClock())
	require.Error(t, err)
}
