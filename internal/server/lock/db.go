package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/locks"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// DBLocker keeps locks as rows of the locks table.
type DBLocker struct {
	repo   locks.Repository
	clock  clockwork.Clock
	expiry time.Duration
	owner  string
	logger logging.Logger
}

// NewDBLocker returns a locker whose rows expire after expiry. Every locker
// gets its own owner token.
func NewDBLocker(repo locks.Repository, clock clockwork.Clock, expiry time.Duration, logger logging.Logger) *DBLocker {
	return &DBLocker{
		repo:   repo,
		clock:  clock,
		expiry: expiry,
		owner:  uuid.NewString(),
		logger: logger.With("module", "lock", "backend", "db"),
	}
}

func (l *DBLocker) Acquire(ctx context.Context, name string) (bool, error) {
	now := l.clock.Now()

	n, err := l.repo.RemoveStale(ctx, now)
	if err != nil {
		return false, fmt.Errorf("remove stale locks: %w", err)
	}
	if n > 0 {
		l.logger.Warn(ctx, "removed stale locks", "count", n)
	}

	ok, err := l.repo.TryAcquire(ctx, &models.Lock{Name: name, Owner: l.owner, Expiry: now.Add(l.expiry)}, now)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

func (l *DBLocker) Release(ctx context.Context, name string) error {
	ok, err := l.repo.Release(ctx, name, l.owner)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("release lock %s: %w", name, common.ErrLockNotHeld)
	}
	return nil
}
