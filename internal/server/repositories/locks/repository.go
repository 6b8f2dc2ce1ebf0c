package locks

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

// Repository manages named lock rows.
type Repository interface {
	// TryAcquire inserts lock, or takes over an existing row with the same
	// name whose expiry is before now. It reports whether the caller holds the lock.
	TryAcquire(ctx context.Context, lock *models.Lock, now time.Time) (bool, error)
	// Release deletes the row only if it is still owned by owner.
	Release(ctx context.Context, name, owner string) (bool, error)
	Lookup(ctx context.Context, name string) (*models.Lock, error)
	RemoveStale(ctx context.Context, now time.Time) (int64, error)
}
