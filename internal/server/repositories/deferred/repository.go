package deferred

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

// Repository is the deferred work store.
type Repository interface {
	Add(ctx context.Context, item *models.DeferredWork) (int64, error)
	SelectByStatus(ctx context.Context, status models.WorkStatus) ([]*models.DeferredWork, error)
	SelectPendingChangesForFileGroup(ctx context.Context, sharingGroupID, fileGroupID string) ([]*models.DeferredWork, error)
	DeleteByID(ctx context.Context, id int64) error
	DeleteIfEmpty(ctx context.Context, id int64) (bool, error)
	MarkCompleted(ctx context.Context, id int64, at time.Time) error
	PurgeCompleted(ctx context.Context, before time.Time) (int64, error)
}
